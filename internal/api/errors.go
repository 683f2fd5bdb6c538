package api

import (
	"errors"
	"fmt"
)

// CatalogErrorKind separates "the id is wrong" from "the platform is
// unreachable" so callers retry only the latter.
type CatalogErrorKind int

const (
	CatalogNotFound CatalogErrorKind = iota + 1
	CatalogUnreachable
)

func (k CatalogErrorKind) String() string {
	switch k {
	case CatalogNotFound:
		return "not found"
	case CatalogUnreachable:
		return "unreachable"
	default:
		return "catalog error"
	}
}

// CatalogError is the terminal error surfaced by the catalog client.
type CatalogError struct {
	Kind   CatalogErrorKind
	Target string
	Err    error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog %s: %s: %v", e.Target, e.Kind, e.Err)
	}
	return fmt.Sprintf("catalog %s: %s", e.Target, e.Kind)
}

func (e *CatalogError) Unwrap() error { return e.Err }

func (e *CatalogError) Is(target error) bool {
	t, ok := target.(*CatalogError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsCatalogKind reports whether err is a catalog error of the given kind.
func IsCatalogKind(err error, kind CatalogErrorKind) bool {
	var ce *CatalogError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
