package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies authentication failures so callers can decide
// between retrying the call (NetworkFailure) and asking the user for new
// credentials (InvalidCredentials, ExpiredRefreshToken).
type ErrorKind int

const (
	KindInvalidCredentials ErrorKind = iota + 1
	KindExpiredRefreshToken
	KindNetworkFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindExpiredRefreshToken:
		return "expired refresh token"
	case KindNetworkFailure:
		return "network failure"
	default:
		return "auth error"
	}
}

// Error is the authentication error surfaced by this package.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two auth errors by kind, so callers can use
// errors.Is(err, &auth.Error{Kind: auth.KindNetworkFailure}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether err is an auth error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == kind
}
