// Package resolver normalizes user-supplied podcast/episode identifiers
// into typed references. It is pure string classification; nothing here
// touches the network.
package resolver

import (
	"fmt"
	"regexp"
)

// RefKind distinguishes podcast from episode references.
type RefKind int

const (
	KindPodcast RefKind = iota + 1
	KindEpisode
)

func (k RefKind) String() string {
	switch k {
	case KindPodcast:
		return "podcast"
	case KindEpisode:
		return "episode"
	default:
		return "unknown"
	}
}

// Ref is a resolved, typed reference to a podcast or episode.
type Ref struct {
	Kind RefKind
	ID   string
}

// ResolutionError reports input that matches no known identifier form.
type ResolutionError struct {
	Input string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unrecognized podcast or episode identifier: %q", e.Input)
}

// Platform IDs are 24 lowercase hex characters. URL forms are matched by
// path so that share links from any mirror host resolve.
var (
	episodeURLRe = regexp.MustCompile(`/episode/([0-9a-f]{24})`)
	podcastURLRe = regexp.MustCompile(`/podcast/([0-9a-f]{24})`)
	bareIDRe     = regexp.MustCompile(`^[0-9a-f]{24}$`)
)

// Resolve classifies text as an episode URL, podcast URL, or bare podcast
// ID, in that order. Bare episode IDs are not auto-detected: a bare ID is
// always treated as a podcast, which mirrors the platform convention that
// top-level targets default to shows.
func Resolve(text string) (Ref, error) {
	if m := episodeURLRe.FindStringSubmatch(text); m != nil {
		return Ref{Kind: KindEpisode, ID: m[1]}, nil
	}
	if m := podcastURLRe.FindStringSubmatch(text); m != nil {
		return Ref{Kind: KindPodcast, ID: m[1]}, nil
	}
	if bareIDRe.MatchString(text) {
		return Ref{Kind: KindPodcast, ID: text}, nil
	}
	return Ref{}, &ResolutionError{Input: text}
}
