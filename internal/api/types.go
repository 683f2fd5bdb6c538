package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire shapes for the platform API. Only the fields the pipeline relies on
// are typed; everything else rides along opaquely in EpisodeRecord.Raw.

type Enclosure struct {
	URL string `json:"url"`
}

type Source struct {
	Mode string `json:"mode"`
	URL  string `json:"url"`
}

type Media struct {
	ID       string `json:"id"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Source   Source `json:"source"`
}

// PodcastSummary is the podcast object embedded in episode payloads.
type PodcastSummary struct {
	PID          string `json:"pid"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	EpisodeCount int    `json:"episodeCount"`
}

type episodeWire struct {
	EID            string         `json:"eid"`
	PID            string         `json:"pid"`
	Title          string         `json:"title"`
	Duration       int            `json:"duration"`
	PubDate        string         `json:"pubDate"`
	IsPrivateMedia bool           `json:"isPrivateMedia"`
	Enclosure      Enclosure      `json:"enclosure"`
	Media          Media          `json:"media"`
	Podcast        PodcastSummary `json:"podcast"`
}

// loadMoreKey is the pagination cursor: the platform walks the list from
// the given record onward. It is rebuilt from the last record of each page
// rather than echoed from the response.
type loadMoreKey struct {
	Direction string `json:"direction"`
	PubDate   string `json:"pubDate"`
	ID        string `json:"id"`
}

type listRequest struct {
	PID         string       `json:"pid"`
	Limit       int          `json:"limit"`
	Order       string       `json:"order,omitempty"`
	LoadMoreKey *loadMoreKey `json:"loadMoreKey,omitempty"`
}

type listResponse struct {
	Data []json.RawMessage `json:"data"`
}

type episodeResponse struct {
	Data json.RawMessage `json:"data"`
}

type privateMediaResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// privateMediaHost marks asset URLs the account is already entitled to.
const privateMediaHost = "private-media.xyzcdn.net"

// EpisodeRecord is the typed, read-only episode view handed to the
// download engine. Raw preserves the full platform payload for metadata
// dumps; nothing downstream depends on its contents.
type EpisodeRecord struct {
	EID          string
	Title        string
	PodcastID    string
	PodcastTitle string
	PubDate      time.Time
	PubDateRaw   string
	AudioURL     string
	Duration     int
	// ExpectedSize is the media size reported by the catalog, 0 when the
	// platform omits it; the engine re-probes before transfer either way.
	ExpectedSize int64
	// Entitled is false when the account has no access to the full asset
	// and the platform will serve a placeholder instead.
	Entitled bool
	Raw      json.RawMessage
}

// DecodeEpisode rebuilds an episode record from a raw platform payload,
// as preserved in catalog dumps.
func DecodeEpisode(raw json.RawMessage) (EpisodeRecord, error) {
	var w episodeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return EpisodeRecord{}, fmt.Errorf("decode episode payload: %w", err)
	}
	if w.EID == "" {
		return EpisodeRecord{}, fmt.Errorf("episode payload has no eid")
	}
	return w.record(raw), nil
}

func (w episodeWire) record(raw json.RawMessage) EpisodeRecord {
	pubDate, _ := time.Parse(time.RFC3339, w.PubDate)
	return EpisodeRecord{
		EID:          w.EID,
		Title:        w.Title,
		PodcastID:    w.PID,
		PodcastTitle: w.Podcast.Title,
		PubDate:      pubDate,
		PubDateRaw:   w.PubDate,
		AudioURL:     w.Enclosure.URL,
		Duration:     w.Duration,
		ExpectedSize: w.Media.Size,
		Entitled:     !w.IsPrivateMedia || strings.Contains(w.Enclosure.URL, privateMediaHost),
		Raw:          raw,
	}
}
