package downloader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/shiquda/xyz-dl/internal/api"
	"github.com/shiquda/xyz-dl/internal/util/files"
)

// RunMetadataFile sits next to the downloaded audio while a run is
// incomplete; a clean run removes it.
const RunMetadataFile = "metadata.json"

type taskRecord struct {
	Index       int    `json:"index"`
	EID         string `json:"eid"`
	Title       string `json:"title"`
	PubDate     string `json:"pub_date"`
	File        string `json:"file"`
	State       string `json:"state"`
	Bytes       int64  `json:"bytes,omitempty"`
	Error       string `json:"error,omitempty"`
	Placeholder bool   `json:"placeholder_suspected,omitempty"`
}

type runMetadata struct {
	Podcast   string       `json:"podcast"`
	PodcastID string       `json:"podcast_id"`
	WrittenAt time.Time    `json:"written_at"`
	Episodes  []taskRecord `json:"episodes"`
}

// WriteRunMetadata persists the per-episode outcome of a run into the
// download directory so an interrupted or partly failed batch can be
// inspected and re-run.
func WriteRunMetadata(dir, podcastTitle, podcastID string, tasks []Task) error {
	meta := runMetadata{
		Podcast:   podcastTitle,
		PodcastID: podcastID,
		WrittenAt: time.Now(),
		Episodes: lo.Map(tasks, func(t Task, _ int) taskRecord {
			rec := taskRecord{
				Index:       t.Index,
				EID:         t.Episode.EID,
				Title:       t.Episode.Title,
				PubDate:     t.Episode.PubDateRaw,
				File:        filepath.Base(t.Destination),
				State:       t.State.String(),
				Bytes:       t.BytesWritten,
				Placeholder: t.PlaceholderSuspected,
			}
			if t.Err != nil {
				rec.Error = t.Err.Error()
			}
			return rec
		}),
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	if err := files.EnsureDir(dir); err != nil {
		return err
	}
	path := filepath.Join(dir, RunMetadataFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	return nil
}

// RemoveRunMetadata deletes the run manifest. Absence is not an error.
func RemoveRunMetadata(dir string) error {
	err := os.Remove(filepath.Join(dir, RunMetadataFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type catalogDump struct {
	PID       string            `json:"pid"`
	FetchedAt time.Time         `json:"fetched_at"`
	Count     int               `json:"count"`
	Episodes  []json.RawMessage `json:"episodes"`
}

// WriteCatalogDump stores the raw catalog records for a podcast under the
// data dir as <pid>.json, keeping the platform's original payloads intact
// for later inspection.
func WriteCatalogDump(dataDir, pid string, episodes []api.EpisodeRecord) error {
	if err := files.EnsureDir(dataDir); err != nil {
		return err
	}

	dump := catalogDump{
		PID:       pid,
		FetchedAt: time.Now(),
		Count:     len(episodes),
		Episodes: lo.Map(episodes, func(ep api.EpisodeRecord, _ int) json.RawMessage {
			return ep.Raw
		}),
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog dump: %w", err)
	}

	path := filepath.Join(dataDir, pid+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog dump: %w", err)
	}
	return nil
}

// ReadCatalogDump loads a previously written dump and rebuilds the
// episode records, in the order the catalog listed them (newest first).
func ReadCatalogDump(path string) ([]api.EpisodeRecord, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read catalog dump: %w", err)
	}

	var dump catalogDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, "", fmt.Errorf("parse catalog dump %s: %w", path, err)
	}

	episodes := make([]api.EpisodeRecord, 0, len(dump.Episodes))
	for i, raw := range dump.Episodes {
		rec, err := api.DecodeEpisode(raw)
		if err != nil {
			return nil, "", fmt.Errorf("catalog dump %s, episode %d: %w", path, i, err)
		}
		episodes = append(episodes, rec)
	}
	return episodes, dump.PID, nil
}
