package downloader

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiquda/xyz-dl/internal/api"
)

func TestWriteRunMetadata(t *testing.T) {
	dir := t.TempDir()
	tasks := []Task{
		{
			Index:        1,
			Episode:      api.EpisodeRecord{EID: "eid-1", Title: "First", PubDateRaw: "2024-03-01T12:00:00Z"},
			Destination:  filepath.Join(dir, "001. First.m4a"),
			State:        StateCompleted,
			BytesWritten: 4096,
		},
		{
			Index:       2,
			Episode:     api.EpisodeRecord{EID: "eid-2", Title: "Second"},
			Destination: filepath.Join(dir, "002. Second.m4a"),
			State:       StateFailed,
			Err:         errors.New("media server returned status 500"),
		},
	}

	require.NoError(t, WriteRunMetadata(dir, "My Show", "682c566cc7c5f17595635a2c", tasks))

	data, err := os.ReadFile(filepath.Join(dir, RunMetadataFile))
	require.NoError(t, err)

	var meta runMetadata
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, "My Show", meta.Podcast)
	assert.Equal(t, "682c566cc7c5f17595635a2c", meta.PodcastID)
	require.Len(t, meta.Episodes, 2)
	assert.Equal(t, "completed", meta.Episodes[0].State)
	assert.Equal(t, "001. First.m4a", meta.Episodes[0].File)
	assert.Equal(t, int64(4096), meta.Episodes[0].Bytes)
	assert.Empty(t, meta.Episodes[0].Error)
	assert.Equal(t, "failed", meta.Episodes[1].State)
	assert.Contains(t, meta.Episodes[1].Error, "status 500")
}

func TestRemoveRunMetadata(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteRunMetadata(dir, "Show", "pid", nil))
	require.FileExists(t, filepath.Join(dir, RunMetadataFile))

	require.NoError(t, RemoveRunMetadata(dir))
	assert.NoFileExists(t, filepath.Join(dir, RunMetadataFile))

	// absence is fine
	assert.NoError(t, RemoveRunMetadata(dir))
}

func TestWriteCatalogDump(t *testing.T) {
	dir := t.TempDir()
	episodes := []api.EpisodeRecord{
		{EID: "a", Raw: json.RawMessage(`{"eid":"a","title":"one"}`)},
		{EID: "b", Raw: json.RawMessage(`{"eid":"b","title":"two"}`)},
	}

	require.NoError(t, WriteCatalogDump(dir, "682c566cc7c5f17595635a2c", episodes))

	data, err := os.ReadFile(filepath.Join(dir, "682c566cc7c5f17595635a2c.json"))
	require.NoError(t, err)

	var dump catalogDump
	require.NoError(t, json.Unmarshal(data, &dump))
	assert.Equal(t, "682c566cc7c5f17595635a2c", dump.PID)
	assert.Equal(t, 2, dump.Count)
	assert.False(t, dump.FetchedAt.IsZero())
	require.Len(t, dump.Episodes, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(dump.Episodes[0], &first))
	assert.Equal(t, "one", first["title"])
}

func TestCatalogDumpRoundtrip(t *testing.T) {
	dir := t.TempDir()
	written := []api.EpisodeRecord{
		{EID: "b", Raw: json.RawMessage(`{"eid":"b","title":"Newest","pid":"pid-1",` +
			`"enclosure":{"url":"https://cdn.example/b.m4a"},"podcast":{"title":"My Show"}}`)},
		{EID: "a", Raw: json.RawMessage(`{"eid":"a","title":"Oldest","pid":"pid-1",` +
			`"enclosure":{"url":"https://cdn.example/a.m4a"}}`)},
	}
	require.NoError(t, WriteCatalogDump(dir, "pid-1", written))

	episodes, pid, err := ReadCatalogDump(filepath.Join(dir, "pid-1.json"))
	require.NoError(t, err)

	assert.Equal(t, "pid-1", pid)
	require.Len(t, episodes, 2)
	assert.Equal(t, "b", episodes[0].EID)
	assert.Equal(t, "Newest", episodes[0].Title)
	assert.Equal(t, "https://cdn.example/b.m4a", episodes[0].AudioURL)
	assert.Equal(t, "My Show", episodes[0].PodcastTitle)
	assert.Equal(t, "a", episodes[1].EID)
}

func TestReadCatalogDumpRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, _, err := ReadCatalogDump(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, _, err = ReadCatalogDump(bad)
	require.Error(t, err)
}
