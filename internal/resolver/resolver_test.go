package resolver

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind RefKind
		wantID   string
		wantErr  bool
	}{
		{
			name:     "bare_podcast_id",
			input:    "682c566cc7c5f17595635a2c",
			wantKind: KindPodcast,
			wantID:   "682c566cc7c5f17595635a2c",
		},
		{
			name:     "podcast_url",
			input:    "https://www.xiaoyuzhoufm.com/podcast/61a9f093ca6141933d1a1c63",
			wantKind: KindPodcast,
			wantID:   "61a9f093ca6141933d1a1c63",
		},
		{
			name:     "episode_url",
			input:    "https://www.xiaoyuzhoufm.com/episode/64411602a79cc81470055c96",
			wantKind: KindEpisode,
			wantID:   "64411602a79cc81470055c96",
		},
		{
			name:     "episode_url_other_host",
			input:    "https://example.tld/episode/6888a0148e06fe8de74811af",
			wantKind: KindEpisode,
			wantID:   "6888a0148e06fe8de74811af",
		},
		{
			name:     "podcast_url_without_scheme",
			input:    "xiaoyuzhoufm.com/podcast/61a9f093ca6141933d1a1c63",
			wantKind: KindPodcast,
			wantID:   "61a9f093ca6141933d1a1c63",
		},
		{
			name:    "bare_id_wrong_length",
			input:   "61a9f093ca6141933d1a1c6",
			wantErr: true,
		},
		{
			name:    "bare_id_uppercase_rejected",
			input:   "61A9F093CA6141933D1A1C63",
			wantErr: true,
		},
		{
			name:    "unrelated_url",
			input:   "https://example.com/watch?v=abc",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := Resolve(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) expected error, got %+v", tt.input, ref)
				}
				var resErr *ResolutionError
				if !errors.As(err, &resErr) {
					t.Errorf("Resolve(%q) error type = %T, want *ResolutionError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.input, err)
			}
			if ref.Kind != tt.wantKind || ref.ID != tt.wantID {
				t.Errorf("Resolve(%q) = %v/%s, want %v/%s", tt.input, ref.Kind, ref.ID, tt.wantKind, tt.wantID)
			}
		})
	}
}

func TestResolveEquivalentForms(t *testing.T) {
	// all valid podcast forms for the same show resolve to the same Ref
	forms := []string{
		"61a9f093ca6141933d1a1c63",
		"https://www.xiaoyuzhoufm.com/podcast/61a9f093ca6141933d1a1c63",
		"https://xiaoyuzhoufm.com/podcast/61a9f093ca6141933d1a1c63?s=share",
	}
	want := Ref{Kind: KindPodcast, ID: "61a9f093ca6141933d1a1c63"}
	for _, f := range forms {
		got, err := Resolve(f)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", f, err)
		}
		if got != want {
			t.Errorf("Resolve(%q) = %+v, want %+v", f, got, want)
		}
	}
}
