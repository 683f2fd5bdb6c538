package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/shiquda/xyz-dl/internal/config"
)

// WebResolver recovers public episode info from the share page when no
// credentials are configured. The page embeds the asset URL and titles in
// OpenGraph meta tags; paid episodes expose nothing this way.
type WebResolver struct {
	base  string
	httpc *http.Client
	log   *zap.Logger
}

func NewWebResolver(cfg config.Config, log *zap.Logger) *WebResolver {
	return &WebResolver{
		base:  cfg.API.WebBaseURL,
		httpc: &http.Client{Timeout: cfg.APITimeout()},
		log:   log.Named("web"),
	}
}

// ResolveEpisode scrapes the public episode page for its audio URL and
// titles.
func (r *WebResolver) ResolveEpisode(ctx context.Context, eid string) (EpisodeRecord, error) {
	pageURL := fmt.Sprintf("%s/episode/%s", r.base, eid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return EpisodeRecord{}, err
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return EpisodeRecord{}, &CatalogError{Kind: CatalogUnreachable, Target: eid, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return EpisodeRecord{}, &CatalogError{Kind: CatalogNotFound, Target: eid}
	}
	if resp.StatusCode != http.StatusOK {
		return EpisodeRecord{}, &CatalogError{Kind: CatalogUnreachable, Target: eid,
			Err: fmt.Errorf("episode page returned status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return EpisodeRecord{}, &CatalogError{Kind: CatalogUnreachable, Target: eid, Err: err}
	}

	audioURL, _ := doc.Find(`meta[property="og:audio"]`).First().Attr("content")
	title, _ := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	if audioURL == "" || title == "" {
		// private episodes render the page without the audio tag
		return EpisodeRecord{}, &CatalogError{Kind: CatalogNotFound, Target: eid,
			Err: fmt.Errorf("episode page carries no public audio url")}
	}

	podcastTitle := doc.Find(".podcast-title").First().Text()

	r.log.Debug("resolved episode from web page", zap.String("eid", eid), zap.String("title", title))
	return EpisodeRecord{
		EID:          eid,
		Title:        title,
		PodcastTitle: podcastTitle,
		AudioURL:     audioURL,
		Entitled:     true,
	}, nil
}
