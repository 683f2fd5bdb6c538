package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/shiquda/xyz-dl/internal/auth"
	"github.com/shiquda/xyz-dl/internal/config"
	"github.com/shiquda/xyz-dl/internal/resolver"
	"github.com/shiquda/xyz-dl/internal/retry"
)

// TokenSource supplies access tokens for authenticated requests. The
// session manager implements it; tests substitute fakes.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	DeviceID() string
	Invalidate(tok string)
}

// Client talks to the authenticated platform API: episode listing with
// cursor pagination, single-episode lookup, and the private-media URL
// exchange for paid content.
type Client struct {
	base     string
	httpc    *http.Client
	tokens   TokenSource
	pageSize int
	retry    retry.Policy
	log      *zap.Logger
}

func NewClient(tokens TokenSource, cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		base:     cfg.API.BaseURL,
		httpc:    &http.Client{Timeout: cfg.APITimeout()},
		tokens:   tokens,
		pageSize: cfg.API.PageSize,
		retry: retry.Policy{
			MaxAttempts: cfg.API.MaxRetries,
			BaseDelay:   cfg.RetryDelay(),
			Multiplier:  retry.DefaultMultiplier,
			Jitter:      0.2,
		},
		log: log.Named("catalog"),
	}
}

// ListEpisodes resolves ref into episode records in platform order
// (newest first). For an episode ref it yields exactly one record. For a
// podcast ref it pages through the list until exhaustion or until max
// records have been produced; no further page request is issued once max
// is reached. max <= 0 means unbounded.
func (c *Client) ListEpisodes(ctx context.Context, ref resolver.Ref, max int) ([]EpisodeRecord, error) {
	if ref.Kind == resolver.KindEpisode {
		rec, err := c.GetEpisode(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return []EpisodeRecord{rec}, nil
	}
	return c.listPodcast(ctx, ref.ID, max)
}

func (c *Client) listPodcast(ctx context.Context, pid string, max int) ([]EpisodeRecord, error) {
	var records []EpisodeRecord
	var cursor *loadMoreKey

	for page := 1; ; page++ {
		payload := listRequest{PID: pid, Limit: c.pageSize}
		if cursor != nil {
			payload.LoadMoreKey = cursor
			payload.Order = "desc"
		}

		var body []byte
		err := c.retry.Do(ctx, func() error {
			var derr error
			body, derr = c.do(ctx, http.MethodPost, "/v1/episode/list", nil, payload)
			return derr
		})
		if err != nil {
			return nil, c.asCatalogError(err, pid)
		}

		var list listResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, &CatalogError{Kind: CatalogUnreachable, Target: pid,
				Err: fmt.Errorf("malformed list page %d: %w", page, err)}
		}
		if len(list.Data) == 0 {
			break
		}

		var last episodeWire
		for _, raw := range list.Data {
			var w episodeWire
			if err := json.Unmarshal(raw, &w); err != nil {
				return nil, &CatalogError{Kind: CatalogUnreachable, Target: pid,
					Err: fmt.Errorf("malformed episode on page %d: %w", page, err)}
			}
			last = w
			records = append(records, c.resolveEntitlement(ctx, w.record(raw)))
			if max > 0 && len(records) >= max {
				c.log.Debug("episode cap reached", zap.Int("max", max), zap.Int("pages", page))
				return records, nil
			}
		}

		// a short page means the listing is exhausted
		if len(list.Data) < c.pageSize {
			break
		}
		cursor = &loadMoreKey{Direction: "NEXT", PubDate: last.PubDate, ID: last.EID}
	}

	c.log.Debug("episode listing complete", zap.String("pid", pid), zap.Int("count", len(records)))
	return records, nil
}

// GetEpisode fetches a single episode by id.
func (c *Client) GetEpisode(ctx context.Context, eid string) (EpisodeRecord, error) {
	var body []byte
	err := c.retry.Do(ctx, func() error {
		var derr error
		body, derr = c.do(ctx, http.MethodGet, "/v1/episode/get", url.Values{"eid": {eid}}, nil)
		return derr
	})
	if err != nil {
		return EpisodeRecord{}, c.asCatalogError(err, eid)
	}

	var resp episodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return EpisodeRecord{}, &CatalogError{Kind: CatalogUnreachable, Target: eid,
			Err: fmt.Errorf("malformed episode payload: %w", err)}
	}
	var w episodeWire
	if err := json.Unmarshal(resp.Data, &w); err != nil || w.EID == "" {
		return EpisodeRecord{}, &CatalogError{Kind: CatalogNotFound, Target: eid, Err: err}
	}
	return c.resolveEntitlement(ctx, w.record(resp.Data)), nil
}

// PodcastMeta returns the podcast summary embedded in the newest episode.
func (c *Client) PodcastMeta(ctx context.Context, pid string) (PodcastSummary, error) {
	records, err := c.listPodcast(ctx, pid, 1)
	if err != nil {
		return PodcastSummary{}, err
	}
	if len(records) == 0 {
		return PodcastSummary{PID: pid}, nil
	}
	var w episodeWire
	if err := json.Unmarshal(records[0].Raw, &w); err != nil {
		return PodcastSummary{PID: pid}, nil
	}
	return w.Podcast, nil
}

// PrivateMediaURL exchanges an episode id for the entitled asset URL of
// paid content. An empty URL with a nil error means the account has no
// entitlement.
func (c *Client) PrivateMediaURL(ctx context.Context, eid string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/private-media/get", url.Values{"eid": {eid}}, nil)
	if err != nil {
		return "", err
	}
	var resp privateMediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("malformed private media payload: %w", err)
	}
	return resp.Data.URL, nil
}

// resolveEntitlement upgrades a paid episode to its entitled URL when the
// account has access. A failed exchange leaves the record marked
// non-entitled; the engine still fetches the preview asset.
func (c *Client) resolveEntitlement(ctx context.Context, rec EpisodeRecord) EpisodeRecord {
	if rec.Entitled {
		return rec
	}
	mediaURL, err := c.PrivateMediaURL(ctx, rec.EID)
	if err != nil {
		c.log.Debug("private media lookup failed", zap.String("eid", rec.EID), zap.Error(err))
		return rec
	}
	if mediaURL == "" {
		c.log.Debug("no entitlement for paid episode", zap.String("eid", rec.EID))
		return rec
	}
	rec.AudioURL = mediaURL
	rec.Entitled = true
	return rec
}

// do issues one authenticated request. A 401 invalidates the session and
// retries once with a fresh token; every other failure is classified for
// the retry policy (permanent for wrong ids and rejected credentials,
// retryable for transport errors and 5xx).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, retry.Permanent(err)
		}
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, classifyAuthError(err)
	}

	resp, err := c.send(ctx, method, path, query, body, tok)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.log.Debug("request unauthorized, refreshing token", zap.String("path", path))
		c.tokens.Invalidate(tok)
		tok, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, classifyAuthError(err)
		}
		resp, err = c.send(ctx, method, path, query, body, tok)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		// the caller fills Target with the id the user typed
		return nil, retry.Permanent(&CatalogError{Kind: CatalogNotFound})
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	default:
		return nil, retry.Permanent(fmt.Errorf("%s returned status %d", path, resp.StatusCode))
	}
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte, tok string) (*http.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", "okhttp/4.10.0")
	req.Header.Set("applicationid", "app.podcast.cosmos")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-jike-access-token", tok)
	req.Header.Set("x-jike-device-id", c.tokens.DeviceID())
	return c.httpc.Do(req)
}

// classifyAuthError keeps credential problems permanent while letting
// transport-level token-fetch failures ride the page retry budget.
func classifyAuthError(err error) error {
	if auth.IsKind(err, auth.KindNetworkFailure) {
		return err
	}
	return retry.Permanent(err)
}

func (c *Client) asCatalogError(err error, target string) error {
	var ce *CatalogError
	if errors.As(err, &ce) {
		if ce.Target == "" {
			ce.Target = target
		}
		return err
	}
	var ae *auth.Error
	if errors.As(err, &ae) {
		return err
	}
	return &CatalogError{Kind: CatalogUnreachable, Target: target, Err: err}
}
