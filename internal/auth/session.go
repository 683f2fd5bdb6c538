package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shiquda/xyz-dl/internal/config"
)

// Session is the short-lived access-token state. It lives in memory only
// and is owned exclusively by the SessionManager.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

// SessionManager owns the access-token lifecycle: it mints tokens from the
// stored refresh token on demand and serializes refreshes so concurrent
// download workers never stampede the auth endpoint.
type SessionManager struct {
	store  CredentialStore
	creds  *Credentials
	httpc  *http.Client
	base   string
	ttl    time.Duration
	margin time.Duration
	log    *zap.Logger

	mu  sync.Mutex
	cur *Session
	sf  singleflight.Group

	now func() time.Time
}

// NewSessionManager loads and validates stored credentials. It fails before
// any network call when the credential record is absent or incomplete.
func NewSessionManager(store CredentialStore, cfg config.Config, log *zap.Logger) (*SessionManager, error) {
	creds, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &SessionManager{
		store:  store,
		creds:  creds,
		httpc:  &http.Client{Timeout: cfg.APITimeout()},
		base:   cfg.API.BaseURL,
		ttl:    cfg.AccessTokenTTL(),
		margin: cfg.RefreshSafetyMargin(),
		log:    log.Named("session"),
		now:    time.Now,
	}, nil
}

// DeviceID returns the device identifier bound to the refresh token.
func (m *SessionManager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.DeviceID
}

// Token returns a valid access token, refreshing when none is cached or
// the cached one is within the safety margin of expiry. At most one
// refresh call is in flight at a time; concurrent callers share its
// result. Each Token call makes at most one refresh attempt — retry policy
// belongs to the caller.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	v, err, _ := m.sf.Do("refresh", func() (any, error) {
		// A concurrent caller may have refreshed while we waited on the
		// flight lock.
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		sess, err := m.refresh(ctx)
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		m.cur = sess
		m.mu.Unlock()
		return sess.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached session if it still carries tok, forcing the
// next Token call to refresh. Callers use this after observing a 401 with
// the token they were issued; comparing tokens keeps a worker holding a
// stale token from discarding a session that was already renewed.
func (m *SessionManager) Invalidate(tok string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil && m.cur.AccessToken == tok {
		m.cur = nil
	}
}

func (m *SessionManager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return "", false
	}
	if !m.now().Before(m.cur.ExpiresAt.Add(-m.margin)) {
		return "", false
	}
	return m.cur.AccessToken, true
}

type refreshResponse struct {
	AccessToken  string `json:"x-jike-access-token"`
	RefreshToken string `json:"x-jike-refresh-token"`
	Toast        string `json:"toast"`
	Message      string `json:"message"`
}

func (m *SessionManager) refresh(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	refreshToken := m.creds.RefreshToken
	m.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.base+"/app_auth_tokens.refresh", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, &Error{Kind: KindNetworkFailure, Op: "refresh token", Err: err}
	}
	req.Header.Set("User-Agent", "okhttp/4.10.0")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-jike-refresh-token", refreshToken)

	m.log.Debug("refreshing access token")
	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetworkFailure, Op: "refresh token", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindNetworkFailure, Op: "refresh token", Err: err}
	}

	var parsed refreshResponse
	// tolerate empty or non-JSON error bodies
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode == http.StatusUnauthorized {
		kind := KindInvalidCredentials
		if msg := parsed.Toast + parsed.Message; strings.Contains(msg, "expired") || strings.Contains(msg, "过期") {
			kind = KindExpiredRefreshToken
		}
		return nil, &Error{
			Kind: kind,
			Op:   "refresh token",
			Err:  fmt.Errorf("auth endpoint rejected refresh token (status %d)", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind: KindNetworkFailure,
			Op:   "refresh token",
			Err:  fmt.Errorf("auth endpoint returned status %d", resp.StatusCode),
		}
	}
	if parsed.AccessToken == "" {
		return nil, &Error{
			Kind: KindInvalidCredentials,
			Op:   "refresh token",
			Err:  fmt.Errorf("refresh response carries no access token"),
		}
	}

	m.persistRotation(parsed.RefreshToken)

	m.log.Debug("access token refreshed")
	return &Session{
		AccessToken: parsed.AccessToken,
		ExpiresAt:   m.now().Add(m.ttl),
	}, nil
}

// persistRotation replaces the stored credential record when the platform
// rotates the refresh token. A failed save is logged, not fatal: the new
// token still works for this process.
func (m *SessionManager) persistRotation(newRefreshToken string) {
	if newRefreshToken == "" {
		return
	}
	m.mu.Lock()
	if newRefreshToken == m.creds.RefreshToken {
		m.mu.Unlock()
		return
	}
	rotated := &Credentials{
		RefreshToken: newRefreshToken,
		DeviceID:     m.creds.DeviceID,
	}
	m.creds = rotated
	m.mu.Unlock()

	if err := m.store.Save(rotated); err != nil {
		m.log.Warn("failed to persist rotated refresh token", zap.Error(err))
	}
}
