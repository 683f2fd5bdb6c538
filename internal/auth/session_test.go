package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiquda/xyz-dl/internal/config"
)

type memStore struct {
	mu    sync.Mutex
	creds *Credentials
	saves int
}

func (s *memStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, ErrNoCredentials
	}
	c := *s.creds
	return &c, nil
}

func (s *memStore) Save(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds = &cp
	s.saves++
	return nil
}

func newTestManager(t *testing.T, serverURL string) (*SessionManager, *memStore) {
	t.Helper()
	store := &memStore{creds: &Credentials{RefreshToken: "rt-1", DeviceID: "dev-1"}}
	cfg := config.Default()
	cfg.API.BaseURL = serverURL
	m, err := NewSessionManager(store, cfg, zap.NewNop())
	require.NoError(t, err)
	return m, store
}

func refreshHandler(calls *atomic.Int32, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		if r.Header.Get("x-jike-refresh-token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"x-jike-access-token": "at-1", "x-jike-refresh-token": "rt-2"}`))
	}
}

func TestTokenRefreshesAndCaches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(refreshHandler(&calls, 0))
	defer server.Close()

	m, _ := newTestManager(t, server.URL)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok)

	// cached, no second network call
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenRefreshesWithinSafetyMargin(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(refreshHandler(&calls, 0))
	defer server.Close()

	m, _ := newTestManager(t, server.URL)

	base := time.Now()
	m.now = func() time.Time { return base }
	_, err := m.Token(context.Background())
	require.NoError(t, err)

	// 30s before nominal expiry is inside the 60s margin: token is
	// treated as already expired
	m.now = func() time.Time { return base.Add(m.ttl - 30*time.Second) }
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenSingleFlight(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(refreshHandler(&calls, 50*time.Millisecond))
	defer server.Close()

	m, _ := newTestManager(t, server.URL)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "at-1", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent demand must share one refresh")
}

func TestTokenRotationPersisted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(refreshHandler(&calls, 0))
	defer server.Close()

	m, store := newTestManager(t, server.URL)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "rt-2", store.creds.RefreshToken)
	assert.Equal(t, "dev-1", store.creds.DeviceID)
	assert.Equal(t, 1, store.saves)
}

func TestTokenInvalidCredentials(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"toast": "bad token"}`))
	}))
	defer server.Close()

	m, _ := newTestManager(t, server.URL)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidCredentials))
	// exactly one refresh attempt per acquisition, no auto-retry of a
	// rejected refresh token
	assert.Equal(t, int32(1), calls.Load())
}

func TestTokenExpiredRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"toast": "refresh token expired"}`))
	}))
	defer server.Close()

	m, _ := newTestManager(t, server.URL)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExpiredRefreshToken))
}

func TestTokenNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	m, _ := newTestManager(t, server.URL)

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetworkFailure))
}

func TestInvalidate(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(refreshHandler(&calls, 0))
	defer server.Close()

	m, _ := newTestManager(t, server.URL)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)

	// a stale token does not discard the live session
	m.Invalidate("some-other-token")
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// the current token does
	m.Invalidate(tok)
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
