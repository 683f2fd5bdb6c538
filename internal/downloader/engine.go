package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shiquda/xyz-dl/internal/api"
	"github.com/shiquda/xyz-dl/internal/config"
	"github.com/shiquda/xyz-dl/internal/retry"
	"github.com/shiquda/xyz-dl/internal/util/files"
)

// errUnauthorized marks a 401 on the media URL; the engine re-auths at
// most once per task.
var errUnauthorized = errors.New("media request unauthorized")

// statusError carries the raw HTTP status of a rejected media request so
// the retry loop can tell transient rejections from terminal ones.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("media server returned status %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// Options configures one engine run.
type Options struct {
	// SaveOnly resolves every task to Skipped without any transfer.
	SaveOnly bool
	// Parallel bounds the worker pool; 0 falls back to the configured
	// default.
	Parallel int
	// OnProgress receives coalesced progress events. May be nil. Called
	// from worker goroutines.
	OnProgress func(ProgressEvent)
}

// Engine transfers episode audio to disk with resume, retry, and
// integrity verification. One bad episode never aborts the batch.
type Engine struct {
	tokens api.TokenSource // nil when running unauthenticated
	httpc  *http.Client
	cfg    config.Config
	log    *zap.Logger
}

func NewEngine(tokens api.TokenSource, cfg config.Config, log *zap.Logger) *Engine {
	// No client-level timeout: the body is bounded per read by the stall
	// watchdog, so a slow but moving stream survives. The dial and header
	// phases are bounded by the transport instead; a server that accepts
	// the connection and then goes silent cannot wedge a worker.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.DownloadTimeout(),
	}
	return &Engine{
		tokens: tokens,
		httpc:  &http.Client{Transport: transport},
		cfg:    cfg,
		log:    log.Named("download"),
	}
}

// Run processes tasks through a bounded worker pool and returns them with
// terminal states filled in. Cancellation stops new starts immediately;
// in-flight transfers are interrupted with their partial file left on
// disk, safe to resume later.
func (e *Engine) Run(ctx context.Context, tasks []Task, opts Options) []Task {
	if opts.SaveOnly {
		for i := range tasks {
			tasks[i].State = StateSkipped
		}
		return tasks
	}

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = e.cfg.Download.Parallel
	}
	if parallel < 1 {
		parallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan bool, parallel)

	for i := range tasks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()

			sem <- true
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			e.runTask(ctx, t, opts)
		}(&tasks[i])
	}
	wg.Wait()
	return tasks
}

func (e *Engine) runTask(ctx context.Context, t *Task, opts Options) {
	t.State = StateInProgress

	if t.Episode.AudioURL == "" {
		e.log.Warn("episode has no audio url, skipping",
			zap.Int("index", t.Index), zap.String("title", t.Episode.Title))
		t.State = StateSkipped
		return
	}

	if err := e.download(ctx, t, opts); err != nil {
		t.State = StateFailed
		t.Err = err
		e.log.Warn("download failed",
			zap.Int("index", t.Index), zap.String("title", t.Episode.Title), zap.Error(err))
		return
	}
	if t.State == StateSkipped {
		return
	}

	t.State = StateCompleted
	if !t.Episode.Entitled && t.BytesWritten < e.cfg.Download.PlaceholderBytes {
		// known platform behavior for unentitled paid content: a small
		// placeholder is served instead of the full asset
		t.PlaceholderSuspected = true
		e.log.Warn("completed file is suspiciously small for a paid episode",
			zap.Int("index", t.Index), zap.String("title", t.Episode.Title),
			zap.String("size", files.FormatSize(t.BytesWritten)))
	}
}

func (e *Engine) download(ctx context.Context, t *Task, opts Options) error {
	if err := files.EnsureDir(filepath.Dir(t.Destination)); err != nil {
		return err
	}

	emit(opts, ProgressEvent{TaskID: t.ID, Index: t.Index, Title: t.Episode.Title, Phase: PhaseProbing})
	expected := e.probeSize(ctx, t)

	// collision policy: an existing final file of the expected size is
	// already verified; any other size makes its .tmp a resume candidate
	if fi, err := os.Stat(t.Destination); err == nil {
		if expected > 0 && fi.Size() == expected {
			e.log.Info("file already downloaded",
				zap.Int("index", t.Index), zap.String("title", t.Episode.Title))
			t.State = StateSkipped
			t.BytesWritten = fi.Size()
			return nil
		}
	}

	policy := retry.Policy{
		MaxAttempts: e.cfg.Download.MaxRetries,
		BaseDelay:   e.cfg.RetryDelay(),
		Multiplier:  retry.DefaultMultiplier,
		Jitter:      0.2,
	}

	var reauthed, freshForced, permanent bool
	err := policy.Do(ctx, func() error {
		err := e.attempt(ctx, t, expected, opts)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, errUnauthorized):
			// one re-auth per task, not per retry, so concurrent 401s
			// cannot storm the refresh endpoint
			if e.tokens == nil || reauthed {
				permanent = true
				return retry.Permanent(e.taskErr(t, DownloadServerRejected, err))
			}
			reauthed = true
			return err

		case IsDownloadKind(err, DownloadIntegrityMismatch):
			// one forced fresh (non-resumed) attempt before giving up
			if freshForced {
				permanent = true
				return retry.Permanent(err)
			}
			freshForced = true
			os.Remove(t.Destination + ".tmp")
			return err

		case IsDownloadKind(err, DownloadServerRejected) && !isRetryableRejection(err):
			permanent = true
			return retry.Permanent(err)

		default:
			// local I/O failures come back already marked permanent and
			// must not be reported as a spent retry budget
			if retry.IsPermanent(err) {
				permanent = true
			}
			return err
		}
	})
	if err == nil || permanent || ctx.Err() != nil {
		return err
	}
	return e.taskErr(t, DownloadExhausted, err)
}

// probeSize asks the remote for the asset size. The catalog size is the
// fallback; 0 means unknown and disables the skip/resume size checks.
func (e *Engine) probeSize(ctx context.Context, t *Task) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.Episode.AudioURL, nil)
	if err != nil {
		return t.Episode.ExpectedSize
	}
	e.setMediaHeaders(ctx, req)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return t.Episode.ExpectedSize
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
		return resp.ContentLength
	}
	return t.Episode.ExpectedSize
}

// attempt performs a single transfer try: resume or fresh GET, stream to
// the .tmp staging file, verify size, atomically rename into place.
func (e *Engine) attempt(ctx context.Context, t *Task, expected int64, opts Options) error {
	tmp := t.Destination + ".tmp"

	var resumePos int64
	if fi, err := os.Stat(tmp); err == nil {
		if expected > 0 && fi.Size() < expected {
			resumePos = fi.Size()
		} else if expected > 0 {
			// a partial at or beyond the expected size is not trustworthy
			os.Remove(tmp)
		}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.Episode.AudioURL, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	e.setMediaHeaders(ctx, req)
	if resumePos > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumePos))
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return e.classifyTransport(ctx, t, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if resumePos > 0 {
			// server ignored the range request: restart from byte zero
			e.log.Debug("range not honored, restarting",
				zap.Int("index", t.Index), zap.String("title", t.Episode.Title))
			os.Remove(tmp)
			resumePos = 0
		}
	case http.StatusPartialContent:
		// resuming at resumePos
	case http.StatusUnauthorized:
		e.invalidateMediaToken(req)
		return errUnauthorized
	default:
		return e.taskErr(t, DownloadServerRejected, &statusError{code: resp.StatusCode})
	}

	total := expected
	if total == 0 && resp.ContentLength >= 0 {
		total = resumePos + resp.ContentLength
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumePos > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return retry.Permanent(err)
	}

	written, err := e.stream(ctx, cancel, f, resp.Body, t, resumePos, total, opts)
	f.Close()
	if err != nil {
		return err
	}

	if total > 0 && written != total {
		return e.taskErr(t, DownloadIntegrityMismatch,
			fmt.Errorf("transferred %d bytes, expected %d", written, total))
	}

	// the atomic rename is what makes a crash-interrupted run safe: a
	// final-named file is always complete and verified
	if err := os.Rename(tmp, t.Destination); err != nil {
		return retry.Permanent(err)
	}
	t.BytesWritten = written

	emit(opts, ProgressEvent{
		TaskID: t.ID, Index: t.Index, Title: t.Episode.Title,
		BytesDone: written, BytesTotal: total, Phase: PhaseDone,
	})
	return nil
}

// stream copies the response body into f, coalescing progress events and
// aborting when no bytes arrive within the configured stall window.
func (e *Engine) stream(ctx context.Context, cancel context.CancelFunc, f *os.File, body io.Reader,
	t *Task, resumePos, total int64, opts Options) (int64, error) {

	stall := e.cfg.DownloadTimeout()
	watchdog := time.AfterFunc(stall, cancel)
	defer watchdog.Stop()

	buf := make([]byte, e.cfg.Download.ChunkSize)
	written := resumePos
	lastEmit := time.Now()

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			watchdog.Reset(stall)
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, retry.Permanent(werr)
			}
			written += int64(n)

			if now := time.Now(); now.Sub(lastEmit) >= e.cfg.ProgressInterval() {
				lastEmit = now
				emit(opts, ProgressEvent{
					TaskID: t.ID, Index: t.Index, Title: t.Episode.Title,
					BytesDone: written, BytesTotal: total, Phase: PhaseTransferring,
				})
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				// external cancellation: leave the partial for a later
				// resume
				return written, ctx.Err()
			}
			return written, e.classifyTransport(ctx, t, rerr)
		}
	}
}

// classifyTransport maps transport errors onto the taxonomy: stalls and
// net timeouts are DownloadTimeout, everything else stays a bare
// retryable error.
func (e *Engine) classifyTransport(ctx context.Context, t *Task, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return e.taskErr(t, DownloadTimeout, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// the stall watchdog canceled the request context
		return e.taskErr(t, DownloadTimeout, err)
	}
	return err
}

func (e *Engine) setMediaHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("User-Agent", "okhttp/4.10.0")
	if e.tokens == nil {
		return
	}
	tok, err := e.tokens.Token(ctx)
	if err != nil {
		// unauthenticated fetch may still work for public assets
		e.log.Debug("no access token for media request", zap.Error(err))
		return
	}
	req.Header.Set("x-jike-access-token", tok)
	req.Header.Set("x-jike-device-id", e.tokens.DeviceID())
}

func (e *Engine) invalidateMediaToken(req *http.Request) {
	if e.tokens == nil {
		return
	}
	if tok := req.Header.Get("x-jike-access-token"); tok != "" {
		e.tokens.Invalidate(tok)
	}
}

func (e *Engine) taskErr(t *Task, kind DownloadErrorKind, err error) error {
	return &DownloadError{Kind: kind, EID: t.Episode.EID, Title: t.Episode.Title, Err: err}
}

// isRetryableRejection separates 5xx/429 rejections (worth retrying) from
// 4xx ones (the server will keep saying no).
func isRetryableRejection(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.retryable()
}

func emit(opts Options, ev ProgressEvent) {
	if opts.OnProgress != nil {
		opts.OnProgress(ev)
	}
}
