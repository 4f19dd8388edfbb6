package shipper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// IngestPath is the server route results are POSTed to.
	IngestPath = "/api/v1/ingest"
)

// Shipper buffers results and ships them to adlens-server.
// Ship() is non-blocking; when the buffer is full the oldest result is evicted.
// Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg    config.AgentConfig
	url    string
	buf    chan *types.Result
	client *http.Client

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// permanentError marks a response that must not be retried.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("server refused result: status %d: %s", e.status, e.body)
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) (*Shipper, error) {
	client, err := httpClient(cfg.ServerAuth)
	if err != nil {
		return nil, fmt.Errorf("shipper: %w", err)
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:    cfg,
		url:    strings.TrimRight(cfg.ServerEndpoint, "/") + IngestPath,
		buf:    make(chan *types.Result, size),
		client: client,
		sleep:  sleepCtx,
	}, nil
}

// Ship enqueues res. If the buffer is full the oldest entry is evicted to
// make room.
func (s *Shipper) Ship(res *types.Result) {
	for {
		select {
		case s.buf <- res:
			return
		default:
		}
		// Buffer full: drop the oldest result, keep the newest.
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest result",
				"job", old.JobID, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Pending returns the number of buffered results.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer, sending results to the server. A result that
// fails transiently is retried with backoff until it is delivered, refused
// or ctx is cancelled. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-s.buf:
			if !s.deliver(ctx, res, bo) {
				return
			}
		}
	}
}

// Flush sends every buffered result and returns once the buffer is empty.
// It is meant for single-run mode, where Run is not started.
func (s *Shipper) Flush(ctx context.Context) error {
	bo := newBackoff()
	for {
		select {
		case res := <-s.buf:
			if !s.deliver(ctx, res, bo) {
				return ctx.Err()
			}
		default:
			return nil
		}
	}
}

// deliver sends res until it is accepted or refused. It returns false when
// ctx ends first.
func (s *Shipper) deliver(ctx context.Context, res *types.Result, bo *backoff) bool {
	for {
		err := s.send(ctx, res)
		if err == nil {
			slog.Debug("shipper: result delivered", "job", res.JobID)
			bo.reset()
			return true
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			slog.Error("shipper: permanent send error, discarding result",
				"job", res.JobID, "err", err)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		wait := bo.next()
		slog.Warn("shipper: send failed, will retry",
			"endpoint", s.cfg.ServerEndpoint,
			"job", res.JobID,
			"err", err,
			"retry_in", wait)
		if !s.sleep(ctx, wait) {
			return false
		}
	}
}

// send POSTs one result.
func (s *Shipper) send(ctx context.Context, res *types.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return &permanentError{body: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req, s.cfg.ServerAuth)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return &permanentError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func setAuth(req *http.Request, auth config.AuthConfig) {
	switch auth.Mode {
	case "apikey":
		req.Header.Set(auth.EffectiveHeader(), auth.Key())
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token())
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password())
	}
}

// httpClient builds the client for the server connection, loading client
// certificates when auth.Mode is mtls.
func httpClient(auth config.AuthConfig) (*http.Client, error) {
	if auth.Mode != "mtls" {
		return &http.Client{}, nil
	}
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
