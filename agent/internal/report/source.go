package report

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
)

const defaultFetchTimeout = 30 * time.Second

// Page addresses one slice of a report.
type Page struct {
	Offset int
	Limit  int
}

// Batch is one fetched page.
type Batch struct {
	Rows []Row

	// Read is the number of raw records consumed, including skipped ones.
	// A Read smaller than the page limit ends pagination.
	Read int

	// Skipped counts malformed records that were logged and dropped.
	Skipped int
}

// Source is implemented by every report backend.
type Source interface {
	Fetch(ctx context.Context, q Query, p Page) (Batch, error)
}

// New returns the Source for the given source configuration.
func New(src config.Source) (Source, error) {
	switch src.Type {
	case "csv":
		return &csvSource{src: src}, nil
	case "http":
		client, err := buildHTTPClient(src)
		if err != nil {
			return nil, fmt.Errorf("report %q: build http client: %w", src.ID, err)
		}
		return &httpSource{src: src, client: client}, nil
	case "postgres":
		return newPostgresSource(src)
	default:
		return nil, fmt.Errorf("report: unsupported source type %q", src.Type)
	}
}

// Totals reports how many records a Paginate call consumed.
type Totals struct {
	Read    int
	Skipped int
}

// Paginate fetches q from src in pages of pageSize, calling fn with each
// page's rows. It stops after the first short page, when fn returns an
// error, or when ctx is cancelled.
func Paginate(ctx context.Context, src Source, q Query, pageSize int, fn func([]Row) error) (Totals, error) {
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	var tot Totals
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return tot, err
		}
		b, err := src.Fetch(ctx, q, Page{Offset: offset, Limit: pageSize})
		if err != nil {
			return tot, fmt.Errorf("fetch offset %d: %w", offset, err)
		}
		tot.Read += b.Read
		tot.Skipped += b.Skipped
		if len(b.Rows) > 0 {
			if err := fn(b.Rows); err != nil {
				return tot, err
			}
		}
		if b.Read < pageSize {
			return tot, nil
		}
		offset += b.Read
	}
}

// ReadAll collects every page of q into one slice.
func ReadAll(ctx context.Context, src Source, q Query, pageSize int) ([]Row, Totals, error) {
	var rows []Row
	tot, err := Paginate(ctx, src, q, pageSize, func(page []Row) error {
		rows = append(rows, page...)
		return nil
	})
	return rows, tot, err
}

// Chunk splits items into consecutive batches of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// skipRow logs a malformed record. Callers count it in Batch.Skipped.
func skipRow(sourceID string, n int, err error) {
	slog.Warn("report: skipping malformed row", "source", sourceID, "row", n, "err", err)
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	src  config.Source
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.src.Auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.src.Auth.EffectiveHeader(), t.src.Auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.src.Auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.src.Auth.Username, t.src.Auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth and TLS settings.
func buildHTTPClient(src config.Source) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if src.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if src.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(src.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", src.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			src:  src,
		},
		Timeout: timeout,
	}, nil
}
