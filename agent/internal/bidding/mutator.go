package bidding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/pkg/types"
)

// NewMutator returns the Mutator selected by cfg.Mode.
func NewMutator(cfg config.MutationsConfig) Mutator {
	if cfg.Mode == "http" {
		return NewHTTPMutator(cfg)
	}
	return &RecordingMutator{}
}

// RecordingMutator is the dry-run Mutator: it logs and keeps every batch.
type RecordingMutator struct {
	mu      sync.Mutex
	batches [][]types.Change
}

// Mutate records batch.
func (m *RecordingMutator) Mutate(_ context.Context, batch []types.Change) error {
	cp := make([]types.Change, len(batch))
	copy(cp, batch)
	m.mu.Lock()
	m.batches = append(m.batches, cp)
	m.mu.Unlock()
	slog.Info("bidding: dry run, changes recorded", "count", len(batch))
	return nil
}

// Batches returns the recorded batches.
func (m *RecordingMutator) Batches() [][]types.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]types.Change, len(m.batches))
	copy(out, m.batches)
	return out
}

// HTTPMutator POSTs each batch as JSON to a mutation endpoint, typically a
// small bridge that forwards to the ads API.
type HTTPMutator struct {
	endpoint string
	auth     config.AuthConfig
	client   *http.Client
}

// NewHTTPMutator returns an HTTPMutator for cfg.Endpoint.
func NewHTTPMutator(cfg config.MutationsConfig) *HTTPMutator {
	return &HTTPMutator{
		endpoint: cfg.Endpoint,
		auth:     cfg.Auth,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type mutateRequest struct {
	Changes []types.Change `json:"changes"`
}

// Mutate sends batch. Any non-2xx status is an error.
func (m *HTTPMutator) Mutate(ctx context.Context, batch []types.Change) error {
	body, err := json.Marshal(mutateRequest{Changes: batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch m.auth.Mode {
	case "apikey":
		req.Header.Set(m.auth.EffectiveHeader(), m.auth.Key())
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+m.auth.Token())
	case "basic":
		req.SetBasicAuth(m.auth.Username, m.auth.Password())
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post batch: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
