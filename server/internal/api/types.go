package api

import (
	"github.com/adlens/adlens/pkg/types"
	"github.com/adlens/adlens/server/internal/alerts"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string `json:"state"`
	JobCount      int    `json:"job_count"`
	OKCount       int    `json:"ok_count"`
	WarningCount  int    `json:"warning_count"`
	CriticalCount int    `json:"critical_count"`
	UnknownCount  int    `json:"unknown_count"`
	FindingCount  int    `json:"finding_count"`
	AlertCount    int    `json:"alert_count"`
}

// ResultResponse is one job entry in GET /api/v1/results or
// GET /api/v1/results/{id}.
type ResultResponse struct {
	*types.Result
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	LastSeen    string           `json:"last_seen"` // RFC3339
}

// FindingResponse is one finding in GET /api/v1/findings, tagged with the
// job that produced it.
type FindingResponse struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
	types.Finding
}

// HistoryResponse is the payload for GET /api/v1/results/{id}/history.
type HistoryResponse struct {
	JobID   string          `json:"job_id"`
	Results []*types.Result `json:"results"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot.
type SnapshotResponse struct {
	Health      HealthResponse   `json:"health"`
	Results     []ResultResponse `json:"results"`
	Alerts      []*alerts.Alert  `json:"alerts"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
