// Package api implements the HTTP REST API for adlens-server.
//
// New(store, history, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/health                 overall state, per-state counts
//	GET /api/v1/results                latest result of every live job (?state=, ?kind=)
//	GET /api/v1/results/{id}           one job; 404 if unknown or stale
//	GET /api/v1/results/{id}/history   stored runs of one job, newest first (?limit=)
//	GET /api/v1/findings               findings across jobs (?severity=, ?job=)
//	GET /api/v1/alerts                 firing and recently resolved alerts
//	GET /api/v1/snapshot               health, results and alerts in one payload
//
// All endpoints respond with JSON and return 405 for non-GET methods.
// History and alerts are optional; without them the endpoints return empty lists.
package api
