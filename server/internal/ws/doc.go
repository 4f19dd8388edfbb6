// Package ws implements the WebSocket hub for adlens-server.
//
// Hub manages a set of connected clients and broadcasts the current job
// snapshot to all of them on a configurable interval (5s in production).
// Hub.Publish pushes a single result as soon as it is ingested.
//
// Message format sent to clients:
//
//	{"event": "snapshot", "data": { /* same schema as GET /api/v1/snapshot */ }}
//	{"event": "result",   "data": { /* one job result */ }}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The hub is mounted at /ws/results by the server.
package ws
