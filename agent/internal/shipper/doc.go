// Package shipper sends job results to adlens-server as JSON over HTTP
// (POST <server_endpoint>/api/v1/ingest).
//
// Shipper.Ship() is non-blocking: results are placed in an in-memory
// channel (default capacity 1000). When the buffer is full the oldest entry
// is evicted so the latest results are always preserved.
//
// Shipper.Run() drains the buffer in a loop, backing off with truncated
// exponential backoff (1s→60s, ±25% jitter) on network errors and 5xx
// responses. 4xx responses mean the result itself was refused (bad
// payload, bad credentials) and discard it immediately rather than
// retrying.
//
// Auth: mTLS client certificates, an API key header, a bearer token, basic
// auth, or none for local development.
package shipper
