// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort: port for ingest, the REST API and the WebSocket hub (default 8080)
//   - Auth.Mode: "apikey" or "none"
//   - Auth.KeyEnv: environment variable holding the expected API key
//   - Auth.Header: HTTP header name (default "x-api-key")
//   - Results.TTL: how long a job's latest result remains live (default 24h)
//   - Storage.Path, Storage.Retention: sqlite history file and row lifetime
//   - Alerts: rules and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
