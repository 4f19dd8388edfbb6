// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_endpoint, run_interval, buffer_size, log_level,
//     timezone, server_auth, sources [], jobs [], sinks [], memo, mutations
//   - Source: id, type (csv|http|postgres), path/encoding/delimiter,
//     endpoint, sql/dsn_env, page_size, auth, tls
//   - Job: id, kind (abtest|ngram|heatmap|position_bid|budget|adcopy|
//     labels|holiday), source, entity, during, filter, apply, and one options
//     block per kind
//   - Sink: json | prometheus | minio | kafka
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); Key(), Token()
//     and Password() resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (1h run interval, 10000
// row pages, 5000 change batches, 60s retry delay), then validates required
// fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify on the parent directory and
// calls onChange with the newly parsed Config once a save settles.
package config
