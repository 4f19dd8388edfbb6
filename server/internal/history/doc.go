// Package history persists every received result in a SQLite database so
// the API can show how a job evolved across runs. Rows older than the
// configured retention are pruned in the background.
package history
