// Package store holds the latest result of every job in memory, keyed by
// job ID, with TTL eviction of jobs that stopped reporting. Long-term
// history lives in package history.
package store
