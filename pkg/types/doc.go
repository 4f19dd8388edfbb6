// Package types defines shared Go types used by both the agent and server.
// Result is the JSON wire format the agent ships to the server and the
// payload every sink writes.
package types
