// Package security inspects the TLS certificates of https report endpoints
// so a job can warn before its source starts failing.
package security
