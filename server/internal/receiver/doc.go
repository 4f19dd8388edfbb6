// Package receiver implements the HTTP ingest endpoint that accepts job
// results from adlens-agent instances.
//
// POST /api/v1/ingest decodes one JSON result, rejects it with 400 when
// job_id is empty or the state is not a known value, then stores it,
// appends it to history and evaluates alert rules. Authentication is
// enforced upstream by the auth middleware, so the receiver only performs
// structural validation.
package receiver
