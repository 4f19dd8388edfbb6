// Package compute runs one job's analysis over its report rows and turns
// the outcome into a types.Result.
//
// state.go derives the result state from findings: any critical finding
// makes the result critical, any warning makes it a warning, otherwise ok.
// A failed run is unknown.
//
// engine.go provides the stateful Engine that dispatches on the job kind,
// applies the job filter, optionally sends changes through the mutator, and
// keeps per-job run history. Engine.Process accepts an injectable time.Time
// so tests are deterministic.
package compute
