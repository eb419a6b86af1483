// Package gemini provides an implementation of the generation.Transformer
// interface that uses Google's Gemini API for the document transformations
// behind background tasks: CV rewriting, ATS analysis, and cover letter
// generation.
//
// This package is an infrastructure adapter: it translates between the
// orchestrator's opaque input snapshots and the Gemini API without exposing
// the external service to the core application. Each task type has its own
// prompt template; responses are requested as JSON and passed through as the
// opaque task result.
//
// Transient API errors are retried with exponential backoff and jitter.
// Permanent errors (safety blocks, unparseable responses, rejected
// credentials) are classified via the sentinel errors in the generation
// package and returned immediately.
package gemini
