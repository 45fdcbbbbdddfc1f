// Package services defines shared utilities consumed by the scoring pipeline
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp batch identifiers, owner contexts, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (retryable vs terminal) uniform across components.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays consistent.
package services
