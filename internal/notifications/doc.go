// Package notifications delivers optional ntfy pushes for rescan batch
// lifecycle events: reconciliation, partial acquisition, and failure.
package notifications
