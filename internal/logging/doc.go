// Package logging builds slog loggers for the daemon and CLI.
//
// It offers console and JSON handlers behind one Options surface, standard
// attribute helpers, and context-derived fields (batch, owner, correlation
// id) so every component logs the same vocabulary.
package logging
