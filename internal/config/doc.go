// Package config loads, normalizes, and validates Crest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CREST_COLLECTOR_TOKEN. The Config type centralizes every knob the daemon
// and CLI need, from scoring weights to rescan delays, so downstream code
// receives sanitized paths and clear validation errors.
package config
