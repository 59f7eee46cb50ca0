// Package config loads, normalizes, and validates squish configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SQUISH_TEMP_DIR. The Config type centralizes the knobs the conversion
// engine and CLI need: where temporary artifacts live, which external tools
// to execute, whether already-small inputs are passed through untouched, and
// how logs are emitted.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
