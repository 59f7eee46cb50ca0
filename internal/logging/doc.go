// Package logging assembles structured slog loggers and formatting helpers used
// across squish.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so conversion code can tag log lines with
// the request that triggered it and the external tool being run. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
