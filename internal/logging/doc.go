// Package logging constructs slog loggers with console and JSON handlers,
// provides standardized attribute helpers, and throttles repetitive progress
// log lines.
package logging
