// Package logging provides structured logging for TinyMQTT.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for machine-parsable logs
//   - Text output (slog key=value)
//   - Console output for interactive sessions (zerolog ConsoleWriter via zeroslog)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "warn"        # debug, info, warn, error
//	  format: "console"    # json, text, console
//	  output: "stderr"     # stderr, stdout, discard
//
// Logs go to stderr by default because the message log is printed on stdout.
//
// # Security
//
// Never log broker passwords or InfluxDB tokens.
package logging
