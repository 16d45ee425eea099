// Package controller turns user commands into coordinator calls and
// coordinator events into message log lines.
//
// The Controller owns the state a user edits between connections: the
// connection settings (persisted through a settings.Store), the current
// topic and the pending outbound text. It consumes the coordinator's event
// stream on one goroutine (Run), writes a line per event to a display.Sink,
// raises a hard error notification for connect failures, and hands every
// event to the attached recorders (SQLite history, InfluxDB telemetry).
//
// Connected is derived only from Connected, Disconnected and ConnectError
// events, so it lags the coordinator's own state by at most one event.
package controller
