// Package history persists the message log in SQLite.
//
// Every coordinator event (connects, drops, received messages, publish
// acknowledgements, connect errors) becomes one Entry in the history table
// created by the migrations package. The shell lists recent entries with
// "history [n]" and "clear" empties the table.
//
// Recorder adapts a Repository to the controller's event recorder hook.
package history
