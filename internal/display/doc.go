// Package display provides the output side of TinyMQTT: a message log of
// plain lines and a separate channel for hard errors.
//
// Console prints to a terminal with github.com/fatih/color highlighting for
// errors. Memory records output and backs tests.
package display
