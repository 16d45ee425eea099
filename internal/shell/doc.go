// Package shell is the interactive command line for TinyMQTT.
//
// It reads one command per line, drives the controller, and prints command
// results. The message log itself is written by the controller's display
// sink, so received messages appear between prompts as they arrive.
//
// Commands:
//
//	connect | reconnect | disconnect
//	topic [topic]              show or set the current topic
//	msg [text]                 show or set the pending message
//	pub [payload]              publish payload (or the pending message) to the topic
//	pubto <topic> <payload>    publish to another topic
//	sub [filter]               subscribe (defaults to the current topic)
//	qos0 <0|1> | qos1 <0|1>    predefined publishes
//	config [show]              show connection settings
//	config set k=v ...         change broker, port, user, password
//	status | history [n] | clear | help | quit
package shell
