// Package settings stores the user's broker connection record.
//
// The record is {broker, port, user, password}. With nothing saved the port
// defaults to 1883 and every other field is empty. FileStore writes YAML with
// 0600 permissions:
//
//	broker: 192.168.1.10
//	port: 1883
//	user: alice
//	password: secret
//
// Port input from the user is parsed with ParsePort, which fails fast on
// anything that is not a number in range.
package settings
