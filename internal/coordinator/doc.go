// Package coordinator manages the lifecycle of a single broker session.
//
// A Coordinator owns at most one session. Each session runs on its own
// goroutine: it dials the broker, then waits until it is stopped while the
// transport reconnects on its own after link loss. A second goroutine per
// session dispatches queued publish and subscribe requests in FIFO order, so
// callers never block on the network.
//
// # Events
//
// Lifecycle changes and messages are delivered in transport order on
// Events():
//
//	Connected          initial connect, or link restored
//	Disconnected       link lost, explicit Disconnect, or session replaced
//	MessageReceived    inbound PUBLISH
//	PublishAcked       broker completed a Publish
//	ConnectError       initial attempt failed, the session ends
//
// Each Connected is followed by exactly one subscription to the session's
// default topic. Events are tagged with a session id; once a session's
// teardown begins none of its events reach the stream.
//
// # State Machine
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//	                    |   ^         |
//	                    |   +---------+  link lost, reconnecting
//	                    +-> Disconnected  ConnectError
//
// # Usage
//
//	coord := coordinator.New(dialer)
//	go func() {
//	    for ev := range coord.Events() {
//	        handle(ev)
//	    }
//	}()
//	err := coord.ConfigureAndConnect(ctx, coordinator.Config{
//	    Broker: "127.0.0.1", Port: 1883, DefaultTopic: "test/topic",
//	})
//	...
//	coord.Close(ctx)
package coordinator
