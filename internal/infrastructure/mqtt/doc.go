// Package mqtt provides broker connectivity for TinyMQTT.
//
// This package manages:
//   - One broker session per Dial, over MQTT v5 or MQTT 3.1.1
//   - Reconnection after the link drops (never after a failed first attempt)
//   - Blocking publish and subscribe with a bounded wait for the broker
//   - Topic name and topic filter validation
//
// # Architecture
//
// Two adapters implement the same Dialer/Conn contract:
//
//	v5   github.com/eclipse/paho.golang/paho   own reconnect supervisor
//	3.1.1 github.com/eclipse/paho.mqtt.golang  library auto-reconnect
//
// Callers never see the library types. Lifecycle changes and inbound
// messages arrive through Handlers, which are wrapped with panic recovery.
//
// # Security Considerations
//
//   - TLS (Options.TLS) requires TLS 1.2 or newer
//   - Credentials are sent only when a username is set
//   - Passwords are never logged
//
// # Usage
//
//	dialer, err := mqtt.NewDialer(mqtt.ProtocolV5, logger)
//	if err != nil {
//	    return err
//	}
//	conn, err := dialer.Dial(ctx, mqtt.Options{Host: "127.0.0.1", Port: 1883},
//	    mqtt.Handlers{
//	        OnMessage: func(topic string, payload []byte) {
//	            fmt.Printf("%s -> %s\n", topic, payload)
//	        },
//	    })
//	if err != nil {
//	    return err
//	}
//	defer conn.Disconnect(context.Background())
//
//	conn.Subscribe(ctx, "test/topic", 0)
//	conn.Publish(ctx, "qos0", []byte("0"), 0)
package mqtt
