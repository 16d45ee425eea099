package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// protocolVersion311 is the CONNECT protocol level for MQTT 3.1.1.
const protocolVersion311 = 4

// subackFailure is the MQTT 3.1.1 SUBACK return code for a refused filter.
const subackFailure = 0x80

// v3Dialer opens MQTT 3.1.1 sessions using paho.mqtt.golang.
type v3Dialer struct {
	logger Logger
}

// v3Conn wraps a paho.mqtt.golang client. Reconnection is left to the
// library's auto-reconnect.
type v3Conn struct {
	client   pahomqtt.Client
	handlers safeHandlers
	logger   Logger

	// connects counts OnConnect callbacks; the first one is the initial connection.
	connects atomic.Int64
	closing  atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the broker and enables library auto-reconnect.
func (d *v3Dialer) Dial(ctx context.Context, opts Options, h Handlers) (Conn, error) {
	opts = opts.withDefaults()

	c := &v3Conn{
		handlers: safeHandlers{h: h, logger: d.logger},
		logger:   d.logger,
		done:     make(chan struct{}),
	}

	c.client = pahomqtt.NewClient(c.buildClientOptions(opts))
	token := c.client.Connect()

	timer := time.NewTimer(opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		c.abandon()
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, opts.ConnectTimeout)
	case <-ctx.Done():
		c.abandon()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		c.abandon()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// buildClientOptions creates paho MQTT options.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Authentication credentials (only when both user and password are set)
//   - Clean session, auto-reconnect after the first success
//   - Callbacks routed through the panic-safe handlers
func (c *v3Conn) buildClientOptions(opts Options) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()
	po.AddBroker(opts.brokerURL())
	po.SetClientID(opts.ClientID)
	po.SetProtocolVersion(protocolVersion311)

	if opts.hasCredentials() {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	po.SetCleanSession(true)

	// Initial failures are reported to the caller, only later drops are retried.
	po.SetAutoReconnect(true)
	po.SetConnectRetry(false)
	po.SetMaxReconnectInterval(opts.ReconnectMaxDelay)

	po.SetConnectTimeout(opts.ConnectTimeout)
	po.SetKeepAlive(opts.KeepAlive)

	if cfg := opts.tlsConfig(); cfg != nil {
		po.SetTLSConfig(cfg)
	}

	po.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handlers.message(msg.Topic(), msg.Payload())
	})
	po.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if c.connects.Add(1) == 1 || c.closing.Load() {
			return
		}
		c.logger.Debug("MQTT connection restored", "broker", opts.Address())
		c.handlers.up()
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if c.closing.Load() {
			return
		}
		c.logger.Warn("MQTT connection lost", "error", err)
		c.handlers.lost(err)
	})
	po.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Debug("MQTT reconnecting", "broker", opts.Address())
	})

	return po
}

// abandon releases a client whose initial connect did not succeed.
func (c *v3Conn) abandon() {
	c.closing.Store(true)
	c.client.Disconnect(0)
	c.closeOnce.Do(func() { close(c.done) })
}

// Publish sends a message. For QoS 1 and 2 it returns once the broker has
// acknowledged the message.
func (c *v3Conn) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := ValidateQoS(qos); err != nil {
		return err
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers a single topic filter. Messages are delivered through
// Handlers.OnMessage.
func (c *v3Conn) Subscribe(ctx context.Context, filter string, qos byte) error {
	if err := ValidateQoS(qos); err != nil {
		return err
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(filter, qos, nil)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[filter]; found && code >= subackFailure {
			return fmt.Errorf("%w: %s (return code 0x%02x)", ErrSubscribeFailed, filter, code)
		}
	}
	return nil
}

// Disconnect closes the connection with a short quiesce period and stops
// auto-reconnect.
func (c *v3Conn) Disconnect(ctx context.Context) error {
	if c.closing.CompareAndSwap(false, true) {
		go func() {
			c.client.Disconnect(defaultDisconnectQuiesce)
			c.closeOnce.Do(func() { close(c.done) })
		}()
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt disconnect: %w", ctx.Err())
	}
}

// Done is closed once the client has disconnected.
func (c *v3Conn) Done() <-chan struct{} {
	return c.done
}

// waitToken blocks until the token completes, the timeout elapses or ctx is done.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
