package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// reasonCodeFailure is the first MQTT v5 reason code that signals failure.
const reasonCodeFailure = 0x80

// reconnectBackoffFactor grows the reconnect delay window per failed attempt.
const reconnectBackoffFactor = 2

// errLinkDropped is reported when the library drops the link without
// surfacing a cause.
var errLinkDropped = errors.New("connection to broker dropped")

// v5Dialer opens MQTT v5 sessions using paho.golang's autopaho.
type v5Dialer struct {
	logger Logger
}

// v5Conn wraps an autopaho connection manager. The manager owns the
// network connection and reconnects after link loss.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type v5Conn struct {
	cm       *autopaho.ConnectionManager
	handlers safeHandlers
	logger   Logger

	// connects counts OnConnectionUp callbacks; the first one is the initial connection.
	connects atomic.Int64
	closing  atomic.Bool

	// lastErr is the most recent client error, reported on link loss.
	lastErr atomic.Pointer[error]

	readyOnce sync.Once
	ready     chan struct{}

	// failed receives the first connect error before the initial connection.
	failed chan error

	cancel context.CancelFunc
}

// Dial starts the connection manager and waits for the first CONNACK.
// The initial attempt is not retried: its failure stops the manager.
func (d *v5Dialer) Dial(ctx context.Context, opts Options, h Handlers) (Conn, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(opts.brokerURL())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid broker address: %w", ErrConnectionFailed, err)
	}

	c := &v5Conn{
		handlers: safeHandlers{h: h, logger: d.logger},
		logger:   d.logger,
		ready:    make(chan struct{}),
		failed:   make(chan error, 1),
	}

	// The session outlives the Dial context; Disconnect cancels it.
	cmCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	cm, err := autopaho.NewConnection(cmCtx, c.clientConfig(u, opts))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.cm = cm

	timer := time.NewTimer(opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		return c, nil
	case err := <-c.failed:
		c.abandon()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	case <-timer.C:
		c.abandon()
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, opts.ConnectTimeout)
	case <-ctx.Done():
		c.abandon()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
}

// clientConfig builds the autopaho configuration.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Authentication credentials (only when both user and password are set)
//   - Clean start, exponential reconnect backoff
//   - Callbacks routed through the panic-safe handlers
func (c *v5Conn) clientConfig(u *url.URL, opts Options) autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		TlsCfg:                        opts.tlsConfig(),
		KeepAlive:                     opts.keepAliveSeconds(),
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                opts.ConnectTimeout,
		ReconnectBackoff:              reconnectBackoff(opts),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectionDown:              c.onConnectionDown,
		OnConnectError:                c.onConnectError,
		Debug:                         pahoLogger{log: c.logger.Debug},
		Errors:                        pahoLogger{log: c.logger.Warn},
		ClientConfig: paho.ClientConfig{
			ClientID: opts.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.handlers.message(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.lastErr.Store(&err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				err := fmt.Errorf("server sent DISCONNECT (reason code 0x%02x)", d.ReasonCode)
				c.lastErr.Store(&err)
			},
		},
	}
	if opts.hasCredentials() {
		cfg.ConnectUsername = opts.Username
		cfg.ConnectPassword = []byte(opts.Password)
	}
	return cfg
}

// reconnectBackoff spreads retries between the initial and maximum delay.
// Attempt zero, the first connect, is never delayed.
func reconnectBackoff(opts Options) autopaho.Backoff {
	minDelay, maxDelay := opts.ReconnectInitialDelay, opts.ReconnectMaxDelay
	if maxDelay <= minDelay {
		return autopaho.NewConstantBackoff(minDelay)
	}
	initialMax := minDelay * reconnectBackoffFactor
	if initialMax > maxDelay {
		initialMax = maxDelay
	}
	return autopaho.NewExponentialBackoff(minDelay, maxDelay, initialMax, reconnectBackoffFactor)
}

func (c *v5Conn) onConnectionUp(_ *autopaho.ConnectionManager, _ *paho.Connack) {
	c.lastErr.Store(nil)
	if c.connects.Add(1) == 1 {
		c.readyOnce.Do(func() { close(c.ready) })
		return
	}
	if c.closing.Load() {
		return
	}
	c.logger.Debug("MQTT connection restored")
	c.handlers.up()
}

// onConnectionDown returns false once Disconnect has been requested, which
// stops autopaho from reconnecting.
func (c *v5Conn) onConnectionDown() bool {
	if c.closing.Load() {
		return false
	}
	err := errLinkDropped
	if p := c.lastErr.Load(); p != nil {
		err = *p
	}
	c.logger.Warn("MQTT connection lost", "error", err)
	c.handlers.lost(err)
	return true
}

// onConnectError runs on autopaho's goroutine and must not block.
func (c *v5Conn) onConnectError(err error) {
	if c.connects.Load() > 0 {
		c.logger.Debug("MQTT reconnect attempt failed", "error", err)
		return
	}
	select {
	case c.failed <- err:
	default:
	}
}

// abandon stops a manager whose initial connect did not succeed.
func (c *v5Conn) abandon() {
	c.closing.Store(true)
	c.cancel()
	<-c.cm.Done()
}

// Publish sends a message. For QoS 1 and 2 it returns once the broker has
// acknowledged the message.
func (c *v5Conn) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := ValidateQoS(qos); err != nil {
		return err
	}
	// The manager keeps its last client after shutdown.
	if c.closing.Load() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	if _, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, v5Error(err))
	}
	return nil
}

// Subscribe registers a single topic filter.
func (c *v5Conn) Subscribe(ctx context.Context, filter string, qos byte) error {
	if err := ValidateQoS(qos); err != nil {
		return err
	}
	if c.closing.Load() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	sa, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: filter, QoS: qos},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, v5Error(err))
	}
	if sa != nil {
		for _, code := range sa.Reasons {
			if code >= reasonCodeFailure {
				return fmt.Errorf("%w: %s (reason code 0x%02x)", ErrSubscribeFailed, filter, code)
			}
		}
	}
	return nil
}

// v5Error maps library errors onto the package sentinels.
func v5Error(err error) error {
	switch {
	case errors.Is(err, autopaho.ConnectionDownError):
		return ErrNotConnected
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

// Disconnect sends DISCONNECT and stops the connection manager.
func (c *v5Conn) Disconnect(ctx context.Context) error {
	c.closing.Store(true)
	if err := c.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}

// Done is closed when the connection manager has shut down.
func (c *v5Conn) Done() <-chan struct{} {
	return c.cm.Done()
}

// pahoLogger routes autopaho's Println/Printf logging into a Logger method.
type pahoLogger struct {
	log func(msg string, args ...any)
}

func (p pahoLogger) Println(v ...any) {
	p.log("paho: " + fmt.Sprint(v...))
}

func (p pahoLogger) Printf(format string, v ...any) {
	p.log("paho: " + fmt.Sprintf(format, v...))
}
