package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/tinymqtt/internal/coordinator"
	"github.com/nerrad567/tinymqtt/internal/display"
	"github.com/nerrad567/tinymqtt/internal/history"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/tinymqtt/internal/settings"
)

const (
	// DefaultTopic is the topic used until the user picks another.
	DefaultTopic = "test/topic"

	// recordTimeout bounds one recorder call.
	recordTimeout = 2 * time.Second

	statusDisconnected = "Disconnected"
	statusConnected    = "Connected successfully"
	errorTitle         = "Connection Error"
)

// presets are the predefined publishes: topic -> allowed payloads.
var presets = map[string][]string{
	"qos0": {"0", "1"},
	"qos1": {"0", "1"},
}

// Coordinator is the part of *coordinator.Coordinator the controller drives.
type Coordinator interface {
	Events() <-chan coordinator.Event
	State() coordinator.State
	ConfigureAndConnect(ctx context.Context, cfg coordinator.Config) error
	Disconnect()
	Publish(topic string, payload []byte) error
	Subscribe(filter string) error
}

// Recorder receives every event after it is displayed.
type Recorder interface {
	RecordEvent(ctx context.Context, ev coordinator.Event) error
}

// History is a recorder that can also list and clear what it stored.
type History interface {
	Recorder
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Clear(ctx context.Context) error
}

// HealthChecker is a backing store whose reachability the status command
// reports.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Component is one backing store in the status report. Err is nil when
// its health check passed.
type Component struct {
	Name   string
	Detail string
	Err    error
}

type component struct {
	name   string
	detail string
	hc     HealthChecker
}

// Logger defines the logging interface for the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Controller holds the user-editable session state.
type Controller struct {
	coord Coordinator
	store settings.Store
	sink  display.Sink

	// base carries the transport fields from the application config.
	base coordinator.Config

	// connectMu serialises Connect and Reconnect.
	connectMu sync.Mutex

	mu        sync.Mutex
	conn      settings.Connection
	topic     string
	pending   string
	connected bool
	status    string
	// attempting is set while the status shows a connect attempt that has
	// not yet produced a lifecycle event.
	attempting bool
	recorders  []Recorder
	components []component
	history    History
	logger     Logger
}

// New creates a Controller and loads the saved connection settings.
//
// base supplies the transport fields (client id, QoS, TLS, timeouts); its
// DefaultTopic seeds the current topic and falls back to DefaultTopic.
func New(coord Coordinator, store settings.Store, sink display.Sink, base coordinator.Config) (*Controller, error) {
	conn, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading connection settings: %w", err)
	}

	topic := base.DefaultTopic
	if topic == "" {
		topic = DefaultTopic
	}

	return &Controller{
		coord:  coord,
		store:  store,
		sink:   sink,
		base:   base,
		conn:   conn,
		topic:  topic,
		status: statusDisconnected,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger. Pass nil to disable logging.
func (c *Controller) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// AddRecorder attaches a recorder that sees every event.
func (c *Controller) AddRecorder(r Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorders = append(c.recorders, r)
}

// SetHistory attaches the message history. It is also recorded to.
func (c *Controller) SetHistory(h History) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = h
	c.recorders = append(c.recorders, h)
}

// AddComponent registers a backing store for the status report. detail is
// shown next to its name, typically a path or URL.
func (c *Controller) AddComponent(name, detail string, hc HealthChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component{name: name, detail: detail, hc: hc})
}

// ----------------------------------------------------------------------------
// Commands
// ----------------------------------------------------------------------------

// Connect starts a session with the saved settings and the current topic.
// It refuses while a session is up or an attempt is running.
func (c *Controller) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if connected {
		return ErrAlreadyConnected
	}
	if c.coord.State() == coordinator.StateConnecting {
		return ErrConnecting
	}
	return c.reconnect(ctx)
}

// Reconnect tears down any session and connects again with the current
// settings and topic.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.reconnect(ctx)
}

// reconnect starts an attempt. Caller must hold c.connectMu.
func (c *Controller) reconnect(ctx context.Context) error {
	c.mu.Lock()
	cfg := c.sessionConfigLocked()
	prev := c.status
	connecting := "Connecting to " + net.JoinHostPort(cfg.Broker, strconv.Itoa(cfg.Port))
	// Set before the attempt starts so its Connected event cannot be overwritten.
	c.status = connecting
	c.attempting = false
	c.mu.Unlock()

	if err := c.coord.ConfigureAndConnect(ctx, cfg); err != nil {
		c.mu.Lock()
		c.status = prev
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	// An event may already have replaced the status.
	c.attempting = c.status == connecting
	c.mu.Unlock()
	return nil
}

// sessionConfigLocked merges the saved settings into the base config.
// Caller must hold c.mu.
func (c *Controller) sessionConfigLocked() coordinator.Config {
	cfg := c.base
	cfg.Broker = c.conn.Broker
	cfg.Port = c.conn.Port
	cfg.Username = c.conn.User
	cfg.Password = c.conn.Password
	cfg.DefaultTopic = c.topic
	return cfg
}

// Disconnect closes the session. A no-op when already disconnected.
func (c *Controller) Disconnect() {
	c.coord.Disconnect()
}

// Publish sends payload to topic and clears the pending text on success.
func (c *Controller) Publish(topic, payload string) error {
	if err := c.coord.Publish(topic, []byte(payload)); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = ""
	c.mu.Unlock()
	return nil
}

// PublishPending sends the pending text to the current topic.
func (c *Controller) PublishPending() error {
	c.mu.Lock()
	topic, payload := c.topic, c.pending
	c.mu.Unlock()
	return c.Publish(topic, payload)
}

// PublishPreset sends one of the predefined messages (qos0 or qos1 with
// payload 0 or 1). The pending text is kept.
func (c *Controller) PublishPreset(topic, payload string) error {
	allowed, ok := presets[topic]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, topic)
	}
	for _, p := range allowed {
		if p == payload {
			return c.coord.Publish(topic, []byte(payload))
		}
	}
	return fmt.Errorf("%w: %s %q", ErrUnknownPreset, topic, payload)
}

// SetPending replaces the held outbound text.
func (c *Controller) SetPending(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = text
}

// Pending returns the held outbound text.
func (c *Controller) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Subscribe subscribes the current session to filter.
func (c *Controller) Subscribe(filter string) error {
	return c.coord.Subscribe(filter)
}

// SetTopic changes the current topic. It takes effect as the default
// subscription on the next connect.
func (c *Controller) SetTopic(topic string) error {
	if err := mqtt.ValidateTopicFilter(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	return nil
}

// Topic returns the current topic.
func (c *Controller) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

// Settings returns the connection settings.
func (c *Controller) Settings() settings.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// UpdateSettings validates and persists conn. The running session keeps its
// old settings until Reconnect.
func (c *Controller) UpdateSettings(conn settings.Connection) error {
	if _, err := settings.ParsePort(strconv.Itoa(conn.Port)); err != nil {
		return err
	}
	if err := c.store.Save(conn); err != nil {
		return fmt.Errorf("saving connection settings: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// ApplySettings sets fields by key (broker, port, user, password) and
// persists the result. Nothing is saved if any field is rejected.
func (c *Controller) ApplySettings(fields map[string]string) error {
	conn := c.Settings()
	for k, v := range fields {
		if err := conn.Apply(k, v); err != nil {
			return err
		}
	}
	return c.UpdateSettings(conn)
}

// Connected reports the last lifecycle event: true after Connected, false
// after Disconnected or ConnectError.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Status returns the last status line. An attempt cancelled before it
// connected emits no event, so the status falls back to Disconnected once
// the coordinator reports no session.
func (c *Controller) Status() string {
	state := c.coord.State()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempting && state == coordinator.StateDisconnected {
		c.attempting = false
		c.status = statusDisconnected
	}
	return c.status
}

// SettingsPath returns where connection settings are saved, or "" when the
// store is not file backed.
func (c *Controller) SettingsPath() string {
	if p, ok := c.store.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

// Health runs every registered component's health check, in registration
// order.
func (c *Controller) Health(ctx context.Context) []Component {
	c.mu.Lock()
	components := append([]component(nil), c.components...)
	c.mu.Unlock()

	report := make([]Component, 0, len(components))
	for _, comp := range components {
		report = append(report, Component{
			Name:   comp.name,
			Detail: comp.detail,
			Err:    comp.hc.HealthCheck(ctx),
		})
	}
	return report
}

// History lists up to limit recent entries, oldest first.
func (c *Controller) History(ctx context.Context, limit int) ([]history.Entry, error) {
	c.mu.Lock()
	h := c.history
	c.mu.Unlock()
	if h == nil {
		return nil, ErrHistoryDisabled
	}
	return h.Recent(ctx, limit)
}

// ClearLog clears the display, when it supports clearing, and the history.
func (c *Controller) ClearLog(ctx context.Context) error {
	if cl, ok := c.sink.(display.Clearer); ok {
		cl.Clear()
	}

	c.mu.Lock()
	h := c.history
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Clear(ctx)
}

// ----------------------------------------------------------------------------
// Events
// ----------------------------------------------------------------------------

// Run consumes the event stream until it closes or ctx is done.
func (c *Controller) Run(ctx context.Context) {
	events := c.coord.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, ev)
		}
	}
}

// OnEvent displays and records one event.
func (c *Controller) OnEvent(ev coordinator.Event) {
	c.handle(context.Background(), ev)
}

func (c *Controller) handle(ctx context.Context, ev coordinator.Event) {
	c.mu.Lock()
	switch ev.Kind {
	case coordinator.EventConnected:
		c.connected = true
		c.status = statusConnected
		c.attempting = false
	case coordinator.EventDisconnected, coordinator.EventConnectError:
		c.connected = false
		c.status = statusDisconnected
		c.attempting = false
	}
	recorders := append([]Recorder(nil), c.recorders...)
	logger := c.logger
	c.mu.Unlock()

	switch ev.Kind {
	case coordinator.EventConnected:
		c.sink.Line(statusConnected)
	case coordinator.EventDisconnected:
		c.sink.Line(statusDisconnected)
	case coordinator.EventMessageReceived:
		c.sink.Line(fmt.Sprintf("Received message: %s -> %s", ev.Topic, ev.Payload))
	case coordinator.EventPublishAcked:
		c.sink.Line(fmt.Sprintf("Published message: %s to topic: %s", ev.Payload, ev.Topic))
	case coordinator.EventConnectError:
		c.sink.Error(errorTitle, "Failed to connect to broker: "+ev.Reason)
	default:
		logger.Debug("ignoring unknown event", "kind", ev.Kind.String())
		return
	}

	for _, r := range recorders {
		rctx, cancel := context.WithTimeout(ctx, recordTimeout)
		err := r.RecordEvent(rctx, ev)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("recording event failed",
				"kind", ev.Kind.String(),
				"session", ev.Session,
				"error", err,
			)
		}
	}
}
