package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tinymqtt/internal/infrastructure/mqtt"
)

// DefaultShutdownTimeout bounds how long a teardown waits for the session
// goroutine to exit.
const DefaultShutdownTimeout = 5 * time.Second

// Logger defines the logging interface for the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// requestKind tags an outbound request.
type requestKind int

const (
	requestPublish requestKind = iota
	requestSubscribe
)

// request is one outbound operation. Publish requests carry their own topic
// and payload so each acknowledgement is matched to the call that caused it.
type request struct {
	kind    requestKind
	topic   string
	payload []byte
	qos     byte
}

// session is the runtime handle of one connection attempt and the link it
// produces. Fields below the mutex comment are guarded by Coordinator.mu.
type session struct {
	id  uint64
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	outbound *fifo[request]
	done     chan struct{}

	// guarded by Coordinator.mu
	state State
	// connected is true while a Connected event has no matching Disconnected.
	connected bool
	// established is set once the initial Dial has returned.
	established bool
	// dropped records a link loss reported before established was set.
	dropped bool
	// stale is set when teardown begins; all later events are discarded.
	stale bool
}

// Coordinator owns at most one broker session at a time and relays its
// lifecycle changes and messages to a single consumer via Events.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - ConfigureAndConnect and Close are serialised against each other.
type Coordinator struct {
	dialer mqtt.Dialer

	logger          Logger
	shutdownTimeout time.Duration

	// lifecycleMu serialises session replacement.
	lifecycleMu sync.Mutex

	mu      sync.Mutex
	current *session
	nextID  uint64
	closed  bool

	lastTopic   string
	lastPayload []byte
	hasLast     bool

	queue  *fifo[Event]
	events chan Event

	// retired is closed, then replaced, each time a session teardown begins.
	// It wakes the pump so a held event can be checked again.
	retired chan struct{}
}

// New creates a coordinator that opens sessions through dialer.
// The event stream is live immediately; read Events until it is closed.
func New(dialer mqtt.Dialer) *Coordinator {
	c := &Coordinator{
		dialer:          dialer,
		logger:          noopLogger{},
		shutdownTimeout: DefaultShutdownTimeout,
		queue:           newFIFO[Event](),
		events:          make(chan Event),
		retired:         make(chan struct{}),
	}
	go c.pump()
	return c
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetShutdownTimeout changes the bound on session teardown.
func (c *Coordinator) SetShutdownTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.shutdownTimeout = d
	}
}

func (c *Coordinator) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Events returns the ordered event stream. It is closed after Close once
// every queued event has been delivered.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// pump moves events from the unbounded queue to the consumer channel.
// Events of a session whose teardown has begun are dropped, even when they
// were queued before it began.
func (c *Coordinator) pump() {
	defer close(c.events)

	// open is the session whose Connected the consumer saw last and whose
	// Disconnected it has not seen yet.
	var open uint64
	for range c.queue.signal() {
		items, closed := c.queue.take()
		for _, e := range items {
			c.deliver(e, &open)
		}
		if closed {
			return
		}
	}
}

// deliver hands e to the consumer unless its session goes stale first.
func (c *Coordinator) deliver(e Event, open *uint64) {
	for {
		c.mu.Lock()
		ok := c.deliverableLocked(e, *open)
		retired := c.retired
		c.mu.Unlock()
		if !ok {
			return
		}

		select {
		case c.events <- e:
			switch {
			case e.Kind == EventConnected:
				*open = e.Session
			case e.Kind == EventDisconnected && e.Session == *open:
				*open = 0
			}
			return
		case <-retired:
		}
	}
}

// deliverableLocked reports whether e may still reach the consumer. A stale
// session's only deliverable event is the Disconnected that closes a
// Connected the consumer already saw. Caller holds c.mu.
func (c *Coordinator) deliverableLocked(e Event, open uint64) bool {
	if s := c.current; s != nil && s.id == e.Session && !s.stale {
		return true
	}
	return e.Kind == EventDisconnected && open != 0 && e.Session == open
}

// State returns the state of the current session.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return StateDisconnected
	}
	return c.current.state
}

// LastPublished returns the most recent topic and payload passed to Publish.
func (c *Coordinator) LastPublished() (topic string, payload []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTopic, c.lastPayload, c.hasLast
}

// ConfigureAndConnect replaces the current session with a new one using cfg.
//
// The config is validated first; an invalid config returns ErrInvalidConfig
// and leaves the running session untouched. Otherwise any running session is
// torn down and joined before the new attempt starts. The attempt itself runs
// in the background: its outcome arrives as EventConnected or
// EventConnectError.
func (c *Coordinator) ConfigureAndConnect(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.current
	c.mu.Unlock()

	if old != nil {
		if err := c.teardown(ctx, old); err != nil {
			c.log().Warn("previous session did not stop cleanly",
				"session", old.id,
				"error", err,
			)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:       c.nextID,
		cfg:      cfg,
		ctx:      sessCtx,
		cancel:   cancel,
		outbound: newFIFO[request](),
		done:     make(chan struct{}),
		state:    StateConnecting,
	}
	c.current = s
	logger := c.logger
	c.mu.Unlock()

	logger.Info("connecting to broker",
		"session", s.id,
		"broker", cfg.Broker,
		"port", cfg.Port,
	)

	go c.run(s)
	return nil
}

// Disconnect asks the current session to close. EventDisconnected is
// emitted once the transport confirms closure. When nothing is connected or
// connecting it does nothing.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	s := c.current
	if s == nil || s.stale || s.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	s.cancel()
}

// Publish queues a message for the current session and returns at once.
// Each publish the broker completes yields one EventPublishAcked carrying the
// same topic and payload.
func (c *Coordinator) Publish(topic string, payload []byte) error {
	if err := mqtt.ValidateTopicName(topic); err != nil {
		return err
	}
	body := append([]byte(nil), payload...)

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current
	if s == nil || s.stale || s.state == StateDisconnected {
		return ErrNotConnected
	}

	c.lastTopic, c.lastPayload, c.hasLast = topic, body, true
	s.outbound.push(request{kind: requestPublish, topic: topic, payload: body, qos: s.cfg.QoS})
	return nil
}

// Subscribe queues a subscription for the current session and returns at once.
func (c *Coordinator) Subscribe(filter string) error {
	if err := mqtt.ValidateTopicFilter(filter); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current
	if s == nil || s.stale || s.state == StateDisconnected {
		return ErrNotConnected
	}
	s.outbound.push(request{kind: requestSubscribe, topic: filter, qos: s.cfg.QoS})
	return nil
}

// Close tears down the current session, waits for it, then closes the event
// stream after the remaining events are delivered. Calling it again is a no-op.
func (c *Coordinator) Close(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.current
	c.mu.Unlock()

	var err error
	if s != nil {
		err = c.teardown(ctx, s)
	}
	c.queue.close()
	return err
}

// teardown emits the session's final Disconnected if it is still connected,
// marks it stale, stops it and joins its goroutine.
func (c *Coordinator) teardown(ctx context.Context, s *session) error {
	c.mu.Lock()
	if !s.stale {
		if s.connected {
			c.queue.push(c.newEvent(s, EventDisconnected))
			s.connected = false
		}
		s.stale = true
		s.state = StateDisconnected
		close(c.retired)
		c.retired = make(chan struct{})
	}
	timeout := c.shutdownTimeout
	c.mu.Unlock()

	s.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: session %d after %v", ErrShutdownTimeout, s.id, timeout)
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %d: %w", s.id, ctx.Err())
	}
}

// =============================================================================
// Session goroutine
// =============================================================================

// run drives one session from the initial attempt until it is stopped.
func (c *Coordinator) run(s *session) {
	defer close(s.done)
	defer s.cancel()

	handlers := mqtt.Handlers{
		OnConnectionUp:   func() { c.linkUp(s) },
		OnConnectionLost: func(err error) { c.linkLost(s, err) },
		OnMessage: func(topic string, payload []byte) {
			c.emit(s, Event{Kind: EventMessageReceived, Topic: topic, Payload: payload})
		},
	}

	conn, err := c.dialer.Dial(s.ctx, s.cfg.options(), handlers)
	if err != nil {
		c.connectFailed(s, err)
		return
	}

	c.initialUp(s)

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		c.send(s, conn)
	}()

	select {
	case <-s.ctx.Done():
	case <-conn.Done():
		c.log().Warn("transport stopped unexpectedly", "session", s.id)
		s.cancel()
	}

	<-senderDone

	dctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeoutValue())
	if err := conn.Disconnect(dctx); err != nil {
		c.log().Warn("disconnect did not complete", "session", s.id, "error", err)
	}
	cancel()

	c.closedDown(s)
}

func (c *Coordinator) shutdownTimeoutValue() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownTimeout
}

// send dispatches outbound requests in FIFO order until the session stops.
func (c *Coordinator) send(s *session, conn mqtt.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.outbound.signal():
		}

		reqs, _ := s.outbound.take()
		for _, req := range reqs {
			if s.ctx.Err() != nil {
				return
			}
			c.dispatch(s, conn, req)
		}
	}
}

func (c *Coordinator) dispatch(s *session, conn mqtt.Conn, req request) {
	switch req.kind {
	case requestPublish:
		if err := conn.Publish(s.ctx, req.topic, req.payload, req.qos); err != nil {
			c.log().Warn("publish failed",
				"session", s.id,
				"topic", req.topic,
				"error", err,
			)
			return
		}
		c.emit(s, Event{Kind: EventPublishAcked, Topic: req.topic, Payload: req.payload})

	case requestSubscribe:
		if err := conn.Subscribe(s.ctx, req.topic, req.qos); err != nil {
			c.log().Warn("subscribe failed",
				"session", s.id,
				"topic", req.topic,
				"error", err,
			)
			return
		}
		c.log().Debug("subscribed", "session", s.id, "topic", req.topic)
	}
}

// =============================================================================
// State transitions
//
// Every transition runs under c.mu and is ignored once the session is stale
// or no longer current, so a torn-down session can never reach the consumer.
// =============================================================================

func (c *Coordinator) live(s *session) bool {
	return c.current == s && !s.stale
}

// newEvent stamps an event for s. Caller holds c.mu.
func (c *Coordinator) newEvent(s *session, kind EventKind) Event {
	return Event{Kind: kind, Session: s.id, Time: time.Now()}
}

// emit queues e for s if s is still live.
func (c *Coordinator) emit(s *session, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(s) {
		return
	}
	e.Session = s.id
	e.Time = time.Now()
	c.queue.push(e)
}

// markConnected emits Connected and queues the default subscription.
// Caller holds c.mu.
func (c *Coordinator) markConnected(s *session) {
	s.state = StateConnected
	if s.connected {
		return
	}
	s.connected = true
	c.queue.push(c.newEvent(s, EventConnected))
	if s.cfg.DefaultTopic != "" {
		s.outbound.push(request{kind: requestSubscribe, topic: s.cfg.DefaultTopic, qos: s.cfg.QoS})
	}
}

// initialUp records the successful first connection.
func (c *Coordinator) initialUp(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(s) {
		return
	}
	s.established = true
	if s.dropped {
		// The link already dropped; linkUp reports the restored connection.
		return
	}
	c.markConnected(s)
	c.logger.Info("connected to broker", "session", s.id)
}

// linkUp handles a connection restored by the transport.
func (c *Coordinator) linkUp(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(s) {
		return
	}
	c.markConnected(s)
	c.logger.Info("connection restored", "session", s.id)
}

// linkLost handles a dropped link. The transport keeps reconnecting.
func (c *Coordinator) linkLost(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(s) {
		return
	}
	if !s.established {
		s.dropped = true
	}
	s.state = StateConnecting
	if s.connected {
		s.connected = false
		c.queue.push(c.newEvent(s, EventDisconnected))
	}
	c.logger.Warn("connection lost", "session", s.id, "error", err)
}

// connectFailed handles the end of an initial attempt that never connected.
// A cancelled attempt ends silently.
func (c *Coordinator) connectFailed(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(s) {
		return
	}
	s.state = StateDisconnected
	if s.ctx.Err() != nil {
		c.logger.Debug("connection attempt cancelled", "session", s.id)
		return
	}
	e := c.newEvent(s, EventConnectError)
	e.Reason = err.Error()
	c.queue.push(e)
	c.logger.Warn("connection failed", "session", s.id, "error", err)
}

// closedDown records a session that has finished disconnecting.
func (c *Coordinator) closedDown(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(s) {
		return
	}
	s.state = StateDisconnected
	if s.connected {
		s.connected = false
		c.queue.push(c.newEvent(s, EventDisconnected))
	}
	c.logger.Info("disconnected from broker", "session", s.id)
}
