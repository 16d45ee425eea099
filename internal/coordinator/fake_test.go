package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tinymqtt/internal/infrastructure/mqtt"
)

const (
	eventTimeout = 2 * time.Second
	quietPeriod  = 100 * time.Millisecond
)

// pub is one publish seen by a fakeConn.
type pub struct {
	topic   string
	payload string
	qos     byte
}

// fakeConn is a scripted mqtt.Conn. Tests drive its Handlers directly to
// simulate library callbacks.
type fakeConn struct {
	handlers mqtt.Handlers

	mu          sync.Mutex
	published   []pub
	subscribed  []string
	publishErr  error
	disconnects int

	publishedCh  chan pub
	subscribedCh chan string

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeConn(h mqtt.Handlers) *fakeConn {
	return &fakeConn{
		handlers:     h,
		publishedCh:  make(chan pub, 64),
		subscribedCh: make(chan string, 64),
		done:         make(chan struct{}),
	}
}

func (f *fakeConn) Publish(_ context.Context, topic string, payload []byte, qos byte) error {
	f.mu.Lock()
	err := f.publishErr
	p := pub{topic: topic, payload: string(payload), qos: qos}
	if err == nil {
		f.published = append(f.published, p)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.publishedCh <- p
	return nil
}

func (f *fakeConn) Subscribe(_ context.Context, filter string, _ byte) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, filter)
	f.mu.Unlock()
	f.subscribedCh <- filter
	return nil
}

func (f *fakeConn) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) Done() <-chan struct{} {
	return f.done
}

func (f *fakeConn) setPublishErr(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

func (f *fakeConn) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeConn) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

// fakeDialer hands out fakeConns, or fails with dialErr. When hold is set,
// Dial blocks until it is closed or ctx is done.
type fakeDialer struct {
	mu      sync.Mutex
	dialErr error
	hold    chan struct{}
	opts    []mqtt.Options
	conns   []*fakeConn

	dialed chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, opts mqtt.Options, h mqtt.Handlers) (mqtt.Conn, error) {
	d.mu.Lock()
	d.opts = append(d.opts, opts)
	hold := d.hold
	err := d.dialErr
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn(h)
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	d.dialed <- conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opts)
}

func (d *fakeDialer) waitConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for Dial")
		return nil
	}
}

// waitDials blocks until Dial has been entered n times.
func waitDials(t *testing.T, d *fakeDialer, n int) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for d.dialCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Dial entered %d times, want %d", d.dialCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func validConfig() Config {
	return Config{
		Broker:       "127.0.0.1",
		Port:         1883,
		DefaultTopic: "test/topic",
	}
}

func newTestCoordinator(t *testing.T, d *fakeDialer) *Coordinator {
	t.Helper()
	c := New(d)
	c.SetShutdownTimeout(time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		_ = c.Close(ctx)
		// Drain so the pump can exit.
		for range c.Events() {
		}
	})
	return c
}

func nextEvent(t *testing.T, c *Coordinator) Event {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return e
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectEvent(t *testing.T, c *Coordinator, kind EventKind) Event {
	t.Helper()
	e := nextEvent(t, c)
	if e.Kind != kind {
		t.Fatalf("event kind = %v, want %v (event %+v)", e.Kind, kind, e)
	}
	return e
}

func expectNoEvent(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		if ok {
			t.Fatalf("unexpected event %v (session %d)", e.Kind, e.Session)
		}
	case <-time.After(quietPeriod):
	}
}

func expectSubscribe(t *testing.T, conn *fakeConn, want string) {
	t.Helper()
	select {
	case got := <-conn.subscribedCh:
		if got != want {
			t.Fatalf("subscribed %q, want %q", got, want)
		}
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for subscribe to %q", want)
	}
}

func expectNoSubscribe(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case got := <-conn.subscribedCh:
		t.Fatalf("unexpected subscribe to %q", got)
	case <-time.After(quietPeriod):
	}
}

// connect starts a session and waits for its Connected event.
func connect(t *testing.T, c *Coordinator, d *fakeDialer, cfg Config) (*fakeConn, Event) {
	t.Helper()
	if err := c.ConfigureAndConnect(context.Background(), cfg); err != nil {
		t.Fatalf("ConfigureAndConnect() error = %v", err)
	}
	conn := d.waitConn(t)
	e := expectEvent(t, c, EventConnected)
	return conn, e
}

var errRefused = errors.New("connection refused")
