package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tinymqtt/internal/coordinator"
	"github.com/nerrad567/tinymqtt/internal/display"
	"github.com/nerrad567/tinymqtt/internal/history"
	"github.com/nerrad567/tinymqtt/internal/settings"
)

// fakeCoordinator records calls and exposes a controllable event stream.
type fakeCoordinator struct {
	mu         sync.Mutex
	events     chan coordinator.Event
	state      coordinator.State
	configs    []coordinator.Config
	publishes  []string
	subscribes []string
	disconnect int
	err        error

	// gate, when set, holds ConfigureAndConnect until it is closed.
	gate chan struct{}
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{events: make(chan coordinator.Event)}
}

func (f *fakeCoordinator) Events() <-chan coordinator.Event { return f.events }

func (f *fakeCoordinator) State() coordinator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCoordinator) ConfigureAndConnect(_ context.Context, cfg coordinator.Config) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.configs = append(f.configs, cfg)
	f.state = coordinator.StateConnecting
	return nil
}

func (f *fakeCoordinator) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect++
	f.state = coordinator.StateDisconnected
}

func (f *fakeCoordinator) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.publishes = append(f.publishes, topic+"="+string(payload))
	return nil
}

func (f *fakeCoordinator) Subscribe(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subscribes = append(f.subscribes, filter)
	return nil
}

func (f *fakeCoordinator) setState(s coordinator.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// fakeHistory is an in-memory History.
type fakeHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	cleared int
	err     error
}

func (h *fakeHistory) RecordEvent(_ context.Context, ev coordinator.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, history.FromEvent(ev))
	return nil
}

func (h *fakeHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > len(h.entries) {
		limit = len(h.entries)
	}
	return append([]history.Entry(nil), h.entries[len(h.entries)-limit:]...), nil
}

func (h *fakeHistory) Clear(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.cleared++
	return nil
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func newTestController(t *testing.T) (*Controller, *fakeCoordinator, *display.Memory, *settings.MemoryStore) {
	t.Helper()
	coord := newFakeCoordinator()
	sink := display.NewMemory()
	store := settings.NewMemoryStore()
	if err := store.Save(settings.Connection{Broker: "broker.local", Port: 1883, User: "u", Password: "p"}); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	c, err := New(coord, store, sink, coordinator.Config{ClientID: "tinymqtt-test", QoS: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, coord, sink, store
}

// ============================================================================
// Construction
// ============================================================================

type failingStore struct{}

func (failingStore) Load() (settings.Connection, error) { return settings.Connection{}, errors.New("disk gone") }
func (failingStore) Save(settings.Connection) error     { return errors.New("disk gone") }

func TestNew_LoadError(t *testing.T) {
	if _, err := New(newFakeCoordinator(), failingStore{}, display.NewMemory(), coordinator.Config{}); err == nil {
		t.Fatal("New() with failing store succeeded")
	}
}

func TestNew_Defaults(t *testing.T) {
	c, _, _, _ := newTestController(t)
	if c.Topic() != DefaultTopic {
		t.Errorf("Topic() = %q, want %q", c.Topic(), DefaultTopic)
	}
	if c.Status() != "Disconnected" {
		t.Errorf("Status() = %q, want Disconnected", c.Status())
	}
	if c.Connected() {
		t.Error("Connected() = true before any event")
	}
	if got := c.Settings().Broker; got != "broker.local" {
		t.Errorf("Settings().Broker = %q", got)
	}
}

func TestNew_TopicFromBase(t *testing.T) {
	c, err := New(newFakeCoordinator(), settings.NewMemoryStore(), display.NewMemory(), coordinator.Config{DefaultTopic: "site/#"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Topic() != "site/#" {
		t.Errorf("Topic() = %q, want site/#", c.Topic())
	}
}

// ============================================================================
// Connect / Reconnect / Disconnect
// ============================================================================

func TestConnect_BuildsSessionConfig(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	if err := c.SetTopic("custom/topic"); err != nil {
		t.Fatalf("SetTopic() error = %v", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(coord.configs) != 1 {
		t.Fatalf("ConfigureAndConnect calls = %d, want 1", len(coord.configs))
	}
	cfg := coord.configs[0]
	want := coordinator.Config{
		Broker: "broker.local", Port: 1883, Username: "u", Password: "p",
		DefaultTopic: "custom/topic", ClientID: "tinymqtt-test", QoS: 1,
	}
	if cfg != want {
		t.Errorf("config = %+v, want %+v", cfg, want)
	}
	if c.Status() != "Connecting to broker.local:1883" {
		t.Errorf("Status() = %q", c.Status())
	}
}

func TestConnect_Gating(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(c *Controller, f *fakeCoordinator)
		wantErr error
	}{
		{
			name:    "while connecting",
			prepare: func(_ *Controller, f *fakeCoordinator) { f.setState(coordinator.StateConnecting) },
			wantErr: ErrConnecting,
		},
		{
			name: "while connected",
			prepare: func(c *Controller, f *fakeCoordinator) {
				f.setState(coordinator.StateConnected)
				c.OnEvent(coordinator.Event{Kind: coordinator.EventConnected})
			},
			wantErr: ErrAlreadyConnected,
		},
		{
			name: "after connect error",
			prepare: func(c *Controller, f *fakeCoordinator) {
				c.OnEvent(coordinator.Event{Kind: coordinator.EventConnected})
				c.OnEvent(coordinator.Event{Kind: coordinator.EventConnectError, Reason: "x"})
				f.setState(coordinator.StateDisconnected)
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, coord, _, _ := newTestController(t)
			tt.prepare(c, coord)
			err := c.Connect(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Connect() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReconnect_IgnoresState(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	c.OnEvent(coordinator.Event{Kind: coordinator.EventConnected})

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if len(coord.configs) != 1 {
		t.Errorf("ConfigureAndConnect calls = %d, want 1", len(coord.configs))
	}
}

func TestReconnect_PropagatesValidation(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	coord.err = coordinator.ErrInvalidConfig

	if err := c.Reconnect(context.Background()); !errors.Is(err, coordinator.ErrInvalidConfig) {
		t.Errorf("Reconnect() error = %v, want ErrInvalidConfig", err)
	}
	if c.Status() != "Disconnected" {
		t.Errorf("Status() = %q after failed Reconnect", c.Status())
	}
}

func TestConnect_ConcurrentCallsStartOneAttempt(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	coord.gate = make(chan struct{})

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- c.Connect(context.Background()) }()
	}
	time.Sleep(50 * time.Millisecond)
	close(coord.gate)

	var started, refused int
	for range 2 {
		select {
		case err := <-errs:
			switch {
			case err == nil:
				started++
			case errors.Is(err, ErrConnecting):
				refused++
			default:
				t.Errorf("Connect() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Connect() did not return")
		}
	}
	if started != 1 || refused != 1 {
		t.Errorf("started = %d, refused = %d, want 1 and 1", started, refused)
	}

	coord.mu.Lock()
	defer coord.mu.Unlock()
	if len(coord.configs) != 1 {
		t.Errorf("ConfigureAndConnect calls = %d, want 1", len(coord.configs))
	}
}

func TestStatus_CancelledAttemptFallsBackToDisconnected(t *testing.T) {
	c, _, _, _ := newTestController(t)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := c.Status(); got != "Connecting to broker.local:1883" {
		t.Fatalf("Status() = %q", got)
	}

	// Cancelling a pending attempt emits no event.
	c.Disconnect()
	if got := c.Status(); got != "Disconnected" {
		t.Errorf("Status() after cancel = %q, want Disconnected", got)
	}
}

func TestStatus_KeepsEventStatus(t *testing.T) {
	c, coord, _, _ := newTestController(t)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	coord.setState(coordinator.StateConnected)
	c.OnEvent(coordinator.Event{Kind: coordinator.EventConnected})

	// The link drops; the Disconnected event has not been consumed yet.
	coord.setState(coordinator.StateDisconnected)
	if got := c.Status(); got != "Connected successfully" {
		t.Errorf("Status() = %q, want Connected successfully", got)
	}
}

func TestDisconnect_Delegates(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	c.Disconnect()
	if coord.disconnect != 1 {
		t.Errorf("Disconnect calls = %d, want 1", coord.disconnect)
	}
}

// ============================================================================
// Publish / Subscribe / Topic
// ============================================================================

func TestPublish_ClearsPending(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	c.SetPending("hello")

	if err := c.PublishPending(); err != nil {
		t.Fatalf("PublishPending() error = %v", err)
	}
	if len(coord.publishes) != 1 || coord.publishes[0] != "test/topic=hello" {
		t.Errorf("publishes = %v", coord.publishes)
	}
	if c.Pending() != "" {
		t.Errorf("Pending() = %q, want cleared", c.Pending())
	}
}

func TestPublish_FailureKeepsPending(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	coord.err = coordinator.ErrNotConnected
	c.SetPending("keep me")

	if err := c.Publish("t", "keep me"); !errors.Is(err, coordinator.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if c.Pending() != "keep me" {
		t.Errorf("Pending() = %q, want kept", c.Pending())
	}
}

func TestPublishPreset(t *testing.T) {
	tests := []struct {
		topic, payload string
		wantErr        error
	}{
		{"qos0", "0", nil},
		{"qos0", "1", nil},
		{"qos1", "0", nil},
		{"qos1", "1", nil},
		{"qos2", "0", ErrUnknownPreset},
		{"qos0", "2", ErrUnknownPreset},
	}

	for _, tt := range tests {
		t.Run(tt.topic+"_"+tt.payload, func(t *testing.T) {
			c, coord, _, _ := newTestController(t)
			c.SetPending("untouched")

			err := c.PublishPreset(tt.topic, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PublishPreset() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (len(coord.publishes) != 1 || coord.publishes[0] != tt.topic+"="+tt.payload) {
				t.Errorf("publishes = %v", coord.publishes)
			}
			if c.Pending() != "untouched" {
				t.Error("PublishPreset() changed pending text")
			}
		})
	}
}

func TestSetTopic(t *testing.T) {
	c, _, _, _ := newTestController(t)

	for _, bad := range []string{"", "a/#/b", "x+"} {
		if err := c.SetTopic(bad); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("SetTopic(%q) error = %v, want ErrInvalidTopic", bad, err)
		}
	}
	if c.Topic() != DefaultTopic {
		t.Errorf("Topic() = %q after rejected sets", c.Topic())
	}

	if err := c.SetTopic("sensors/+/temp"); err != nil {
		t.Fatalf("SetTopic() error = %v", err)
	}
	if c.Topic() != "sensors/+/temp" {
		t.Errorf("Topic() = %q", c.Topic())
	}
}

func TestSubscribe_Delegates(t *testing.T) {
	c, coord, _, _ := newTestController(t)
	if err := c.Subscribe("a/b"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(coord.subscribes) != 1 || coord.subscribes[0] != "a/b" {
		t.Errorf("subscribes = %v", coord.subscribes)
	}
}

// ============================================================================
// Settings
// ============================================================================

func TestUpdateSettings_Persists(t *testing.T) {
	c, _, _, store := newTestController(t)
	conn := settings.Connection{Broker: "new.host", Port: 8883, User: "a", Password: "b"}

	if err := c.UpdateSettings(conn); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	if c.Settings() != conn {
		t.Errorf("Settings() = %+v", c.Settings())
	}
	saved, _ := store.Load() //nolint:errcheck // memory store
	if saved != conn {
		t.Errorf("stored = %+v, want %+v", saved, conn)
	}
}

func TestUpdateSettings_RejectsPort(t *testing.T) {
	c, _, _, store := newTestController(t)
	before, _ := store.Load() //nolint:errcheck // memory store

	err := c.UpdateSettings(settings.Connection{Broker: "h", Port: 70000})
	if !errors.Is(err, settings.ErrInvalidPort) {
		t.Errorf("UpdateSettings() error = %v, want ErrInvalidPort", err)
	}
	after, _ := store.Load() //nolint:errcheck // memory store
	if after != before {
		t.Error("invalid settings were saved")
	}
}

func TestApplySettings(t *testing.T) {
	c, _, _, _ := newTestController(t)

	if err := c.ApplySettings(map[string]string{"broker": "b2", "port": "1884"}); err != nil {
		t.Fatalf("ApplySettings() error = %v", err)
	}
	if got := c.Settings(); got.Broker != "b2" || got.Port != 1884 || got.User != "u" {
		t.Errorf("Settings() = %+v", got)
	}

	err := c.ApplySettings(map[string]string{"port": "abc"})
	if !errors.Is(err, settings.ErrInvalidPort) {
		t.Errorf("ApplySettings(port=abc) error = %v, want ErrInvalidPort", err)
	}
	if c.Settings().Port != 1884 {
		t.Error("rejected port was applied")
	}

	if err := c.ApplySettings(map[string]string{"colour": "red"}); !errors.Is(err, settings.ErrUnknownField) {
		t.Errorf("ApplySettings(colour) error = %v, want ErrUnknownField", err)
	}
}

// ============================================================================
// Events
// ============================================================================

func TestOnEvent_Lines(t *testing.T) {
	c, _, sink, _ := newTestController(t)

	c.OnEvent(coordinator.Event{Kind: coordinator.EventConnected})
	c.OnEvent(coordinator.Event{Kind: coordinator.EventMessageReceived, Topic: "test/topic", Payload: []byte("hi")})
	c.OnEvent(coordinator.Event{Kind: coordinator.EventPublishAcked, Topic: "qos0", Payload: []byte("0")})
	c.OnEvent(coordinator.Event{Kind: coordinator.EventDisconnected})

	want := []string{
		"Connected successfully",
		"Received message: test/topic -> hi",
		"Published message: 0 to topic: qos0",
		"Disconnected",
	}
	got := sink.Lines()
	if len(got) != len(want) {
		t.Fatalf("Lines() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(sink.Notices()) != 0 {
		t.Errorf("Notices() = %v, want none", sink.Notices())
	}
}

func TestOnEvent_ConnectErrorRaisesNotice(t *testing.T) {
	c, _, sink, _ := newTestController(t)

	c.OnEvent(coordinator.Event{Kind: coordinator.EventConnectError, Reason: "connection refused"})

	notices := sink.Notices()
	if len(notices) != 1 {
		t.Fatalf("Notices() = %v, want 1", notices)
	}
	want := display.Notice{Title: "Connection Error", Text: "Failed to connect to broker: connection refused"}
	if notices[0] != want {
		t.Errorf("notice = %+v, want %+v", notices[0], want)
	}
	if len(sink.Lines()) != 0 {
		t.Errorf("Lines() = %v, want none", sink.Lines())
	}
	if c.Connected() {
		t.Error("Connected() = true after ConnectError")
	}
}

func TestOnEvent_ConnectedTracking(t *testing.T) {
	c, _, _, _ := newTestController(t)

	steps := []struct {
		kind       coordinator.EventKind
		want       bool
		wantStatus string
	}{
		{coordinator.EventConnected, true, "Connected successfully"},
		{coordinator.EventMessageReceived, true, "Connected successfully"},
		{coordinator.EventPublishAcked, true, "Connected successfully"},
		{coordinator.EventDisconnected, false, "Disconnected"},
		{coordinator.EventConnected, true, "Connected successfully"},
		{coordinator.EventConnectError, false, "Disconnected"},
	}
	for i, s := range steps {
		c.OnEvent(coordinator.Event{Kind: s.kind})
		if c.Connected() != s.want {
			t.Errorf("step %d (%v): Connected() = %v, want %v", i, s.kind, c.Connected(), s.want)
		}
		if c.Status() != s.wantStatus {
			t.Errorf("step %d (%v): Status() = %q, want %q", i, s.kind, c.Status(), s.wantStatus)
		}
	}
}

func TestOnEvent_Recorders(t *testing.T) {
	c, _, _, _ := newTestController(t)
	h := &fakeHistory{}
	extra := &fakeHistory{err: errors.New("influx down")}
	c.SetHistory(h)
	c.AddRecorder(extra)

	c.OnEvent(coordinator.Event{Kind: coordinator.EventConnected})
	c.OnEvent(coordinator.Event{Kind: coordinator.EventKind(99)})

	if h.count() != 1 {
		t.Errorf("history entries = %d, want 1", h.count())
	}

	entries, err := c.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != "connected" {
		t.Errorf("History() = %+v", entries)
	}
}

// ============================================================================
// Status report
// ============================================================================

type fakeHealth struct{ err error }

func (h fakeHealth) HealthCheck(context.Context) error { return h.err }

func TestHealth(t *testing.T) {
	c, _, _, _ := newTestController(t)
	if got := c.Health(context.Background()); len(got) != 0 {
		t.Fatalf("Health() with no components = %+v", got)
	}

	errDown := errors.New("down")
	c.AddComponent("history", "./data/history.db", fakeHealth{})
	c.AddComponent("influxdb", "http://127.0.0.1:8086", fakeHealth{err: errDown})

	got := c.Health(context.Background())
	if len(got) != 2 {
		t.Fatalf("Health() = %+v, want 2 components", got)
	}
	if got[0].Name != "history" || got[0].Detail != "./data/history.db" || got[0].Err != nil {
		t.Errorf("Health()[0] = %+v", got[0])
	}
	if got[1].Name != "influxdb" || !errors.Is(got[1].Err, errDown) {
		t.Errorf("Health()[1] = %+v", got[1])
	}
}

func TestSettingsPath(t *testing.T) {
	c, _, _, _ := newTestController(t)
	if got := c.SettingsPath(); got != "" {
		t.Errorf("SettingsPath() with memory store = %q, want empty", got)
	}

	path := filepath.Join(t.TempDir(), "connection.yaml")
	fc, err := New(newFakeCoordinator(), settings.NewFileStore(path), display.NewMemory(), coordinator.Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := fc.SettingsPath(); got != path {
		t.Errorf("SettingsPath() = %q, want %q", got, path)
	}
}

func TestHistory_Disabled(t *testing.T) {
	c, _, _, _ := newTestController(t)
	if _, err := c.History(context.Background(), 5); !errors.Is(err, ErrHistoryDisabled) {
		t.Errorf("History() error = %v, want ErrHistoryDisabled", err)
	}
	if err := c.ClearLog(context.Background()); err != nil {
		t.Errorf("ClearLog() without history error = %v", err)
	}
}

func TestClearLog(t *testing.T) {
	c, _, sink, _ := newTestController(t)
	h := &fakeHistory{}
	c.SetHistory(h)
	c.OnEvent(coordinator.Event{Kind: coordinator.EventConnected})

	if err := c.ClearLog(context.Background()); err != nil {
		t.Fatalf("ClearLog() error = %v", err)
	}
	if sink.Clears() != 1 || len(sink.Lines()) != 0 {
		t.Errorf("display not cleared: clears=%d lines=%v", sink.Clears(), sink.Lines())
	}
	if h.cleared != 1 || h.count() != 0 {
		t.Errorf("history not cleared: cleared=%d entries=%d", h.cleared, h.count())
	}
}

// ============================================================================
// Run
// ============================================================================

func TestRun_ConsumesUntilClosed(t *testing.T) {
	c, coord, sink, _ := newTestController(t)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	coord.events <- coordinator.Event{Kind: coordinator.EventConnected}
	coord.events <- coordinator.Event{Kind: coordinator.EventMessageReceived, Topic: "a", Payload: []byte("b")}
	close(coord.events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the stream closed")
	}

	if got := sink.Lines(); len(got) != 2 || got[1] != "Received message: a -> b" {
		t.Errorf("Lines() = %v", got)
	}
}

func TestRun_StopsOnContext(t *testing.T) {
	c, _, _, _ := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
