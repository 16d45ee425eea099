package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tinymqtt/internal/infrastructure/config"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
// Override the token with TINYMQTT_INFLUXDB_TOKEN.
func testConfig() config.InfluxDBConfig {
	token := os.Getenv("TINYMQTT_INFLUXDB_TOKEN")
	if token == "" {
		token = "tinymqtt-dev-token"
	}
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         token,
		Org:           "tinymqtt",
		Bucket:        "mqtt",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the dev InfluxDB or skips the test.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() {
		client.Close() //nolint:errcheck // Test cleanup
	})
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	client := connectOrSkip(t)
	client.Close() //nolint:errcheck // Test

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteSessionEvent(t *testing.T) {
	client := connectOrSkip(t)

	var mu sync.Mutex
	var writeErrs []error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErrs = append(writeErrs, err)
		mu.Unlock()
	})

	client.WriteSessionEvent(influxdb.SessionEvent{Kind: "connected", Session: 1, Time: time.Now()})
	client.WriteSessionEvent(influxdb.SessionEvent{
		Kind: "message_received", Session: 1, Topic: "test/topic", PayloadBytes: 5, Time: time.Now(),
	})
	client.Close() //nolint:errcheck // Close flushes the batch

	mu.Lock()
	defer mu.Unlock()
	for _, err := range writeErrs {
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error not wrapped: %v", err)
		}
	}
}

func TestClose_Twice(t *testing.T) {
	client := connectOrSkip(t)
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	// Writes after close are dropped.
	client.WriteSessionEvent(influxdb.SessionEvent{Kind: "disconnected"})
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}
