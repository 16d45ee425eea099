package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// eventMeasurement is the measurement every session event is written to.
const eventMeasurement = "mqtt_events"

// SessionEvent is one coordinator event in telemetry form.
type SessionEvent struct {
	Kind         string
	Session      uint64
	Topic        string
	PayloadBytes int
	Reason       string
	Time         time.Time
}

// eventPoint builds the line-protocol point for ev.
//
// kind and topic are tags; topic is omitted for lifecycle events so
// they do not create an empty-tag series.
func eventPoint(ev SessionEvent) *write.Point {
	tags := map[string]string{"kind": ev.Kind}
	if ev.Topic != "" {
		tags["topic"] = ev.Topic
	}

	fields := map[string]interface{}{
		"count":         1,
		"session":       int64(ev.Session), //nolint:gosec // session ids are small counters
		"payload_bytes": ev.PayloadBytes,
	}
	if ev.Reason != "" {
		fields["reason"] = ev.Reason
	}

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(eventMeasurement, tags, fields, at)
}

// WriteSessionEvent queues ev for the next batch. Dropped when not connected.
func (c *Client) WriteSessionEvent(ev SessionEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(eventPoint(ev))
}
