// Package telemetry forwards session events to a time-series writer.
package telemetry

import (
	"context"

	"github.com/nerrad567/tinymqtt/internal/coordinator"
	"github.com/nerrad567/tinymqtt/internal/infrastructure/influxdb"
)

// Writer accepts session events for batching. *influxdb.Client implements it.
type Writer interface {
	WriteSessionEvent(ev influxdb.SessionEvent)
}

// Recorder converts coordinator events to telemetry points.
type Recorder struct {
	w Writer
}

// NewRecorder creates a Recorder on w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w}
}

// RecordEvent queues ev. Write failures surface asynchronously through the
// writer's own error callback, so this never fails.
func (r *Recorder) RecordEvent(_ context.Context, ev coordinator.Event) error {
	r.w.WriteSessionEvent(influxdb.SessionEvent{
		Kind:         ev.Kind.String(),
		Session:      ev.Session,
		Topic:        ev.Topic,
		PayloadBytes: len(ev.Payload),
		Reason:       ev.Reason,
		Time:         ev.Time,
	})
	return nil
}
