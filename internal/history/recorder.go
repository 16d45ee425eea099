package history

import (
	"context"

	"github.com/nerrad567/tinymqtt/internal/coordinator"
)

// Recorder writes every session event to a Repository.
type Recorder struct {
	repo Repository
}

// NewRecorder creates a Recorder on repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// RecordEvent stores ev as a history entry.
func (r *Recorder) RecordEvent(ctx context.Context, ev coordinator.Event) error {
	e := FromEvent(ev)
	return r.repo.Record(ctx, &e)
}

// Recent lists the newest entries, oldest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return r.repo.Recent(ctx, limit)
}

// Clear empties the history.
func (r *Recorder) Clear(ctx context.Context) error {
	return r.repo.Clear(ctx)
}
