package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/tinymqtt/internal/coordinator"
)

const (
	// DefaultLimit is used by Recent when limit is not positive.
	DefaultLimit = 20

	// MaxLimit caps a single Recent query.
	MaxLimit = 1000
)

// Entry is one recorded session event.
type Entry struct {
	ID         int64
	Session    uint64
	Kind       string
	Topic      string
	Payload    []byte
	Reason     string
	OccurredAt time.Time
}

// FromEvent converts a coordinator event into an unsaved Entry.
func FromEvent(ev coordinator.Event) Entry {
	return Entry{
		Session:    ev.Session,
		Kind:       ev.Kind.String(),
		Topic:      ev.Topic,
		Payload:    append([]byte(nil), ev.Payload...),
		Reason:     ev.Reason,
		OccurredAt: ev.Time,
	}
}

// Repository defines message history storage.
type Repository interface {
	// Record stores the entry and sets its ID.
	Record(ctx context.Context, e *Entry) error

	// Recent returns up to limit of the newest entries, oldest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Clear deletes every entry.
	Clear(ctx context.Context) error
}

// SQLiteRepository implements Repository on the history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a history repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e. OccurredAt defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Kind == "" {
		return fmt.Errorf("history entry kind is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO history (session, kind, topic, payload, reason, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int64(e.Session), e.Kind, e.Topic, e.Payload, e.Reason, //nolint:gosec // session ids are small counters
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading history entry id: %w", err)
	}
	e.ID = id
	return nil
}

// Recent returns the newest entries in the order they happened.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session, kind, topic, payload, reason, occurred_at
		 FROM history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var session int64
		var occurredAt string
		if err := rows.Scan(&e.ID, &session, &e.Kind, &e.Topic, &e.Payload, &e.Reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.Session = uint64(session) //nolint:gosec // written from a uint64 counter
		t, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing history timestamp %q: %w", occurredAt, err)
		}
		e.OccurredAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Clear deletes all history.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}
