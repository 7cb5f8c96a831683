// Package journal keeps a SQLite log of safety-relevant events: emergency
// stops, bus failures, clamp episodes and remote client sessions.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gwillem/lerobot-remote/pkg/logger"
)

const sqliteDriverName = "sqlite"

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    occurred_at INTEGER NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL,
    meta TEXT
);
CREATE INDEX IF NOT EXISTS events_occurred_at ON events (occurred_at);
`

const insertEvent = `INSERT INTO events (id, occurred_at, kind, message, meta) VALUES (?, ?, ?, ?, ?)`

// Event is one journal row. OccurredAt has millisecond precision.
type Event struct {
	ID         string         `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Open opens or creates the SQLite file at path and ensures the schema exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if _, err := db.Exec(schemaEvents); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Journal writes events asynchronously so callers on the control path never
// wait for the disk.
type Journal struct {
	db      *sql.DB
	queue   chan Event
	log     *logger.Logger
	dropped atomic.Int64
}

// New returns a journal on db with room for size pending events.
func New(db *sql.DB, size int, log *logger.Logger) *Journal {
	if size <= 0 {
		size = 128
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Journal{db: db, queue: make(chan Event, size), log: log}
}

// Record queues an event without blocking. When the queue is full the event
// is dropped and counted.
func (j *Journal) Record(kind, message string, meta map[string]any) {
	ev := Event{OccurredAt: time.Now(), Kind: kind, Message: message, Meta: meta}
	select {
	case j.queue <- ev:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many events Record discarded.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-j.queue:
			j.write(ev)
		case <-ctx.Done():
			j.flush()
			return ctx.Err()
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case ev := <-j.queue:
			j.write(ev)
		default:
			return
		}
	}
}

// write is not bound to Run's context so queued events survive shutdown.
func (j *Journal) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.Append(ctx, ev); err != nil {
		j.log.Warnw("journal write failed", "kind", ev.Kind, "err", err)
	}
}

// Append inserts an event. Empty ID and zero OccurredAt are filled in.
func (j *Journal) Append(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	var meta *string
	if ev.Meta != nil {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			meta = &s
		}
	}

	_, err := j.db.ExecContext(ctx, insertEvent,
		ev.ID,
		ev.OccurredAt.UnixMilli(),
		strings.TrimSpace(ev.Kind),
		ev.Message,
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns up to limit events, newest first, optionally of one kind.
func (j *Journal) List(ctx context.Context, limit int, kind string) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, occurred_at, kind, message, meta FROM events`
	var args []any
	if kind = strings.TrimSpace(kind); kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY occurred_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev   Event
			ms   int64
			meta sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ms, &ev.Kind, &ev.Message, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.OccurredAt = time.UnixMilli(ms)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &ev.Meta); err != nil {
				ev.Meta = map[string]any{"raw": meta.String}
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}
