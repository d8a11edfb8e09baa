// Package history is an optional write-only log of attention events backed
// by SQLite. It exists for after-class analytics; the room table never
// reads from it, so live session state stays in-memory and ephemeral.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Event kinds recorded in the log.
const (
	KindAttention  = "attention_update"
	KindAlert      = "alert"
	KindClearAlert = "clear_alert"
)

// Event is one recorded attention event.
type Event struct {
	ID          string    `json:"id"`
	RoomCode    string    `json:"room_code"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Severity    string    `json:"severity"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS attention_events (
	id TEXT PRIMARY KEY,
	room_code TEXT NOT NULL,
	student_id TEXT NOT NULL,
	student_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attention_events_room ON attention_events(room_code, created_at);
`

// Store writes attention events to SQLite through a single writer
// goroutine, which keeps SQLite write contention off the hot path.
type Store struct {
	db       *sql.DB
	timeout  time.Duration
	writeCh  chan Event
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// Open opens (creating if necessary) the event log at path.
func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Store{
		db:       db,
		timeout:  timeout,
		writeCh:  make(chan Event, 256),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.writeCh:
			if err := s.insert(ev); err != nil {
				log.Printf("History write failed: %v", err)
			}
		case <-s.shutdown:
			// Drain queued events before exiting.
			for {
				select {
				case ev := <-s.writeCh:
					if err := s.insert(ev); err != nil {
						log.Printf("History write failed during shutdown: %v", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Store) insert(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attention_events (id, room_code, student_id, student_name, kind, status, severity, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RoomCode, ev.StudentID, ev.StudentName, ev.Kind, ev.Status, ev.Severity, ev.Confidence, ev.CreatedAt,
	)
	return err
}

// Record queues one event for the writer goroutine. Recording is best
// effort: if the queue is full the event is dropped and logged rather than
// blocking message handling.
func (s *Store) Record(ev Event) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	select {
	case s.writeCh <- ev:
	default:
		log.Printf("History queue full, dropping %s event for %s", ev.Kind, ev.StudentID)
	}
}

// RecentEvents returns the most recent events for a room, newest first.
func (s *Store) RecentEvents(ctx context.Context, roomCode string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_code, student_id, student_name, kind, status, severity, confidence, created_at
		FROM attention_events WHERE room_code = ?
		ORDER BY created_at DESC LIMIT ?`, roomCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.RoomCode, &ev.StudentID, &ev.StudentName,
			&ev.Kind, &ev.Status, &ev.Severity, &ev.Confidence, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer goroutine and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
