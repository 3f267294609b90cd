// Package audit implements the operational audit trail: a sqlite-backed
// log of authentication decisions and consensus events, kept separate from
// the in-memory, TTL-bounded batch/task state that is deliberately not
// persisted long-term.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed sql/0*.sql
var migrations embed.FS

// Store records auth and consensus events for operator-facing inspection.
// A nil *Store is never constructed; callers that disable auditing (empty
// AuditDBPath) simply don't build one and check for nil before use.
type Store struct {
	db        *sql.DB
	retention time.Duration
}

// Open initializes (creating if needed) the sqlite audit database at path
// and applies embedded migrations, mirroring the teacher's InitDB/migrate
// pattern (modernc.org/sqlite driver, goose.NewProvider instead of global
// SetDialect/SetBaseFS state).
func Open(ctx context.Context, path string, retention time.Duration) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?mode=rwc"+
			"&_pragma=journal_mode(WAL)"+
			"&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(10000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	return &Store{db: db, retention: retention}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	subFS, err := fs.Sub(migrations, "sql")
	if err != nil {
		return fmt.Errorf("sub filesystem: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("new goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordAuth appends one authentication decision. The submission handler
// discards write failures rather than returning them up into the request
// path — the audit trail must not affect request success.
func (s *Store) RecordAuth(ctx context.Context, hotkey, code, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_events (hotkey, code, message) VALUES (?, ?, ?)`,
		hotkey, code, message)
	return err
}

// RecordConsensus appends one vote outcome.
func (s *Store) RecordConsensus(ctx context.Context, hotkey, hash, status string, votes, required int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consensus_events (hotkey, hash, status, votes, required) VALUES (?, ?, ?, ?, ?)`,
		hotkey, hash, status, votes, required)
	return err
}

// AuthEvent is one row of the auth_events table.
type AuthEvent struct {
	ID        int64
	Hotkey    string
	Code      string
	Message   string
	CreatedAt time.Time
}

// RecentAuthEvents returns up to limit most-recent authentication events,
// newest first.
func (s *Store) RecentAuthEvents(ctx context.Context, limit int) ([]AuthEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hotkey, code, message, created_at FROM auth_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuthEvent
	for rows.Next() {
		var e AuthEvent
		if err := rows.Scan(&e.ID, &e.Hotkey, &e.Code, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReapLoop runs until done is closed, pruning rows older than the
// configured retention every interval.
func (s *Store) ReapLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

// sqliteTimestampFormat matches SQLite's CURRENT_TIMESTAMP column default
// ("YYYY-MM-DD HH:MM:SS", UTC, no sub-second or zone suffix). Binding a Go
// time.Time directly would compare against that TEXT column using whatever
// RFC3339 encoding the driver happens to choose, which does not order
// correctly against it — so the cutoff is formatted to the same layout
// before binding.
const sqliteTimestampFormat = "2006-01-02 15:04:05"

func (s *Store) reapOnce() {
	cutoff := time.Now().Add(-s.retention).UTC().Format(sqliteTimestampFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = s.db.ExecContext(ctx, `DELETE FROM auth_events WHERE created_at < ?`, cutoff)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM consensus_events WHERE created_at < ?`, cutoff)
}
