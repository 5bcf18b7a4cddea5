// Package journal keeps a local record of every tracked send so history can
// be listed without a backend round trip. Journal failures never fail a send.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Entry is one journaled dispatch. Kind is "send" or "draft"; ProviderID is
// the provider's message or draft id.
type Entry struct {
	ID         string    `db:"id"`
	TrackingID string    `db:"tracking_id"`
	Recipient  string    `db:"recipient"`
	Subject    string    `db:"subject"`
	Kind       string    `db:"kind"`
	ProviderID string    `db:"provider_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// Journal is a SQLite-backed append-only log of dispatched sends.
type Journal struct {
	db *sqlx.DB
}

// Open opens (or creates) the journal database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string) (*Journal, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db}
	if err := j.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (j *Journal) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := j.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = j.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Record appends one dispatched send. The entry id is generated when absent.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sends (id, tracking_id, recipient, subject, kind, provider_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TrackingID, e.Recipient, e.Subject, e.Kind,
		e.ProviderID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording send %s: %w", e.TrackingID, err)
	}
	return nil
}

// History lists journaled sends newest first, bounded by limit.
func (j *Journal) History(ctx context.Context, limit int) ([]Entry, error) {
	query := "SELECT * FROM sends ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var entries []Entry
	if err := j.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("querying send history: %w", err)
	}
	return entries, nil
}

// ByTrackingID returns the journaled entry for a tracking id, or nil when
// the id was never dispatched from this installation.
func (j *Journal) ByTrackingID(ctx context.Context, trackingID string) (*Entry, error) {
	var e Entry
	err := j.db.GetContext(ctx,
		&e, "SELECT * FROM sends WHERE tracking_id = ?", trackingID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying send %s: %w", trackingID, err)
	}
	return &e, nil
}
