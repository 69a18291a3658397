// Package journal keeps a local SQLite record of delivery outcomes and of
// result batches that could not be reported. It exists for operators and
// manual recovery; journal failures never affect the task lifecycle.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/sungwon/mail-agent/internal/task"
)

// Journal is a local SQLite journal of per-task outcomes and dead-letter
// batches.
type Journal struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// DeadLetter is a result batch that exhausted report retries.
type DeadLetter struct {
	ID        string    `db:"id" json:"id"`
	Payload   string    `db:"payload" json:"payload"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Open opens (or creates) the journal database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string, log zerolog.Logger) (*Journal, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db, log: log}
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

// RecordDelivery appends one task outcome to the delivery log.
func (j *Journal) RecordDelivery(ctx context.Context, t *task.Task, res task.Result) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO delivery_log (queue_id, campaign_id, recipient, smtp_email, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.QueueID, t.CampaignID, t.Contact.Email, res.SMTPEmail,
		boolToInt(res.Success), res.Error, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording delivery for queue id %d: %w", res.QueueID, err)
	}
	return nil
}

// DeadLetterBatch stores a result batch that could not be reported, for
// manual recovery.
func (j *Journal) DeadLetterBatch(ctx context.Context, results []task.Result, reason string) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling dead-letter payload: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, payload, reason, created_at)
		VALUES (?, ?, ?, ?)`,
		uuid.New().String(), string(payload), reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing dead-letter batch: %w", err)
	}
	return nil
}

// DeadLetters returns the most recent dead-letter batches, newest first.
func (j *Journal) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}

	var letters []DeadLetter
	err := j.db.SelectContext(ctx, &letters,
		"SELECT id, payload, reason, created_at FROM dead_letters ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	return letters, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
