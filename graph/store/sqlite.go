package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed CheckpointStore using the pure-Go
// modernc.org/sqlite driver (no cgo). It is the recommended store for
// single-process deployments and local development, following the
// teacher's WAL-mode single-writer configuration.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures the checkpoint schema exists. Use ":memory:" for an
// ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite supports one writer at a time.

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id      TEXT PRIMARY KEY,
	graph_id    TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	message     TEXT NOT NULL,
	saved_state TEXT NOT NULL DEFAULT '{}',
	envelope_version TEXT NOT NULL DEFAULT '1.0.0',
	version    INTEGER NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS checkpoints_labeled (
	run_id      TEXT NOT NULL,
	label       TEXT NOT NULL,
	graph_id    TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	message     TEXT NOT NULL,
	saved_state TEXT NOT NULL DEFAULT '{}',
	envelope_version TEXT NOT NULL DEFAULT '1.0.0',
	version    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, label)
);
`)
	if err != nil {
		return fmt.Errorf("store: migrate sqlite schema: %w", err)
	}
	return nil
}

// Save implements CheckpointStore.
func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint, expectedVersion int) error {
	payload, err := json.Marshal(cp.Message)
	if err != nil {
		return fmt.Errorf("store: encode message: %w", err)
	}
	statePayload, err := json.Marshal(cp.SavedState)
	if err != nil {
		return fmt.Errorf("store: encode saved state: %w", err)
	}
	if cp.EnvelopeVersion == "" {
		cp.EnvelopeVersion = CurrentEnvelopeVersion
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	newVersion := expectedVersion + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var currentVersion sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT version FROM checkpoints WHERE run_id = ?`, cp.RunID).Scan(&currentVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return ErrConflict
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO checkpoints (run_id, graph_id, node_id, message, saved_state, envelope_version, version, label, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.RunID, cp.GraphID, cp.NodeID, string(payload), string(statePayload), cp.EnvelopeVersion, newVersion, cp.Label, cp.CreatedAt.Unix(), expiresUnix(cp.ExpiresAt))
	case err != nil:
		return fmt.Errorf("store: read current version: %w", err)
	default:
		if int(currentVersion.Int64) != expectedVersion {
			return ErrConflict
		}
		_, err = tx.ExecContext(ctx, `
UPDATE checkpoints SET graph_id = ?, node_id = ?, message = ?, saved_state = ?, envelope_version = ?, version = ?, label = ?, created_at = ?, expires_at = ?
WHERE run_id = ? AND version = ?`,
			cp.GraphID, cp.NodeID, string(payload), string(statePayload), cp.EnvelopeVersion, newVersion, cp.Label, cp.CreatedAt.Unix(), expiresUnix(cp.ExpiresAt), cp.RunID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("store: write checkpoint: %w", err)
	}

	if cp.Label != "" {
		_, err = tx.ExecContext(ctx, `
INSERT INTO checkpoints_labeled (run_id, label, graph_id, node_id, message, saved_state, envelope_version, version, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, label) DO UPDATE SET graph_id=excluded.graph_id, node_id=excluded.node_id,
	message=excluded.message, saved_state=excluded.saved_state, envelope_version=excluded.envelope_version,
	version=excluded.version, created_at=excluded.created_at, expires_at=excluded.expires_at`,
			cp.RunID, cp.Label, cp.GraphID, cp.NodeID, string(payload), string(statePayload), cp.EnvelopeVersion, newVersion, cp.CreatedAt.Unix(), expiresUnix(cp.ExpiresAt))
		if err != nil {
			return fmt.Errorf("store: write labeled checkpoint: %w", err)
		}
	}

	return tx.Commit()
}

// Load implements CheckpointStore.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, graph_id, node_id, message, saved_state, envelope_version, version, label, created_at, expires_at
FROM checkpoints WHERE run_id = ?`, runID)
	return scanCheckpoint(row)
}

// LoadLabel implements CheckpointStore.
func (s *SQLiteStore) LoadLabel(ctx context.Context, runID, label string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, graph_id, node_id, message, saved_state, envelope_version, version, label, created_at, expires_at
FROM checkpoints_labeled WHERE run_id = ? AND label = ?`, runID, label)
	return scanCheckpoint(row)
}

// Delete implements CheckpointStore.
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("store: delete checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints_labeled WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("store: delete labeled checkpoints: %w", err)
	}
	return nil
}

// ListExpired implements CheckpointStore.
func (s *SQLiteStore) ListExpired(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id FROM checkpoints WHERE expires_at > 0 AND expires_at < ?`, olderThan.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: list expired: %w", err)
	}
	defer rows.Close()

	var runIDs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, fmt.Errorf("store: scan expired run id: %w", err)
		}
		runIDs = append(runIDs, runID)
	}
	return runIDs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp                     Checkpoint
		payload, statePayload  string
		createdAt, expiresAt   int64
	)
	err := row.Scan(&cp.RunID, &cp.GraphID, &cp.NodeID, &payload, &statePayload, &cp.EnvelopeVersion, &cp.Version, &cp.Label, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("store: scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &cp.Message); err != nil {
		return Checkpoint{}, fmt.Errorf("store: decode message: %w", err)
	}
	if statePayload != "" {
		if err := json.Unmarshal([]byte(statePayload), &cp.SavedState); err != nil {
			return Checkpoint{}, fmt.Errorf("store: decode saved state: %w", err)
		}
	}
	cp.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt > 0 {
		cp.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return cp, nil
}

func expiresUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
