package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed CheckpointStore, for deployments that
// already run MySQL for other state and want checkpoints alongside it
// instead of standing up a separate SQLite file per process.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn (a go-sql-driver/mysql
// data source name) and ensures the checkpoint schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &MySQLStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id      VARCHAR(191) PRIMARY KEY,
	graph_id    VARCHAR(191) NOT NULL,
	node_id     VARCHAR(191) NOT NULL,
	message     LONGTEXT NOT NULL,
	saved_state LONGTEXT NOT NULL,
	envelope_version VARCHAR(32) NOT NULL DEFAULT '1.0.0',
	version    INT NOT NULL,
	label      VARCHAR(191) NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL DEFAULT 0
) ENGINE=InnoDB`)
	if err != nil {
		return fmt.Errorf("store: migrate checkpoints table: %w", err)
	}

	_, err = s.db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoints_labeled (
	run_id      VARCHAR(191) NOT NULL,
	label       VARCHAR(191) NOT NULL,
	graph_id    VARCHAR(191) NOT NULL,
	node_id     VARCHAR(191) NOT NULL,
	message     LONGTEXT NOT NULL,
	saved_state LONGTEXT NOT NULL,
	envelope_version VARCHAR(32) NOT NULL DEFAULT '1.0.0',
	version    INT NOT NULL,
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, label)
) ENGINE=InnoDB`)
	if err != nil {
		return fmt.Errorf("store: migrate checkpoints_labeled table: %w", err)
	}
	return nil
}

// Save implements CheckpointStore.
func (s *MySQLStore) Save(ctx context.Context, cp Checkpoint, expectedVersion int) error {
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
	err = tx.QueryRowContext(ctx, `SELECT version FROM checkpoints WHERE run_id = ? FOR UPDATE`, cp.RunID).Scan(&currentVersion)
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
ON DUPLICATE KEY UPDATE graph_id=VALUES(graph_id), node_id=VALUES(node_id), message=VALUES(message),
	saved_state=VALUES(saved_state), envelope_version=VALUES(envelope_version),
	version=VALUES(version), created_at=VALUES(created_at), expires_at=VALUES(expires_at)`,
			cp.RunID, cp.Label, cp.GraphID, cp.NodeID, string(payload), string(statePayload), cp.EnvelopeVersion, newVersion, cp.CreatedAt.Unix(), expiresUnix(cp.ExpiresAt))
		if err != nil {
			return fmt.Errorf("store: write labeled checkpoint: %w", err)
		}
	}

	return tx.Commit()
}

// Load implements CheckpointStore.
func (s *MySQLStore) Load(ctx context.Context, runID string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, graph_id, node_id, message, saved_state, envelope_version, version, label, created_at, expires_at
FROM checkpoints WHERE run_id = ?`, runID)
	return scanCheckpoint(row)
}

// LoadLabel implements CheckpointStore.
func (s *MySQLStore) LoadLabel(ctx context.Context, runID, label string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, graph_id, node_id, message, saved_state, envelope_version, version, label, created_at, expires_at
FROM checkpoints_labeled WHERE run_id = ? AND label = ?`, runID, label)
	return scanCheckpoint(row)
}

// Delete implements CheckpointStore.
func (s *MySQLStore) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("store: delete checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints_labeled WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("store: delete labeled checkpoints: %w", err)
	}
	return nil
}

// ListExpired implements CheckpointStore.
func (s *MySQLStore) ListExpired(ctx context.Context, olderThan time.Time) ([]string, error) {
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
