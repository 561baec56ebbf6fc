package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the local checkpoint file: risk manager state and breaker
// snapshots written frequently enough that a restart loses at most one
// checkpoint interval.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS risk_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			state_json TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS breaker_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			state TEXT NOT NULL,
			trip_reason TEXT,
			consecutive_failures INTEGER NOT NULL,
			daily_loss TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) WriteRiskCheckpoint(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal risk state: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO risk_checkpoints (state_json) VALUES (?)",
		string(data),
	)
	return err
}

func (s *SQLiteStore) LoadLatestCheckpoint() ([]byte, error) {
	var data string
	err := s.db.QueryRow(
		"SELECT state_json FROM risk_checkpoints ORDER BY id DESC LIMIT 1",
	).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return []byte(data), nil
}

func (s *SQLiteStore) WriteBreakerSnapshot(state, tripReason string, consecutiveFailures int, dailyLoss string) error {
	_, err := s.db.Exec(
		`INSERT INTO breaker_snapshots (state, trip_reason, consecutive_failures, daily_loss)
		 VALUES (?, ?, ?, ?)`,
		state, tripReason, consecutiveFailures, dailyLoss,
	)
	return err
}

func (s *SQLiteStore) CleanupOldCheckpoints(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	if _, err := s.db.Exec(
		"DELETE FROM risk_checkpoints WHERE created_at < ?", cutoff,
	); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"DELETE FROM breaker_snapshots WHERE created_at < ?", cutoff,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
