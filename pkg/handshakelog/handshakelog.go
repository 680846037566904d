// Package handshakelog persists a record of each handshake attempt —
// initiation and completion — to Postgres, for audit and for the replay
// and rate-limiting checks a deployment builds on top of the core state
// machine in pkg/handshake.
package handshakelog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/pqvpn/pqvpn/pkg/logging"
)

// Store persists handshake attempt records.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Config holds the Postgres connection settings for a Store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Outcome is the terminal result of a logged handshake attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt is one row of the handshake log.
type Attempt struct {
	SenderIndex uint32
	PeerName    string
	IsInitiator bool
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	Outcome     Outcome
	FailReason  string
}

// New connects to Postgres and ensures the schema exists. A nil logger
// falls back to logging.GetDefaultLogger().
func New(cfg Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to handshake log database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping handshake log database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize handshake log schema: %w", err)
	}

	logger.Info("handshake log postgres connection established", logging.Fields{"host": cfg.Host, "dbname": cfg.DBName})
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS handshake_attempts (
		sender_index BIGINT NOT NULL,
		peer_name VARCHAR(256) NOT NULL,
		is_initiator BOOLEAN NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		outcome VARCHAR(16) NOT NULL DEFAULT 'pending',
		fail_reason TEXT,
		PRIMARY KEY (sender_index, started_at)
	);

	CREATE INDEX IF NOT EXISTS idx_handshake_attempts_peer ON handshake_attempts(peer_name);
	CREATE INDEX IF NOT EXISTS idx_handshake_attempts_started_at ON handshake_attempts(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordStart logs the start of a handshake attempt.
func (s *Store) RecordStart(a Attempt) error {
	query := `
		INSERT INTO handshake_attempts (sender_index, peer_name, is_initiator, started_at, outcome)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.Exec(query, a.SenderIndex, a.PeerName, a.IsInitiator, a.StartedAt, OutcomePending)
	return err
}

// RecordOutcome updates a handshake attempt with its terminal outcome.
func (s *Store) RecordOutcome(senderIndex uint32, startedAt time.Time, outcome Outcome, failReason string) error {
	query := `
		UPDATE handshake_attempts
		SET finished_at = $1, outcome = $2, fail_reason = $3
		WHERE sender_index = $4 AND started_at = $5
	`
	_, err := s.db.Exec(query, time.Now(), outcome, failReason, senderIndex, startedAt)
	if err != nil {
		return err
	}
	if outcome == OutcomeFailed {
		s.logger.Warn("handshake attempt failed", logging.Fields{"sender_index": senderIndex, "reason": failReason})
	} else {
		s.logger.Info("handshake attempt recorded", logging.Fields{"sender_index": senderIndex, "outcome": string(outcome)})
	}
	return nil
}

// RecentFailures counts failed attempts for a peer within the given window,
// the input a naive rate-limiting policy would use to back off a peer that
// is repeatedly failing handshakes.
func (s *Store) RecentFailures(peerName string, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*) FROM handshake_attempts
		WHERE peer_name = $1 AND outcome = $2 AND started_at > $3
	`
	var count int
	err := s.db.QueryRow(query, peerName, OutcomeFailed, time.Now().Add(-window)).Scan(&count)
	return count, err
}

// History returns the most recent attempts for a peer, newest first.
func (s *Store) History(peerName string, limit int) ([]Attempt, error) {
	query := `
		SELECT sender_index, peer_name, is_initiator, started_at, finished_at, outcome, fail_reason
		FROM handshake_attempts
		WHERE peer_name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(query, peerName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var outcome string
		var failReason sql.NullString
		if err := rows.Scan(&a.SenderIndex, &a.PeerName, &a.IsInitiator, &a.StartedAt, &a.FinishedAt, &outcome, &failReason); err != nil {
			return nil, err
		}
		a.Outcome = Outcome(outcome)
		a.FailReason = failReason.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing handshake log postgres connection")
	return s.db.Close()
}
