package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/ashureev/emperor-arena/internal/shared"
	_ "modernc.org/sqlite"
)

// ErrTranscriptExists is returned when a transcript ID is saved twice.
var ErrTranscriptExists = errors.New("transcript already exists")

const (
	saveMaxRetries = 3
	saveBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		proposer TEXT NOT NULL,
		challenger TEXT NOT NULL,
		arbitrator TEXT NOT NULL,
		rounds INTEGER NOT NULL,
		max_rounds INTEGER NOT NULL,
		message_count INTEGER NOT NULL,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveTranscript inserts a transcript.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *domain.Transcript) error {
	messagesJSON, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("encode transcript messages: %w", err)
	}

	for i := 0; i < saveMaxRetries; i++ {
		err = s.saveTranscriptOnce(ctx, t, string(messagesJSON))
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == saveMaxRetries-1 {
			break
		}

		delay := saveBaseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("SaveTranscript failed with SQLITE_BUSY, retrying",
			"transcript_id", t.ID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("save transcript %s: %w", t.ID, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("save transcript %s: %w", t.ID, err)
}

func (s *SQLiteStore) saveTranscriptOnce(ctx context.Context, t *domain.Transcript, messagesJSON string) error {
	query := `
	INSERT INTO transcripts (
		id, topic, proposer, challenger, arbitrator,
		rounds, max_rounds, message_count, messages_json, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Topic,
		t.Participants.Proposer, t.Participants.Challenger, t.Participants.Arbitrator,
		t.Rounds, t.MaxRounds, len(t.Messages), messagesJSON,
		t.CreatedAt.UnixMilli(),
	)
	if shared.IsSQLiteConstraintError(err) {
		return ErrTranscriptExists
	}
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// GetTranscript retrieves a transcript by ID.
func (s *SQLiteStore) GetTranscript(ctx context.Context, id string) (*domain.Transcript, error) {
	query := `
		SELECT id, topic, proposer, challenger, arbitrator,
		       rounds, max_rounds, messages_json, created_at
		FROM transcripts WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)

	var t domain.Transcript
	var messagesJSON string
	var createdAt int64

	err := row.Scan(
		&t.ID, &t.Topic,
		&t.Participants.Proposer, &t.Participants.Challenger, &t.Participants.Arbitrator,
		&t.Rounds, &t.MaxRounds, &messagesJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan transcript row: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &t.Messages); err != nil {
		return nil, fmt.Errorf("decode transcript messages: %w", err)
	}
	t.CreatedAt = time.UnixMilli(createdAt)

	return &t, nil
}

// ListTranscripts returns the most recent transcripts, newest first.
func (s *SQLiteStore) ListTranscripts(ctx context.Context, limit int) ([]domain.TranscriptSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, topic, proposer, challenger, arbitrator,
		       rounds, message_count, created_at
		FROM transcripts ORDER BY created_at DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	summaries := []domain.TranscriptSummary{}
	for rows.Next() {
		var sum domain.TranscriptSummary
		var createdAt int64
		if err := rows.Scan(
			&sum.ID, &sum.Topic,
			&sum.Participants.Proposer, &sum.Participants.Challenger, &sum.Participants.Arbitrator,
			&sum.Rounds, &sum.MessageCount, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan transcript summary: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(createdAt)
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}

	return summaries, nil
}
