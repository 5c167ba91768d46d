// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/emperor-arena/internal/domain"
)

// Repository defines the interface for archiving debate transcripts.
type Repository interface {
	// SaveTranscript inserts a transcript. Saving the same ID twice fails.
	SaveTranscript(ctx context.Context, t *domain.Transcript) error

	// GetTranscript retrieves a transcript by ID. It returns nil, nil when
	// no transcript has that ID.
	GetTranscript(ctx context.Context, id string) (*domain.Transcript, error)

	// ListTranscripts returns the most recent transcripts, newest first.
	ListTranscripts(ctx context.Context, limit int) ([]domain.TranscriptSummary, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
