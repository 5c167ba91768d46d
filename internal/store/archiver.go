package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/google/uuid"
)

const (
	archiveQueueSize   = 16
	archiveSaveTimeout = 10 * time.Second
)

// Archiver writes ended sessions to a Repository in the background so
// that the session controller never waits on the database.
type Archiver struct {
	repo   Repository
	queue  chan *domain.Transcript
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewArchiver starts the archive worker.
func NewArchiver(repo Repository, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		repo:   repo,
		queue:  make(chan *domain.Transcript, archiveQueueSize),
		logger: logger,
		now:    time.Now,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Archive queues sess for saving and returns the transcript ID. Sessions
// without messages are skipped and yield "". When the queue is full the
// transcript is dropped with a warning.
func (a *Archiver) Archive(sess domain.Session) string {
	if len(sess.Messages) == 0 {
		a.logger.Debug("Skipping archive of empty session", "topic", sess.Topic)
		return ""
	}
	t := domain.NewTranscript(uuid.NewString(), sess, a.now().UTC())

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.logger.Warn("Archiver closed, dropping transcript", "transcript_id", t.ID)
		return ""
	}
	select {
	case a.queue <- t:
		a.logger.Debug("Transcript queued", "transcript_id", t.ID, "queue_len", len(a.queue))
		return t.ID
	default:
		a.logger.Warn("Archive queue full, dropping transcript", "transcript_id", t.ID, "topic", t.Topic)
		return ""
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for t := range a.queue {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), archiveSaveTimeout)
		err := a.repo.SaveTranscript(ctx, t)
		cancel()
		if err != nil {
			a.logger.Error("Failed to archive transcript", "transcript_id", t.ID, "error", err)
			continue
		}
		a.logger.Info("Transcript archived",
			"transcript_id", t.ID,
			"topic", t.Topic,
			"rounds", t.Rounds,
			"messages", len(t.Messages),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Close stops accepting transcripts and waits for queued ones to be saved.
func (a *Archiver) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
}
