package debate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/emperor-arena/internal/clock"
	"github.com/ashureev/emperor-arena/internal/domain"
)

// DefaultTypingInterval is the delay between two revealed characters.
const DefaultTypingInterval = 30 * time.Millisecond

// Typist reveals message text one character per tick. It runs at most one
// reveal task per message; new text for a message being revealed is
// picked up by the running task from the store.
type Typist struct {
	store    *Store
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	// mu serializes ticks, Reveal and CancelAll. It is taken before the
	// store lock, never after.
	mu    sync.Mutex
	tasks map[domain.MessageKey]*revealTask
}

type revealTask struct {
	key       domain.MessageKey
	epoch     uint64
	timer     *clock.Timer
	cancelled bool
}

// NewTypist creates a typist revealing into store.
func NewTypist(store *Store, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Typist {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Typist{
		store:    store,
		clock:    clk,
		interval: interval,
		logger:   logger,
		tasks:    make(map[domain.MessageKey]*revealTask),
	}
}

// Reveal makes sure a reveal task is running for the message. The target
// text must already be recorded in the store.
func (t *Typist) Reveal(key domain.MessageKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, running := t.tasks[key]; running {
		return
	}
	task := &revealTask{key: key, epoch: t.store.Epoch()}
	t.tasks[key] = task
	t.scheduleLocked(task)
}

func (t *Typist) scheduleLocked(task *revealTask) {
	task.timer = t.clock.AfterFunc(t.interval, func() { t.tick(task) })
}

func (t *Typist) tick(task *revealTask) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if task.cancelled || t.tasks[task.key] != task {
		return
	}
	if t.store.RevealStep(task.key, task.epoch) {
		delete(t.tasks, task.key)
		return
	}
	t.scheduleLocked(task)
}

// CancelAll stops every running reveal. When it returns no pending tick
// can mutate the store.
func (t *Typist) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.tasks) > 0 {
		t.logger.Debug("Cancelling reveal tasks", "count", len(t.tasks))
	}
	for key, task := range t.tasks {
		task.cancelled = true
		task.timer.Stop()
		delete(t.tasks, key)
	}
}

// Active returns the number of running reveal tasks.
func (t *Typist) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
