package wakelock

import (
	"log/slog"
	"sync"
	"time"

	"github.com/veesix-networks/osvlease/pkg/logger"
)

// Backend performs the platform side of holding a wake-lock.
type Backend interface {
	Acquire(name string, timeout time.Duration) error
	Release(name string) error
}

// Noop is used where the platform has no wake-lock facility.
type Noop struct{}

func (Noop) Acquire(string, time.Duration) error { return nil }
func (Noop) Release(string) error                { return nil }

type Stats struct {
	Name     string `json:"name"`
	Held     bool   `json:"held"`
	Acquires uint64 `json:"acquires"`
	Releases uint64 `json:"releases"`
	Expired  uint64 `json:"expired"`
}

// Lock is a named, non reference counted wake-lock. Acquiring a held lock
// only extends its timeout; a single Release drops it.
type Lock struct {
	name    string
	backend Backend
	logger  *slog.Logger

	mu       sync.Mutex
	held     bool
	gen      uint64
	timer    *time.Timer
	acquires uint64
	releases uint64
	expired  uint64
}

func New(name string, backend Backend) *Lock {
	if backend == nil {
		backend = Noop{}
	}
	return &Lock{
		name:    name,
		backend: backend,
		logger:  logger.Get(logger.WakeLock).With("lock", name),
	}
}

func (l *Lock) Acquire(timeout time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.backend.Acquire(l.name, timeout); err != nil {
		l.logger.Error("Failed to acquire wake lock", "error", err)
		return
	}

	l.held = true
	l.acquires++
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
	}
	if timeout > 0 {
		gen := l.gen
		l.timer = time.AfterFunc(timeout, func() { l.expire(gen) })
	}

	l.logger.Debug("Wake lock acquired", "timeout", timeout)
}

func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}

	if err := l.backend.Release(l.name); err != nil {
		l.logger.Error("Failed to release wake lock", "error", err)
	}

	l.held = false
	l.releases++
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	l.logger.Debug("Wake lock released")
}

func (l *Lock) expire(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.gen || !l.held {
		return
	}
	l.held = false
	l.expired++
	l.timer = nil

	l.logger.Warn("Wake lock timed out without release")
}

func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Name:     l.name,
		Held:     l.held,
		Acquires: l.acquires,
		Releases: l.releases,
		Expired:  l.expired,
	}
}
