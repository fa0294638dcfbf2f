package alarm

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/logger"
)

var processStart = time.Now()

// Timer is a pending callback armed by a Clock.
type Timer interface {
	Stop() bool
}

// Clock measures elapsed time and arms timers on the same time base.
type Clock interface {
	Elapsed() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

type entry struct {
	timer     Timer
	triggerAt time.Duration
}

// Service implements lease.AlarmScheduler. Alarms are keyed by topic and
// interface; setting an alarm replaces the pending one with the same key.
// A fired alarm is published on its topic with a lease.RenewalAlarm payload.
type Service struct {
	clock     Clock
	publisher events.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[lease.Alarm]*entry
	closed  bool

	fired atomic.Uint64
}

type Pending struct {
	Alarm     lease.Alarm
	TriggerAt time.Duration
}

func New(publisher events.Publisher) *Service {
	return NewWithClock(publisher, BootClock{})
}

func NewWithClock(publisher events.Publisher, clock Clock) *Service {
	return &Service{
		clock:     clock,
		publisher: publisher,
		logger:    logger.Get(logger.Alarm),
		pending:   make(map[lease.Alarm]*entry),
	}
}

func (s *Service) Elapsed() time.Duration {
	return s.clock.Elapsed()
}

func (s *Service) SetExact(triggerAt time.Duration, a lease.Alarm) {
	delay := triggerAt - s.clock.Elapsed()
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("Alarm set after close", "topic", a.Topic, "interface", a.Interface)
		return
	}

	if old, ok := s.pending[a]; ok {
		old.timer.Stop()
	}

	e := &entry{triggerAt: triggerAt}
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(a, e) })
	s.pending[a] = e

	s.logger.Debug("Alarm set", "topic", a.Topic, "interface", a.Interface, "in", delay)
}

func (s *Service) Cancel(a lease.Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[a]; ok {
		e.timer.Stop()
		delete(s.pending, a)
		s.logger.Debug("Alarm cancelled", "topic", a.Topic, "interface", a.Interface)
	}
}

func (s *Service) fire(a lease.Alarm, e *entry) {
	s.mu.Lock()
	if s.pending[a] != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, a)
	s.mu.Unlock()

	s.fired.Add(1)
	s.logger.Debug("Alarm fired", "topic", a.Topic, "interface", a.Interface)

	s.publisher.Publish(a.Topic, events.Event{
		Source: a.Interface,
		Data: lease.RenewalAlarm{
			Interface: a.Interface,
			Version:   versionForTopic(a.Topic),
		},
	})
}

// Pending lists outstanding alarms ordered by trigger time.
func (s *Service) Pending() []Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Pending, 0, len(s.pending))
	for a, e := range s.pending {
		out = append(out, Pending{Alarm: a, TriggerAt: e.triggerAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggerAt != out[j].TriggerAt {
			return out[i].TriggerAt < out[j].TriggerAt
		}
		return out[i].Alarm.Interface < out[j].Alarm.Interface
	})
	return out
}

func (s *Service) Fired() uint64 {
	return s.fired.Load()
}

// Close cancels every pending alarm. Later SetExact calls are ignored.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for a, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, a)
	}
	s.closed = true
	return nil
}

func versionForTopic(topic string) lease.IPVersion {
	if topic == events.TopicDHCPv6RenewAlarm {
		return lease.IPv6
	}
	return lease.IPv4
}
