package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvlease/pkg/events"
)

var errNoLease = errors.New("no lease")

type fakeNative struct {
	mu          sync.Mutex
	startErr    error
	renewErr    error
	results     []*Result
	startHook   func()
	stops       int
	starts      int
	renews      int
	resultCalls int
}

func (f *fakeNative) Stop(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeNative) Start(string) error {
	f.mu.Lock()
	f.starts++
	hook := f.startHook
	err := f.startErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeNative) StartRenew(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	return f.renewErr
}

func (f *fakeNative) Result(string, bool) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	if len(f.results) == 0 {
		return nil, errNoLease
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, nil
}

func (f *fakeNative) push(r *Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
}

func (f *fakeNative) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeNative) counts() (stops, starts, renews, results int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops, f.starts, f.renews, f.resultCalls
}

type fakeAlarms struct {
	mu        sync.Mutex
	elapsed   time.Duration
	set       map[Alarm]time.Duration
	cancelled []Alarm
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{elapsed: 100 * time.Second, set: make(map[Alarm]time.Duration)}
}

func (f *fakeAlarms) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}

func (f *fakeAlarms) SetExact(triggerAt time.Duration, a Alarm) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[a] = triggerAt
}

func (f *fakeAlarms) Cancel(a Alarm) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.set, a)
	f.cancelled = append(f.cancelled, a)
}

func (f *fakeAlarms) get(a Alarm) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.set[a]
	return at, ok
}

type fakeWakeLock struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
	timeout  time.Duration
}

func (f *fakeWakeLock) Acquire(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = true
	f.acquires++
	f.timeout = timeout
}

func (f *fakeWakeLock) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.releases++
}

func (f *fakeWakeLock) snapshot() (held bool, acquires, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held, f.acquires, f.releases
}

type fakeSub struct {
	bus   *fakeBus
	topic string
	id    int
}

func (s *fakeSub) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers[s.topic], s.id)
}

type fakeBus struct {
	mu        sync.Mutex
	nextID    int
	handlers  map[string]map[int]events.Handler
	published []events.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]map[int]events.Handler)}
}

func (b *fakeBus) Subscribe(topic string, h events.Handler) events.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]events.Handler)
	}
	b.handlers[topic][b.nextID] = h
	return &fakeSub{bus: b, topic: topic, id: b.nextID}
}

func (b *fakeBus) Publish(topic string, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.Type = topic
	b.published = append(b.published, e)
}

func (b *fakeBus) subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}

// fire delivers an alarm synchronously on the caller's goroutine.
func (b *fakeBus) fire(topic string, data any) {
	b.mu.Lock()
	hs := make([]events.Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(events.Event{Type: topic, Data: data})
	}
}

func (b *fakeBus) stateChanges() []StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []StateChange
	for _, e := range b.published {
		if sc, ok := e.Data.(StateChange); ok {
			out = append(out, sc)
		}
	}
	return out
}

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	return &fakeTimer{}
}

func (s *fakeScheduler) scheduled() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

// fire runs the n-th scheduled callback.
func (s *fakeScheduler) fire(n int) {
	s.mu.Lock()
	f := s.fns[n]
	s.mu.Unlock()
	f()
}

type harness struct {
	m       *Machine
	ctrl    chan Notification
	native4 *fakeNative
	native6 *fakeNative
	alarms  *fakeAlarms
	wl      *fakeWakeLock
	bus     *fakeBus
	sched   *fakeScheduler
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	if cfg.Interface == "" {
		cfg.Interface = "eth0"
	}

	h := &harness{
		ctrl:    make(chan Notification, 64),
		native4: &fakeNative{},
		native6: &fakeNative{},
		alarms:  newFakeAlarms(),
		wl:      &fakeWakeLock{},
		bus:     newFakeBus(),
		sched:   &fakeScheduler{},
	}

	m, err := New(cfg, Deps{
		Controller: h.ctrl,
		Natives:    map[IPVersion]Native{IPv4: h.native4, IPv6: h.native6},
		Alarms:     h.alarms,
		WakeLock:   h.wl,
		Bus:        h.bus,
		Publisher:  h.bus,
		Scheduler:  h.sched,
	})
	require.NoError(t, err)
	h.m = m

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go m.Run(ctx)

	t.Cleanup(func() {
		cancel()
		select {
		case <-m.Done():
		case <-time.After(time.Second):
			t.Error("machine did not terminate")
		}
	})

	return h
}

func (h *harness) next(t *testing.T) Notification {
	t.Helper()
	select {
	case n := <-h.ctrl:
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func (h *harness) noNotification(t *testing.T) {
	t.Helper()
	select {
	case n := <-h.ctrl:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(20 * time.Millisecond):
	}
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.Status().State == s },
		time.Second, time.Millisecond, "waiting for state %s", s)
}
