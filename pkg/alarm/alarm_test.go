package alarm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/lease"
)

type fixedClock struct {
	now time.Duration
}

func (c *fixedClock) Elapsed() time.Duration {
	return c.now
}

func (c *fixedClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// manualClock records armed timers and fires them on request.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) armed() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*manualTimer(nil), c.timers...)
}

type recorder struct {
	mu     sync.Mutex
	topics []string
	events []events.Event
}

func (r *recorder) Publish(topic string, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, e)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func v4Alarm(iface string) lease.Alarm {
	return lease.Alarm{Topic: events.TopicDHCPRenewAlarm, Interface: iface}
}

func TestAlarmFiresWithRenewalPayload(t *testing.T) {
	rec := &recorder{}
	clock := &fixedClock{now: time.Hour}
	s := NewWithClock(rec, clock)
	defer s.Close()

	a := lease.Alarm{Topic: events.TopicDHCPv6RenewAlarm, Interface: "eth0"}
	s.SetExact(clock.now+10*time.Millisecond, a)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, events.TopicDHCPv6RenewAlarm, rec.topics[0])
	require.Equal(t, "eth0", rec.events[0].Source)
	require.Equal(t, lease.RenewalAlarm{Interface: "eth0", Version: lease.IPv6}, rec.events[0].Data)
	require.Empty(t, s.Pending())
	require.EqualValues(t, 1, s.Fired())
}

func TestAlarmInThePastFiresImmediately(t *testing.T) {
	rec := &recorder{}
	clock := &fixedClock{now: time.Hour}
	s := NewWithClock(rec, clock)
	defer s.Close()

	s.SetExact(time.Minute, v4Alarm("eth0"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAlarmReplacesPendingWithSameKey(t *testing.T) {
	rec := &recorder{}
	clock := &fixedClock{}
	s := NewWithClock(rec, clock)
	defer s.Close()

	s.SetExact(time.Hour, v4Alarm("eth0"))
	s.SetExact(2*time.Hour, v4Alarm("eth0"))
	s.SetExact(time.Hour, v4Alarm("eth1"))

	pending := s.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "eth1", pending[0].Alarm.Interface)
	require.Equal(t, 2*time.Hour, pending[1].TriggerAt)
}

func TestAlarmCancel(t *testing.T) {
	rec := &recorder{}
	clock := &fixedClock{}
	s := NewWithClock(rec, clock)
	defer s.Close()

	s.SetExact(20*time.Millisecond, v4Alarm("eth0"))
	s.Cancel(v4Alarm("eth0"))
	s.Cancel(v4Alarm("eth0"))

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, rec.count())
	require.Empty(t, s.Pending())
}

func TestAlarmIgnoredAfterClose(t *testing.T) {
	rec := &recorder{}
	s := NewWithClock(rec, &fixedClock{})

	s.SetExact(time.Hour, v4Alarm("eth0"))
	require.NoError(t, s.Close())
	require.Empty(t, s.Pending())

	s.SetExact(0, v4Alarm("eth0"))
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, rec.count())
}

func TestBootClockAdvances(t *testing.T) {
	var c BootClock
	first := c.Elapsed()
	time.Sleep(time.Millisecond)
	require.Greater(t, c.Elapsed(), first)
}

func TestAlarmArmedOnServiceClock(t *testing.T) {
	rec := &recorder{}
	clock := &manualClock{now: time.Hour}
	s := NewWithClock(rec, clock)

	s.SetExact(time.Hour+5*time.Minute, v4Alarm("eth0"))

	timers := clock.armed()
	require.Len(t, timers, 1)
	require.Equal(t, 5*time.Minute, timers[0].delay)
	require.Zero(t, rec.count())

	timers[0].fn()
	require.Equal(t, 1, rec.count())
	require.Empty(t, s.Pending())

	s.SetExact(time.Hour+time.Minute, v4Alarm("eth1"))
	s.Cancel(v4Alarm("eth1"))
	timers = clock.armed()
	require.True(t, timers[1].stopped)

	timers[1].fn()
	require.Equal(t, 1, rec.count())
}

func TestBootClockTimers(t *testing.T) {
	var c BootClock

	fired := make(chan struct{})
	c.AfterFunc(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	var lateFired atomic.Bool
	stopped := c.AfterFunc(20*time.Millisecond, func() { lateFired.Store(true) })
	require.True(t, stopped.Stop())
	time.Sleep(50 * time.Millisecond)
	require.False(t, lateFired.Load())

	immediate := make(chan struct{})
	c.AfterFunc(0, func() { close(immediate) })
	select {
	case <-immediate:
	case <-time.After(time.Second):
		t.Fatal("zero delay timer did not fire")
	}
}
