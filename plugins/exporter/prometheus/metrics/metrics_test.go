package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"inet.af/netaddr"

	"github.com/veesix-networks/osvlease/internal/controller"
	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/events/local"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/logger"
	"github.com/veesix-networks/osvlease/pkg/wakelock"
)

type fakeLeases struct {
	statuses []lease.Status
}

func (f *fakeLeases) List() []lease.Status                     { return f.statuses }
func (f *fakeLeases) Get(string) (lease.Status, error)         { return lease.Status{}, nil }
func (f *fakeLeases) Start(string) error                       { return nil }
func (f *fakeLeases) Stop(string) error                        { return nil }
func (f *fakeLeases) Renew(string) error                       { return nil }
func (f *fakeLeases) SetVersion(string, lease.IPVersion) error { return nil }

type handlerCollector struct {
	h   MetricHandler
	src *Source
}

func (c handlerCollector) Describe(ch chan<- *prometheus.Desc) { c.h.Describe(ch) }
func (c handlerCollector) Collect(ch chan<- prometheus.Metric) {
	_ = c.h.Collect(context.Background(), c.src, ch)
}

func gather(t *testing.T, h MetricHandler, src *Source) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(handlerCollector{h: h, src: src})
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func value(f *dto.MetricFamily, labels map[string]string) (float64, bool) {
	if f == nil {
		return 0, false
	}
	for _, m := range f.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if !match {
			continue
		}
		if m.GetGauge() != nil {
			return m.GetGauge().GetValue(), true
		}
		return m.GetCounter().GetValue(), true
	}
	return 0, false
}

func TestLeaseHandler(t *testing.T) {
	h, err := newLeaseHandler(logger.Get(logger.Exporter))
	require.NoError(t, err)

	src := &Source{Leases: &fakeLeases{statuses: []lease.Status{
		{
			Interface: "eth0",
			Version:   lease.IPv4,
			State:     lease.Running,
			Result: &lease.Result{
				Address:       netaddr.MustParseIPPrefix("192.0.2.10/24"),
				Gateway:       netaddr.MustParseIP("192.0.2.1"),
				LeaseDuration: 3600,
			},
		},
		{Interface: "eth1", Version: lease.IPv6, State: lease.Polling},
	}}}

	fams := gather(t, h, src)

	state := fams["osvlease_lease_state"]
	require.Len(t, state.GetMetric(), 10)

	v, ok := value(state, map[string]string{"interface": "eth0", "state": "Running"})
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	v, _ = value(state, map[string]string{"interface": "eth0", "state": "Stopped"})
	require.Zero(t, v)
	v, _ = value(state, map[string]string{"interface": "eth1", "state": "Polling"})
	require.Equal(t, 1.0, v)

	duration := fams["osvlease_lease_duration_seconds"]
	require.Len(t, duration.GetMetric(), 1)
	v, _ = value(duration, map[string]string{"interface": "eth0"})
	require.Equal(t, 3600.0, v)

	_, ok = value(fams["osvlease_lease_info"], map[string]string{"address": "192.0.2.10/24", "server": ""})
	require.True(t, ok)
}

func TestLeaseHandlerWithoutSource(t *testing.T) {
	h, err := newLeaseHandler(logger.Get(logger.Exporter))
	require.NoError(t, err)
	require.Empty(t, gather(t, h, &Source{}))
}

func TestSystemHandler(t *testing.T) {
	h, err := newSystemHandler(logger.Get(logger.Exporter))
	require.NoError(t, err)

	locks := wakelock.NewSet("renew", wakelock.Noop{})
	lock := locks.For("eth0")
	lock.Acquire(time.Minute)
	lock.Acquire(time.Minute)
	locks.For("eth1")

	bus := local.NewBus()
	defer bus.Close()
	bus.Publish("test", events.Event{})

	fams := gather(t, h, &Source{WakeLocks: locks, Bus: bus})

	v, _ := value(fams["osvlease_wakelock_held"], map[string]string{"name": "renew:eth0"})
	require.Equal(t, 1.0, v)
	v, _ = value(fams["osvlease_wakelock_held"], map[string]string{"name": "renew:eth1"})
	require.Zero(t, v)
	v, _ = value(fams["osvlease_wakelock_acquires_total"], map[string]string{"name": "renew:eth0"})
	require.Equal(t, 2.0, v)
	v, _ = value(fams["osvlease_events_published_total"], nil)
	require.Equal(t, 1.0, v)

	lock.Release()
	fams = gather(t, h, &Source{WakeLocks: locks})
	v, _ = value(fams["osvlease_wakelock_held"], map[string]string{"name": "renew:eth0"})
	require.Zero(t, v)
	require.Nil(t, fams["osvlease_events_published_total"])
}

func TestActivityHandlerCountsBusEvents(t *testing.T) {
	mh, err := newActivityHandler(logger.Get(logger.Exporter))
	require.NoError(t, err)
	h := mh.(*activityHandler)

	bus := local.NewBus()
	defer bus.Close()

	subs := h.Subscribe(bus)
	require.Len(t, subs, 4)
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	bus.Publish(events.TopicLeaseOutcome, events.Event{Data: controller.OutcomeEvent{Interface: "eth0", Version: lease.IPv4, Outcome: lease.Success}})
	bus.Publish(events.TopicLeaseOutcome, events.Event{Data: controller.OutcomeEvent{Interface: "eth0", Version: lease.IPv4, Outcome: lease.Success}})
	bus.Publish(events.TopicLeaseOutcome, events.Event{Data: controller.OutcomeEvent{Interface: "eth0", Version: lease.IPv4, Outcome: lease.Failure}})
	bus.Publish(events.TopicLeaseState, events.Event{Data: lease.StateChange{Interface: "eth0", Version: lease.IPv4, From: lease.Stopped, To: lease.Running}})
	bus.Publish(events.TopicDHCPv6RenewAlarm, events.Event{Data: lease.RenewalAlarm{Interface: "eth1", Version: lease.IPv6}})
	bus.Publish(events.TopicLeaseState, events.Event{Data: "garbage"})

	require.Eventually(t, func() bool {
		fams := gather(t, h, &Source{})
		success, _ := value(fams["osvlease_lease_outcomes_total"], map[string]string{"outcome": "success"})
		failure, _ := value(fams["osvlease_lease_outcomes_total"], map[string]string{"outcome": "failure"})
		running, _ := value(fams["osvlease_lease_transitions_total"], map[string]string{"to": "Running"})
		alarms, _ := value(fams["osvlease_renewal_alarms_total"], map[string]string{"interface": "eth1", "version": "v6"})
		return success == 2 && failure == 1 && running == 1 && alarms == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateHandlersInNameOrder(t *testing.T) {
	handlers, err := DefaultRegistry().CreateHandlers(logger.Get(logger.Exporter))
	require.NoError(t, err)

	names := make([]string, 0, len(handlers))
	for _, h := range handlers {
		names = append(names, h.Name())
	}
	require.Equal(t, []string{"activity", "leases", "system"}, names)
}
