package metrics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veesix-networks/osvlease/internal/controller"
	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/lease"
)

func init() {
	Register("activity", newActivityHandler)
}

type counterKey struct {
	iface   string
	version string
	label   string
}

// activityHandler counts lease outcomes, state transitions and renewal
// alarms as they are published on the bus.
type activityHandler struct {
	logger *slog.Logger

	outcomes    *prometheus.Desc
	transitions *prometheus.Desc
	alarms      *prometheus.Desc

	mu          sync.Mutex
	outcomeN    map[counterKey]uint64
	transitionN map[counterKey]uint64
	alarmN      map[counterKey]uint64
}

func newActivityHandler(logger *slog.Logger) (MetricHandler, error) {
	return &activityHandler{
		logger: logger,
		outcomes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lease", "outcomes_total"),
			"Lease attempts reported to the controller by outcome.",
			[]string{"interface", "version", "outcome"}, nil),
		transitions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lease", "transitions_total"),
			"State transitions by target state.",
			[]string{"interface", "version", "to"}, nil),
		alarms: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "renewal", "alarms_total"),
			"Renewal alarms fired.",
			[]string{"interface", "version"}, nil),
		outcomeN:    make(map[counterKey]uint64),
		transitionN: make(map[counterKey]uint64),
		alarmN:      make(map[counterKey]uint64),
	}, nil
}

func (h *activityHandler) Name() string { return "activity" }

func (h *activityHandler) Subscribe(sub events.Subscriber) []events.Subscription {
	return []events.Subscription{
		sub.Subscribe(events.TopicLeaseOutcome, h.onOutcome),
		sub.Subscribe(events.TopicLeaseState, h.onState),
		sub.Subscribe(events.TopicDHCPRenewAlarm, h.onAlarm),
		sub.Subscribe(events.TopicDHCPv6RenewAlarm, h.onAlarm),
	}
}

func (h *activityHandler) onOutcome(e events.Event) {
	o, ok := e.Data.(controller.OutcomeEvent)
	if !ok {
		return
	}
	h.inc(h.outcomeN, counterKey{o.Interface, o.Version.String(), strings.ToLower(o.Outcome.String())})
}

func (h *activityHandler) onState(e events.Event) {
	s, ok := e.Data.(lease.StateChange)
	if !ok {
		return
	}
	h.inc(h.transitionN, counterKey{s.Interface, s.Version.String(), s.To.String()})
}

func (h *activityHandler) onAlarm(e events.Event) {
	a, ok := e.Data.(lease.RenewalAlarm)
	if !ok {
		return
	}
	h.inc(h.alarmN, counterKey{iface: a.Interface, version: a.Version.String()})
}

func (h *activityHandler) inc(m map[counterKey]uint64, k counterKey) {
	h.mu.Lock()
	m[k]++
	h.mu.Unlock()
}

func (h *activityHandler) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.outcomes
	ch <- h.transitions
	ch <- h.alarms
}

func (h *activityHandler) Collect(_ context.Context, _ *Source, ch chan<- prometheus.Metric) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, k := range sortedKeys(h.outcomeN) {
		ch <- prometheus.MustNewConstMetric(h.outcomes, prometheus.CounterValue, float64(h.outcomeN[k]), k.iface, k.version, k.label)
	}
	for _, k := range sortedKeys(h.transitionN) {
		ch <- prometheus.MustNewConstMetric(h.transitions, prometheus.CounterValue, float64(h.transitionN[k]), k.iface, k.version, k.label)
	}
	for _, k := range sortedKeys(h.alarmN) {
		ch <- prometheus.MustNewConstMetric(h.alarms, prometheus.CounterValue, float64(h.alarmN[k]), k.iface, k.version)
	}
	return nil
}

func sortedKeys(m map[counterKey]uint64) []counterKey {
	keys := make([]counterKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].iface != keys[j].iface {
			return keys[i].iface < keys[j].iface
		}
		if keys[i].version != keys[j].version {
			return keys[i].version < keys[j].version
		}
		return keys[i].label < keys[j].label
	})
	return keys
}
