package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	Register("system", newSystemHandler)
}

// systemHandler exports the wake-lock and event bus counters.
type systemHandler struct {
	wakeHeld     *prometheus.Desc
	wakeAcquires *prometheus.Desc
	wakeReleases *prometheus.Desc
	wakeExpired  *prometheus.Desc
	published    *prometheus.Desc
	dropped      *prometheus.Desc
	panics       *prometheus.Desc
	queueLen     *prometheus.Desc
}

func newSystemHandler(*slog.Logger) (MetricHandler, error) {
	wl := []string{"name"}
	return &systemHandler{
		wakeHeld:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "wakelock", "held"), "1 while the renewal wake-lock of an interface is held.", wl, nil),
		wakeAcquires: prometheus.NewDesc(prometheus.BuildFQName(namespace, "wakelock", "acquires_total"), "Wake-lock acquisitions.", wl, nil),
		wakeReleases: prometheus.NewDesc(prometheus.BuildFQName(namespace, "wakelock", "releases_total"), "Explicit wake-lock releases.", wl, nil),
		wakeExpired:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "wakelock", "expired_total"), "Wake-lock holds that ran into their timeout.", wl, nil),
		published:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "events", "published_total"), "Events accepted by the bus.", nil, nil),
		dropped:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "events", "dropped_total"), "Events dropped by the bus.", nil, nil),
		panics:       prometheus.NewDesc(prometheus.BuildFQName(namespace, "events", "handler_panics_total"), "Event handlers that panicked.", nil, nil),
		queueLen:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "events", "queue_length"), "Events waiting for delivery.", nil, nil),
	}, nil
}

func (h *systemHandler) Name() string { return "system" }

func (h *systemHandler) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.wakeHeld
	ch <- h.wakeAcquires
	ch <- h.wakeReleases
	ch <- h.wakeExpired
	ch <- h.published
	ch <- h.dropped
	ch <- h.panics
	ch <- h.queueLen
}

func (h *systemHandler) Collect(_ context.Context, src *Source, ch chan<- prometheus.Metric) error {
	if src.WakeLocks != nil {
		for _, s := range src.WakeLocks.Stats() {
			held := 0.0
			if s.Held {
				held = 1
			}
			ch <- prometheus.MustNewConstMetric(h.wakeHeld, prometheus.GaugeValue, held, s.Name)
			ch <- prometheus.MustNewConstMetric(h.wakeAcquires, prometheus.CounterValue, float64(s.Acquires), s.Name)
			ch <- prometheus.MustNewConstMetric(h.wakeReleases, prometheus.CounterValue, float64(s.Releases), s.Name)
			ch <- prometheus.MustNewConstMetric(h.wakeExpired, prometheus.CounterValue, float64(s.Expired), s.Name)
		}
	}

	if src.Bus != nil {
		s := src.Bus.Stats()
		ch <- prometheus.MustNewConstMetric(h.published, prometheus.CounterValue, float64(s.Published))
		ch <- prometheus.MustNewConstMetric(h.dropped, prometheus.CounterValue, float64(s.Dropped))
		ch <- prometheus.MustNewConstMetric(h.panics, prometheus.CounterValue, float64(s.Panics))
		ch <- prometheus.MustNewConstMetric(h.queueLen, prometheus.GaugeValue, float64(s.PublishChLen))
	}
	return nil
}
