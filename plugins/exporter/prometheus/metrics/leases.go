package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veesix-networks/osvlease/pkg/lease"
)

func init() {
	Register("leases", newLeaseHandler)
}

var allStates = []lease.State{
	lease.Stopped, lease.WaitBeforeStart, lease.Running, lease.WaitBeforeRenewal, lease.Polling,
}

type leaseHandler struct {
	state    *prometheus.Desc
	duration *prometheus.Desc
	info     *prometheus.Desc
}

func newLeaseHandler(*slog.Logger) (MetricHandler, error) {
	return &leaseHandler{
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lease", "state"),
			"1 for the current state of the lease machine of an interface.",
			[]string{"interface", "version", "state"}, nil),
		duration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lease", "duration_seconds"),
			"Duration of the current lease, -1 if infinite.",
			[]string{"interface", "version"}, nil),
		info: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lease", "info"),
			"Address, gateway and server of the current lease.",
			[]string{"interface", "version", "address", "gateway", "server"}, nil),
	}, nil
}

func (h *leaseHandler) Name() string { return "leases" }

func (h *leaseHandler) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.state
	ch <- h.duration
	ch <- h.info
}

func (h *leaseHandler) Collect(_ context.Context, src *Source, ch chan<- prometheus.Metric) error {
	if src.Leases == nil {
		return nil
	}

	for _, st := range src.Leases.List() {
		version := st.Version.String()
		for _, s := range allStates {
			v := 0.0
			if st.State == s {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(h.state, prometheus.GaugeValue, v, st.Interface, version, s.String())
		}

		if st.Result == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(h.duration, prometheus.GaugeValue,
			float64(st.Result.LeaseDuration), st.Interface, version)
		ch <- prometheus.MustNewConstMetric(h.info, prometheus.GaugeValue, 1,
			st.Interface, version, ipString(st.Result.Address.String(), st.Result.Address.IsZero()),
			ipString(st.Result.Gateway.String(), st.Result.Gateway.IsZero()),
			ipString(st.Result.ServerAddress.String(), st.Result.ServerAddress.IsZero()))
	}
	return nil
}

func ipString(s string, zero bool) string {
	if zero {
		return ""
	}
	return s
}
