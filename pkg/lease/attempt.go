package lease

import (
	"fmt"
	"time"
)

func (m *Machine) runStart() bool {
	native := m.native()

	if err := native.Stop(m.iface); err != nil {
		m.logger.Error("Failed to stop DHCP client", "version", m.version, "error", err)
	}
	m.result = nil

	m.logger.Info("DHCP request", "version", m.version)

	err := native.Start(m.iface)
	if err == nil {
		err = m.leaseSucceeded(false)
	}
	if err != nil {
		m.logger.Error("DHCP request failed", "version", m.version, "error", err)
		m.notifyFailure()
		return false
	}
	return true
}

func (m *Machine) runRenew() bool {
	m.logger.Info("DHCP renewal", "version", m.version)

	err := m.native().StartRenew(m.iface)
	if err == nil {
		err = m.leaseSucceeded(true)
	}
	if err != nil {
		m.logger.Error("DHCP renew failed", "version", m.version, "error", err)
		m.notifyFailure()
		return false
	}
	return true
}

// leaseSucceeded fetches the result of a start or renewal, arms the renewal
// alarm, merges the result into the stored one and reports it.
func (m *Machine) leaseSucceeded(renew bool) error {
	res, err := m.native().Result(m.iface, renew)
	if err != nil {
		return fmt.Errorf("get %s results: %w", m.version, err)
	}
	if res == nil {
		return fmt.Errorf("get %s results: empty result", m.version)
	}

	m.logger.Debug("DHCP results found", "version", m.version, "result", res)

	merged := res.FillForward(m.result)

	if m.quitting.Load() {
		m.logger.Debug("Result found but machine is quitting")
		m.result = merged
		return nil
	}

	if res.LeaseDuration >= 0 {
		clamped, delay := RenewalDelay(m.version, res.LeaseDuration)
		if clamped != res.LeaseDuration {
			m.logger.Warn("Lease duration below renewal floor, clamping",
				"version", m.version, "lease", res.LeaseDuration, "clamped", clamped)
		}
		triggerAt := m.alarms.Elapsed() + delay
		m.alarms.SetExact(triggerAt, m.renewalAlarm())
		m.logger.Debug("Renewal alarm set", "version", m.version, "in", delay)
	}

	m.result = merged
	m.notify(Notification{
		Kind:    PostLeaseAction,
		Outcome: Success,
		Version: m.version,
		Result:  merged.Clone(),
	})
	return nil
}

// RenewalDelay returns the clamped lease duration and the delay after which
// the renewal alarm fires. v4 renews at 48% of the lease with a 300s floor;
// v6 uses a 144s floor and renews at 100% of the lease.
func RenewalDelay(v IPVersion, leaseSeconds int64) (int64, time.Duration) {
	if v == IPv6 {
		floor := MinRenewalSeconds * 0.48
		if float64(leaseSeconds) < floor {
			leaseSeconds = int64(floor)
		}
		return leaseSeconds, time.Duration(leaseSeconds*1000) * time.Millisecond
	}

	if leaseSeconds < MinRenewalSeconds {
		leaseSeconds = MinRenewalSeconds
	}
	return leaseSeconds, time.Duration(leaseSeconds*480) * time.Millisecond
}
