package lease

import "time"

type stateHandler func(m *Machine, msg message) bool

var stateHandlers = map[State]stateHandler{
	Stopped:           (*Machine).handleStopped,
	WaitBeforeStart:   (*Machine).handleWaitBeforeStart,
	Polling:           (*Machine).handlePolling,
	Running:           (*Machine).handleRunning,
	WaitBeforeRenewal: (*Machine).handleWaitBeforeRenewal,
}

var enterHooks = map[State]func(m *Machine){
	Stopped: (*Machine).enterStopped,
	Polling: (*Machine).enterPolling,
}

var exitHooks = map[State]func(m *Machine){
	Polling:           (*Machine).exitPolling,
	WaitBeforeRenewal: (*Machine).exitWaitBeforeRenewal,
}

// handleDefault runs for every message the current state did not handle.
func (m *Machine) handleDefault(msg message) {
	switch msg.cmd {
	case CmdRenewLease:
		m.logger.Error("Failed to handle a DHCP renewal", "version", m.version, "state", m.state)
		m.wakeLock.Release()
	case CmdReconfigureIPVersion:
		m.setIPVersion(msg.version)
	case CmdRegisterPreLeaseNotification:
		m.preLease = true
	default:
		m.logger.Error("Unhandled message", "state", m.state, "cmd", msg.cmd)
	}
}

func (m *Machine) exitDefault() {
	m.alarms.Cancel(m.renewalAlarm())
	m.unsubscribe()
}

func (m *Machine) enterStopped() {
	if err := m.native().Stop(m.iface); err != nil {
		m.logger.Error("Failed to stop DHCP client", "version", m.version, "error", err)
	}
	m.result = nil
}

func (m *Machine) handleStopped(msg message) bool {
	switch msg.cmd {
	case CmdStartLease:
		if m.preLease {
			m.notifyPreLease()
			m.transitionTo(WaitBeforeStart)
		} else if m.runStart() {
			m.transitionTo(Running)
		}
	case CmdStopLease:
	default:
		return false
	}
	return true
}

func (m *Machine) handleWaitBeforeStart(msg message) bool {
	switch msg.cmd {
	case CmdPreLeaseActionComplete:
		if m.runStart() {
			m.transitionTo(Running)
		} else {
			// The request may still complete in the background.
			m.transitionTo(Polling)
		}
	case CmdStopLease:
		m.transitionTo(Stopped)
	case CmdStartLease:
	default:
		return false
	}
	return true
}

func (m *Machine) enterPolling() {
	m.pollDelay = time.Second
	m.pollAttempts = 0
	m.scheduleNextResultsCheck()
}

func (m *Machine) exitPolling() {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	m.pollGen++
}

func (m *Machine) scheduleNextResultsCheck() {
	gen := m.pollGen
	m.logger.Debug("Scheduling results check", "delay", m.pollDelay)
	m.pollTimer = m.scheduler.AfterFunc(m.pollDelay, func() {
		m.send(message{cmd: cmdGetResultsPoll, gen: gen})
	})

	m.pollDelay *= 2
	if m.pollDelay > MaxPollDelay {
		m.pollDelay = MaxPollDelay
	}
}

func (m *Machine) handlePolling(msg message) bool {
	switch msg.cmd {
	case cmdGetResultsPoll:
		m.pollTimer = nil
		m.pollAttempts++
		err := m.leaseSucceeded(false)
		if err == nil {
			m.transitionTo(Running)
			return true
		}
		m.logger.Debug("DHCP results not available", "attempt", m.pollAttempts, "error", err)

		if m.maxPollAttempts > 0 && m.pollAttempts >= m.maxPollAttempts {
			m.logger.Warn("Giving up polling for DHCP results", "attempts", m.pollAttempts)
			m.notifyFailure()
			m.transitionTo(Stopped)
			return true
		}
		m.scheduleNextResultsCheck()
	case CmdStopLease:
		m.transitionTo(Stopped)
	default:
		return false
	}
	return true
}

func (m *Machine) handleRunning(msg message) bool {
	switch msg.cmd {
	case CmdStopLease:
		m.alarms.Cancel(m.renewalAlarm())
		m.transitionTo(Stopped)
	case CmdRenewLease:
		if m.preLease {
			m.notifyPreLease()
			// The wake-lock is released when WaitBeforeRenewal exits.
			m.transitionTo(WaitBeforeRenewal)
		} else {
			if !m.runRenew() {
				m.transitionTo(Stopped)
			}
			m.wakeLock.Release()
		}
	case CmdStartLease:
	default:
		return false
	}
	return true
}

func (m *Machine) handleWaitBeforeRenewal(msg message) bool {
	switch msg.cmd {
	case CmdStopLease:
		m.alarms.Cancel(m.renewalAlarm())
		m.transitionTo(Stopped)
	case CmdPreLeaseActionComplete:
		if m.runRenew() {
			m.transitionTo(Running)
		} else {
			m.transitionTo(Stopped)
		}
	case CmdStartLease:
	default:
		return false
	}
	return true
}

func (m *Machine) exitWaitBeforeRenewal() {
	m.wakeLock.Release()
}
