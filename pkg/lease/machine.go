package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/logger"
)

const (
	// Renewals are never scheduled for leases shorter than this.
	MinRenewalSeconds = 5 * 60
	MaxPollDelay      = 32 * time.Second
	// Worst case hold time of the renewal wake-lock if nobody releases it.
	RenewalWakeLockTimeout = 40 * time.Second

	inboxSize = 64
)

// ErrTerminated is returned by Sync once the machine has stopped running.
var ErrTerminated = errors.New("lease machine terminated")

type Config struct {
	Interface            string
	Version              IPVersion
	PreLeaseNotification bool
	// 0 polls forever.
	MaxPollAttempts int
}

type Deps struct {
	Controller chan<- Notification
	Natives    map[IPVersion]Native
	Alarms     AlarmScheduler
	WakeLock   WakeLock
	Bus        Broadcaster
	Publisher  Publisher
	Scheduler  Scheduler
	Logger     *slog.Logger
}

type message struct {
	cmd     Command
	version IPVersion
	gen     uint64
	reply   chan struct{}
}

// StateChange is published on events.TopicLeaseState after every transition.
type StateChange struct {
	Interface string
	Version   IPVersion
	From      State
	To        State
}

type Status struct {
	Interface            string
	Version              IPVersion
	State                State
	PreLeaseNotification bool
	Result               *Result
}

// Machine owns the DHCP lease lifecycle of one interface. All fields below
// the inbox are only touched by the goroutine executing Run.
type Machine struct {
	iface           string
	logger          *slog.Logger
	controller      chan<- Notification
	natives         map[IPVersion]Native
	alarms          AlarmScheduler
	wakeLock        WakeLock
	bus             Broadcaster
	publisher       Publisher
	scheduler       Scheduler
	maxPollAttempts int

	inbox    chan message
	done     chan struct{}
	quitting atomic.Bool

	statusMu sync.RWMutex
	status   Status

	state      State
	next       State
	transition bool
	version    IPVersion
	preLease   bool
	result     *Result
	sub        events.Subscription

	pollDelay    time.Duration
	pollTimer    Timer
	pollGen      uint64
	pollAttempts int
}

func New(cfg Config, deps Deps) (*Machine, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("interface name required")
	}
	if cfg.Version == 0 {
		cfg.Version = IPv4
	}
	if !cfg.Version.Valid() {
		return nil, fmt.Errorf("invalid ip version %d", cfg.Version)
	}
	if deps.Natives[cfg.Version] == nil {
		return nil, fmt.Errorf("no native dhcp client for %s", cfg.Version)
	}
	if deps.Alarms == nil || deps.WakeLock == nil || deps.Bus == nil {
		return nil, fmt.Errorf("alarm scheduler, wake lock and broadcaster are required")
	}
	if deps.Scheduler == nil {
		deps.Scheduler = realScheduler{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Get(logger.Lease)
	}

	m := &Machine{
		iface:           cfg.Interface,
		logger:          deps.Logger.With("interface", cfg.Interface),
		controller:      deps.Controller,
		natives:         deps.Natives,
		alarms:          deps.Alarms,
		wakeLock:        deps.WakeLock,
		bus:             deps.Bus,
		publisher:       deps.Publisher,
		scheduler:       deps.Scheduler,
		maxPollAttempts: cfg.MaxPollAttempts,
		inbox:           make(chan message, inboxSize),
		done:            make(chan struct{}),
		state:           Stopped,
		version:         cfg.Version,
		preLease:        cfg.PreLeaseNotification,
	}

	m.subscribe()
	m.updateStatus()

	return m, nil
}

func (m *Machine) Interface() string {
	return m.iface
}

// Run processes messages until Quit is called or ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	defer close(m.done)

	m.enter(m.state)
	m.updateStatus()

	for {
		select {
		case <-ctx.Done():
			m.quitting.Store(true)
			m.terminate()
			return
		case msg := <-m.inbox:
			if msg.cmd == cmdQuit {
				m.terminate()
				return
			}
			m.dispatch(msg)
		}
	}
}

// Done is closed once the machine has terminated.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) StartLease() {
	m.send(message{cmd: CmdStartLease})
}

func (m *Machine) StopLease() {
	m.send(message{cmd: CmdStopLease})
}

func (m *Machine) RenewLease() {
	m.send(message{cmd: CmdRenewLease})
}

func (m *Machine) PreLeaseActionComplete() {
	m.send(message{cmd: CmdPreLeaseActionComplete})
}

func (m *Machine) ReconfigureIPVersion(v IPVersion) {
	m.send(message{cmd: CmdReconfigureIPVersion, version: v})
}

func (m *Machine) RegisterPreLeaseNotification() {
	m.send(message{cmd: CmdRegisterPreLeaseNotification})
}

// Quit marks the machine as quitting, which suppresses failure reports for
// operations still in flight, and terminates it.
func (m *Machine) Quit() {
	m.quitting.Store(true)
	m.send(message{cmd: cmdQuit})
}

// Sync returns once every command sent before it has been processed. A
// notification emitted while processing those commands has been handed to
// the controller channel by then.
func (m *Machine) Sync(ctx context.Context) error {
	reply := make(chan struct{})

	select {
	case m.inbox <- message{cmd: cmdSync, reply: reply}:
	case <-m.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-m.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()

	s := m.status
	s.Result = s.Result.Clone()
	return s
}

func (m *Machine) send(msg message) {
	select {
	case m.inbox <- msg:
	case <-m.done:
		m.logger.Debug("Dropping message for terminated machine", "cmd", msg.cmd)
	}
}

func (m *Machine) dispatch(msg message) {
	if msg.cmd == cmdSync {
		close(msg.reply)
		return
	}
	if msg.cmd == cmdGetResultsPoll && msg.gen != m.pollGen {
		m.logger.Debug("Dropping stale poll", "gen", msg.gen, "current", m.pollGen)
		return
	}

	m.logger.Debug("Processing message", "state", m.state, "cmd", msg.cmd)

	if h, ok := stateHandlers[m.state]; !ok || !h(m, msg) {
		m.handleDefault(msg)
	}

	m.performTransition()
	m.updateStatus()
}

func (m *Machine) transitionTo(s State) {
	m.next = s
	m.transition = true
}

func (m *Machine) performTransition() {
	if !m.transition {
		return
	}
	m.transition = false

	from := m.state
	m.exit(from)
	m.state = m.next
	m.enter(m.state)

	m.logger.Debug("State transition", "from", from, "to", m.state)

	if m.publisher != nil {
		m.publisher.Publish(events.TopicLeaseState, events.Event{
			Source: m.iface,
			Data: StateChange{
				Interface: m.iface,
				Version:   m.version,
				From:      from,
				To:        m.state,
			},
		})
	}
}

func (m *Machine) enter(s State) {
	if hook, ok := enterHooks[s]; ok {
		hook(m)
	}
}

func (m *Machine) exit(s State) {
	if hook, ok := exitHooks[s]; ok {
		hook(m)
	}
}

func (m *Machine) terminate() {
	m.exit(m.state)
	m.exitDefault()
	m.updateStatus()

	m.logger.Info("Lease machine terminated", "version", m.version)
	m.notify(Notification{Kind: OnQuit, Version: m.version})
}

func (m *Machine) updateStatus() {
	m.statusMu.Lock()
	m.status = Status{
		Interface:            m.iface,
		Version:              m.version,
		State:                m.state,
		PreLeaseNotification: m.preLease,
		Result:               m.result.Clone(),
	}
	m.statusMu.Unlock()
}

func (m *Machine) notify(n Notification) {
	if m.controller == nil {
		return
	}
	n.Interface = m.iface
	m.controller <- n
}

func (m *Machine) notifyPreLease() {
	m.notify(Notification{Kind: PreLeaseAction, Version: m.version})
}

func (m *Machine) notifyFailure() {
	if m.quitting.Load() {
		m.logger.Debug("Suppressing failure report while quitting")
		return
	}
	m.notify(Notification{Kind: PostLeaseAction, Outcome: Failure, Version: m.version})
}

func (m *Machine) native() Native {
	return m.natives[m.version]
}

func (m *Machine) renewalAlarm() Alarm {
	return Alarm{Topic: RenewalTopic(m.version), Interface: m.iface}
}

func (m *Machine) subscribe() {
	m.sub = m.bus.Subscribe(RenewalTopic(m.version), m.onRenewalAlarm)
}

func (m *Machine) unsubscribe() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
}

// onRenewalAlarm runs on the bus goroutine; it only takes the wake-lock and
// enqueues the renewal.
func (m *Machine) onRenewalAlarm(e events.Event) {
	alarm, ok := e.Data.(RenewalAlarm)
	if !ok || alarm.Interface != m.iface {
		return
	}

	m.logger.Debug("Sending a DHCP renewal", "version", alarm.Version)
	m.wakeLock.Acquire(RenewalWakeLockTimeout)
	m.send(message{cmd: CmdRenewLease})
}

func (m *Machine) setIPVersion(v IPVersion) {
	if !v.Valid() || m.natives[v] == nil {
		m.logger.Error("Cannot switch ip version, no native client", "version", v)
		return
	}

	if m.version != v {
		m.alarms.Cancel(m.renewalAlarm())
	}

	m.version = v
	m.unsubscribe()
	m.subscribe()
	m.quitting.Store(false)

	m.logger.Info("Registered for renewal alarms", "version", v, "topic", RenewalTopic(v))
}
