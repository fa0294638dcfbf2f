package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"inet.af/netaddr"

	"github.com/veesix-networks/osvlease/pkg/component"
	"github.com/veesix-networks/osvlease/pkg/config"
	"github.com/veesix-networks/osvlease/pkg/config/interfaces"
	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/leaseapi"
	"github.com/veesix-networks/osvlease/pkg/logger"
	"github.com/veesix-networks/osvlease/pkg/native/inproc"
	"github.com/veesix-networks/osvlease/pkg/opdb"
)

const (
	quitTimeout = 5 * time.Second
	// Bounds waiting for a machine that may be inside a native start.
	settleTimeout = 45 * time.Second
)

// Native is a lease.Native that also accepts per-interface options.
type Native interface {
	lease.Native
	Configure(iface string, o inproc.InterfaceOptions)
	SetRequestedAddress(iface string, ip netaddr.IP)
}

// NamespaceSetter is implemented by NetConf backends that support network
// namespaces.
type NamespaceSetter interface {
	SetNamespace(iface, path string)
}

type ManagerDeps struct {
	Config *config.Config
	Bus    events.Bus
	Alarms lease.AlarmScheduler
	// NewWakeLock returns the renewal wake-lock of one interface. Locks are
	// not reference counted, so interfaces must not share one.
	NewWakeLock func(iface string) lease.WakeLock
	Natives     map[lease.IPVersion]Native
	NetConf     NetConf
	Store       opdb.Store
	Scheduler   lease.Scheduler
}

type entry struct {
	cfg        interfaces.InterfaceConfig
	machine    *lease.Machine
	controller *Controller
	wakeLock   lease.WakeLock
}

// versionSwitch is an IP version change applied after a reload.
type versionSwitch struct {
	entry   *entry
	version lease.IPVersion
	restart bool
}

// Manager runs one lease machine and controller per configured interface.
type Manager struct {
	*component.Base

	logger *slog.Logger
	deps   ManagerDeps

	mu      sync.RWMutex
	cfg     *config.Config
	entries map[string]*entry
	hints   map[lease.IPVersion]map[string]netaddr.IP
}

func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Config == nil {
		return nil, errors.New("config required")
	}
	if deps.Bus == nil || deps.Alarms == nil || deps.NewWakeLock == nil {
		return nil, errors.New("bus, alarms and wake lock factory required")
	}
	if len(deps.Natives) == 0 {
		return nil, errors.New("at least one native dhcp client required")
	}

	return &Manager{
		Base:    component.NewBase("lease-manager"),
		logger:  logger.Get(logger.Controller),
		deps:    deps,
		cfg:     deps.Config,
		entries: make(map[string]*entry),
		hints:   make(map[lease.IPVersion]map[string]netaddr.IP),
	}, nil
}

func (m *Manager) Namespaces() []string {
	return []string{opdb.NamespaceDHCPv4Leases, opdb.NamespaceDHCPv6Leases}
}

// Restore loads persisted leases as requested-address hints for the first
// request after startup.
func (m *Manager) Restore(ctx context.Context, store opdb.Store) error {
	for _, v := range []lease.IPVersion{lease.IPv4, lease.IPv6} {
		leases, err := opdb.LoadLeases(ctx, store, v)
		if err != nil {
			return fmt.Errorf("load %s leases: %w", v, err)
		}

		m.mu.Lock()
		hints := make(map[string]netaddr.IP, len(leases))
		for iface, res := range leases {
			if !res.Address.IsZero() {
				hints[iface] = res.Address.IP()
			}
		}
		m.hints[v] = hints
		m.mu.Unlock()

		m.logger.Info("Restored lease hints", "version", v, "count", len(hints))
	}
	return nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.StartContext(ctx)
	m.logger.Info("Starting lease manager")

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ifc := range m.cfg.EnabledInterfaces() {
		if err := m.addLocked(*ifc); err != nil {
			return fmt.Errorf("interface %s: %w", ifc.Name, err)
		}
	}
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("Stopping lease manager")

	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for name, e := range m.entries {
		entries = append(entries, e)
		delete(m.entries, name)
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := m.quit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	m.StopContext()
	return errors.Join(errs...)
}

func parseVersion(s string) lease.IPVersion {
	if s == interfaces.IPVersion6 {
		return lease.IPv6
	}
	return lease.IPv4
}

func (m *Manager) addLocked(ifc interfaces.InterfaceConfig) error {
	v := parseVersion(ifc.IPVersion)

	natives := make(map[lease.IPVersion]lease.Native, len(m.deps.Natives))
	for version, n := range m.deps.Natives {
		n.Configure(ifc.Name, inproc.InterfaceOptions{
			Namespace:        ifc.Namespace,
			Hostname:         ifc.Hostname,
			RequestedAddress: m.hints[version][ifc.Name],
		})
		natives[version] = n
	}
	if ns, ok := m.deps.NetConf.(NamespaceSetter); ok && ifc.Namespace != "" {
		ns.SetNamespace(ifc.Name, ifc.Namespace)
	}

	wakeLock := m.deps.NewWakeLock(ifc.Name)
	inbox := make(chan lease.Notification, notificationBuffer)
	machine, err := lease.New(lease.Config{
		Interface:            ifc.Name,
		Version:              v,
		PreLeaseNotification: ifc.PreLeaseNotification || ifc.LinkUp,
		MaxPollAttempts:      ifc.MaxPollAttempts,
	}, lease.Deps{
		Controller: inbox,
		Natives:    natives,
		Alarms:     m.deps.Alarms,
		WakeLock:   wakeLock,
		Bus:        m.deps.Bus,
		Publisher:  m.deps.Bus,
		Scheduler:  m.deps.Scheduler,
		Logger:     logger.WithLease(logger.Get(logger.Lease), logger.LeaseAttrs{Namespace: ifc.Namespace}),
	})
	if err != nil {
		return err
	}

	ctrl := New(Options{
		Interface: ifc.Name,
		LinkUp:    ifc.LinkUp,
		Apply:     ifc.Apply,
	}, machine, inbox, m.deps.NetConf, m.deps.Store, m.deps.Bus)

	e := &entry{cfg: ifc, machine: machine, controller: ctrl, wakeLock: wakeLock}
	m.entries[ifc.Name] = e

	m.Go(func() { machine.Run(m.Ctx) })
	m.Go(func() { ctrl.Run(m.Ctx) })

	m.logger.Info("Interface added", "interface", ifc.Name, "version", v,
		"pre_lease", ifc.PreLeaseNotification, "apply", ifc.Apply)

	if ifc.StartsAutomatically() {
		machine.StartLease()
	}
	return nil
}

func (m *Manager) quit(ctx context.Context, e *entry) error {
	e.machine.Quit()

	timeout := time.NewTimer(quitTimeout)
	defer timeout.Stop()

	select {
	case <-e.controller.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("quit %s: %w", e.cfg.Name, ctx.Err())
	case <-timeout.C:
		return fmt.Errorf("quit %s: timed out", e.cfg.Name)
	}
}

func (m *Manager) lookup(iface string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[iface]
	if !ok {
		return nil, fmt.Errorf("%s: %w", iface, ErrUnknownInterface)
	}
	return e, nil
}

func (m *Manager) List() []lease.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]lease.Status, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.machine.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
	return out
}

func (m *Manager) Get(iface string) (lease.Status, error) {
	e, err := m.lookup(iface)
	if err != nil {
		return lease.Status{}, err
	}
	return e.machine.Status(), nil
}

// Reload reconciles the running interfaces with cfg. Interfaces whose only
// change is the IP version or a newly enabled pre-lease notification keep
// their machine; any other change recreates it.
func (m *Manager) Reload(cfg *config.Config) {
	m.mu.Lock()
	switches := m.reloadLocked(cfg)
	m.mu.Unlock()

	for _, sw := range switches {
		ctx, cancel := m.settleContext()
		if err := m.switchVersion(ctx, sw.entry, sw.version, sw.restart); err != nil {
			m.logger.Error("Failed to switch ip version", "interface", sw.entry.cfg.Name, "version", sw.version, "error", err)
		}
		cancel()
	}
}

func (m *Manager) reloadLocked(cfg *config.Config) []versionSwitch {
	m.cfg = cfg
	if m.Ctx == nil {
		return nil
	}

	wanted := make(map[string]interfaces.InterfaceConfig)
	for _, ifc := range cfg.EnabledInterfaces() {
		wanted[ifc.Name] = *ifc
	}

	var switches []versionSwitch
	for name, e := range m.entries {
		next, ok := wanted[name]
		if ok {
			if sw, kept := m.reconfigureLocked(e, next); kept {
				if sw != nil {
					switches = append(switches, *sw)
				}
				continue
			}
		}

		m.logger.Info("Interface removed", "interface", name)
		delete(m.entries, name)
		if err := m.quit(m.Ctx, e); err != nil {
			m.logger.Warn("Failed to quit lease machine", "interface", name, "error", err)
		}
	}

	for name, ifc := range wanted {
		if _, ok := m.entries[name]; ok {
			continue
		}
		if err := m.addLocked(ifc); err != nil {
			m.logger.Error("Failed to add interface", "interface", name, "error", err)
		}
	}
	return switches
}

// reconfigureLocked applies next to a running entry in place and reports
// whether that was possible. A version change is returned for the caller to
// apply once the manager lock is released.
func (m *Manager) reconfigureLocked(e *entry, next interfaces.InterfaceConfig) (*versionSwitch, bool) {
	cur := e.cfg

	versionChanged := parseVersion(cur.IPVersion) != parseVersion(next.IPVersion)
	preLeaseAdded := !cur.PreLeaseNotification && next.PreLeaseNotification

	cur.IPVersion = next.IPVersion
	cur.PreLeaseNotification = cur.PreLeaseNotification || next.PreLeaseNotification
	if !reflect.DeepEqual(cur, next) {
		return nil, false
	}

	if preLeaseAdded {
		e.machine.RegisterPreLeaseNotification()
	}
	e.cfg = next

	if !versionChanged {
		return nil, true
	}
	return &versionSwitch{
		entry:   e,
		version: parseVersion(next.IPVersion),
		restart: next.StartsAutomatically(),
	}, true
}

// switchVersion stops the lease, withdraws what was installed for the old
// version and moves the machine to v.
func (m *Manager) switchVersion(ctx context.Context, e *entry, v lease.IPVersion, restart bool) error {
	old, err := m.stopMachine(ctx, e)
	if err != nil {
		return err
	}

	m.logger.Info("Switching ip version", "interface", e.cfg.Name, "from", old, "to", v)
	if old != v {
		if err := e.controller.Withdraw(ctx, old, false); err != nil {
			return fmt.Errorf("withdraw %s lease: %w", old, err)
		}
	}

	e.machine.ReconfigureIPVersion(v)
	if restart {
		e.machine.StartLease()
	}
	return nil
}

// stopMachine stops the lease of e and waits until the machine has
// processed it. It returns the IP version the lease ran on.
func (m *Manager) stopMachine(ctx context.Context, e *entry) (lease.IPVersion, error) {
	e.machine.StopLease()
	if err := e.machine.Sync(ctx); err != nil {
		return 0, fmt.Errorf("stop %s: %w", e.cfg.Name, err)
	}
	return e.machine.Status().Version, nil
}

func (m *Manager) settleContext() (context.Context, context.CancelFunc) {
	ctx := m.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, settleTimeout)
}

// API exposes the manager as a leaseapi.Service.
func (m *Manager) API() leaseapi.Service {
	return apiService{m: m}
}

func (m *Manager) StartInterface(iface string) error {
	e, err := m.lookup(iface)
	if err != nil {
		return err
	}
	e.machine.StartLease()
	return nil
}

// StopInterface stops the lease and forgets what it had installed.
func (m *Manager) StopInterface(iface string) error {
	e, err := m.lookup(iface)
	if err != nil {
		return err
	}

	ctx, cancel := m.settleContext()
	defer cancel()

	v, err := m.stopMachine(ctx, e)
	if err != nil {
		return err
	}
	return e.controller.Withdraw(ctx, v, true)
}

// RenewInterface forces an immediate renewal, as if the alarm had fired.
func (m *Manager) RenewInterface(iface string) error {
	e, err := m.lookup(iface)
	if err != nil {
		return err
	}
	e.wakeLock.Acquire(lease.RenewalWakeLockTimeout)
	e.machine.RenewLease()
	return nil
}

// SetInterfaceVersion moves iface to v. A lease that was active is
// restarted on the new version.
func (m *Manager) SetInterfaceVersion(iface string, v lease.IPVersion) error {
	if !v.Valid() {
		return fmt.Errorf("ip version %d: %w", v, leaseapi.ErrInvalidArgument)
	}
	if m.deps.Natives[v] == nil {
		return fmt.Errorf("no native client for %s: %w", v, leaseapi.ErrInvalidArgument)
	}

	e, err := m.lookup(iface)
	if err != nil {
		return err
	}

	st := e.machine.Status()
	if st.Version != v {
		ctx, cancel := m.settleContext()
		defer cancel()
		if err := m.switchVersion(ctx, e, v, st.State != lease.Stopped); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if v == lease.IPv6 {
		e.cfg.IPVersion = interfaces.IPVersion6
	} else {
		e.cfg.IPVersion = interfaces.IPVersion4
	}
	m.mu.Unlock()
	return nil
}

// LastOutcome returns the most recent outcome the controller of iface saw.
func (m *Manager) LastOutcome(iface string) (lease.Outcome, time.Time, error) {
	e, err := m.lookup(iface)
	if err != nil {
		return 0, time.Time{}, err
	}
	o, at := e.controller.LastOutcome()
	return o, at, nil
}

type apiService struct {
	m *Manager
}

func (s apiService) List() []lease.Status                   { return s.m.List() }
func (s apiService) Get(iface string) (lease.Status, error) { return s.m.Get(iface) }
func (s apiService) Start(iface string) error               { return s.m.StartInterface(iface) }
func (s apiService) Stop(iface string) error                { return s.m.StopInterface(iface) }
func (s apiService) Renew(iface string) error               { return s.m.RenewInterface(iface) }
func (s apiService) SetVersion(iface string, v lease.IPVersion) error {
	return s.m.SetInterfaceVersion(iface, v)
}
