// Package inproc implements lease.Native with DHCP clients running inside
// the daemon process.
package inproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/logger"
	"inet.af/netaddr"
)

var (
	ErrNoLease    = errors.New("no lease")
	ErrInProgress = errors.New("dhcp request still in progress")
)

const (
	DefaultStartTimeout   = 30 * time.Second
	DefaultRequestTimeout = 5 * time.Second
	DefaultRetries        = 3
	DefaultRetryDelay     = 4 * time.Second
	DefaultMaxRetryDelay  = 64 * time.Second
)

type Options struct {
	// How long Start waits for the first lease. The request keeps running
	// in the background after that.
	StartTimeout time.Duration
	// Per-packet timeout and retry count handed to the DHCP client.
	RequestTimeout time.Duration
	Retries        int
	// Backoff between failed request rounds, doubling up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(DefaultMaxRetryDelay, o.RetryDelay)
	}
}

type InterfaceOptions struct {
	// Path of the network namespace holding the interface, empty for the
	// current one.
	Namespace string
	Hostname  string
	// Address asked for in the first request after a restart.
	RequestedAddress netaddr.IP
}

type client interface {
	Request(ctx context.Context) (*lease.Result, error)
	Renew(ctx context.Context) (*lease.Result, error)
	Release() error
	Close() error
}

type dialFunc func(iface string, io InterfaceOptions, o Options) (client, error)

// session is one client kept requesting until it holds a lease. first is
// closed after the first request round, done once the loop has ended.
type session struct {
	client    client
	cancel    context.CancelFunc
	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	result *lease.Result
	err    error
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Driver runs at most one DHCP client per interface for a single IP version.
type Driver struct {
	version lease.IPVersion
	opts    Options
	dial    dialFunc
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	ifaces   map[string]InterfaceOptions
}

func NewV4(opts Options) *Driver {
	return newDriver(lease.IPv4, opts, dialV4, logger.NativeV4)
}

func NewV6(opts Options) *Driver {
	return newDriver(lease.IPv6, opts, dialV6, logger.NativeV6)
}

func newDriver(v lease.IPVersion, opts Options, dial dialFunc, component string) *Driver {
	opts.applyDefaults()
	return &Driver{
		version:  v,
		opts:     opts,
		dial:     dial,
		logger:   logger.Get(component),
		sessions: make(map[string]*session),
		ifaces:   make(map[string]InterfaceOptions),
	}
}

func (d *Driver) Version() lease.IPVersion {
	return d.version
}

// Configure sets the per-interface options used by the next Start.
func (d *Driver) Configure(iface string, o InterfaceOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ifaces[iface] = o
}

// SetRequestedAddress records the address to ask for on the next Start.
func (d *Driver) SetRequestedAddress(iface string, ip netaddr.IP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := d.ifaces[iface]
	o.RequestedAddress = ip
	d.ifaces[iface] = o
}

func (d *Driver) Start(iface string) error {
	if err := d.Stop(iface); err != nil {
		d.logger.Warn("Failed to stop previous client", "interface", iface, "error", err)
	}

	d.mu.Lock()
	io := d.ifaces[iface]
	d.mu.Unlock()

	c, err := d.dial(iface, io, d.opts)
	if err != nil {
		return fmt.Errorf("open %s client on %s: %w", d.version, iface, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{client: c, cancel: cancel, first: make(chan struct{}), done: make(chan struct{})}

	d.mu.Lock()
	d.sessions[iface] = s
	d.mu.Unlock()

	go d.request(ctx, iface, s)

	timer := time.NewTimer(d.opts.StartTimeout)
	defer timer.Stop()

	select {
	case <-s.first:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	case <-timer.C:
		return fmt.Errorf("%s on %s after %s: %w", d.version, iface, d.opts.StartTimeout, ErrInProgress)
	}
}

// request keeps asking for a lease with exponential backoff until one is
// obtained or the session is stopped.
func (d *Driver) request(ctx context.Context, iface string, s *session) {
	defer close(s.done)

	delay := d.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		res, err := s.client.Request(ctx)

		s.mu.Lock()
		s.result, s.err = res, err
		s.mu.Unlock()
		s.firstOnce.Do(func() { close(s.first) })

		if err == nil {
			d.logger.Info("DHCP lease obtained", "interface", iface, "address", res.Address, "lease", res.LeaseDuration, "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}

		d.logger.Debug("DHCP request failed, retrying", "interface", iface, "attempt", attempt, "in", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > d.opts.MaxRetryDelay {
			delay = d.opts.MaxRetryDelay
		}
	}
}

func (d *Driver) StartRenew(iface string) error {
	s := d.session(iface)
	if s == nil {
		return fmt.Errorf("renew %s on %s: %w", d.version, iface, ErrNoLease)
	}
	if !s.finished() {
		return fmt.Errorf("renew %s on %s: %w", d.version, iface, ErrInProgress)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.StartTimeout)
	defer cancel()

	res, err := s.client.Renew(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.result, s.err = nil, err
		return fmt.Errorf("renew %s on %s: %w", d.version, iface, err)
	}
	s.result, s.err = res, nil
	return nil
}

func (d *Driver) Result(iface string, renew bool) (*lease.Result, error) {
	s := d.session(iface)
	if s == nil {
		return nil, ErrNoLease
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result == nil {
		if s.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoLease, s.err)
		}
		return nil, ErrNoLease
	}
	return s.result.Clone(), nil
}

// Stop cancels any request in flight, releases the lease and closes the
// client. Stopping an idle interface is not an error.
func (d *Driver) Stop(iface string) error {
	d.mu.Lock()
	s := d.sessions[iface]
	delete(d.sessions, iface)
	d.mu.Unlock()

	if s == nil {
		return nil
	}

	s.cancel()
	<-s.done

	var errs []error
	s.mu.Lock()
	held := s.result != nil
	s.mu.Unlock()
	if held {
		if err := s.client.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release: %w", err))
		}
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	d.logger.Debug("DHCP client stopped", "interface", iface, "released", held)
	return errors.Join(errs...)
}

// Close stops every client.
func (d *Driver) Close() error {
	d.mu.Lock()
	ifaces := make([]string, 0, len(d.sessions))
	for iface := range d.sessions {
		ifaces = append(ifaces, iface)
	}
	d.mu.Unlock()

	var errs []error
	for _, iface := range ifaces {
		if err := d.Stop(iface); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", iface, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) session(iface string) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[iface]
}
