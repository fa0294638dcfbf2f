package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/leaseapi"
	"github.com/veesix-networks/osvlease/pkg/logger"
	"github.com/veesix-networks/osvlease/pkg/opdb"
)

var ErrUnknownInterface = leaseapi.ErrUnknownInterface

const notificationBuffer = 16

// NetConf applies lease results to the host.
type NetConf interface {
	PrepareLink(iface string) error
	Apply(iface string, v lease.IPVersion, res *lease.Result) error
	Flush(iface string, v lease.IPVersion) error
}

// Machine is the part of the lease machine a controller talks back to.
type Machine interface {
	PreLeaseActionComplete()
}

// OutcomeEvent is published on events.TopicLeaseOutcome for every lease
// attempt the machine reports.
type OutcomeEvent struct {
	Interface string
	Version   lease.IPVersion
	Outcome   lease.Outcome
	Result    *lease.Result
}

type Options struct {
	Interface string
	LinkUp    bool
	Apply     bool
}

// Controller consumes the notifications of one lease machine.
type Controller struct {
	opts      Options
	machine   Machine
	inbox     <-chan lease.Notification
	netconf   NetConf
	store     opdb.Store
	publisher events.Publisher
	logger    *slog.Logger
	requests  chan withdrawal
	done      chan struct{}

	mu          sync.Mutex
	lastOutcome lease.Outcome
	lastChange  time.Time
}

func New(opts Options, machine Machine, inbox <-chan lease.Notification, netconf NetConf, store opdb.Store, publisher events.Publisher) *Controller {
	return &Controller{
		opts:      opts,
		machine:   machine,
		inbox:     inbox,
		netconf:   netconf,
		store:     store,
		publisher: publisher,
		logger:    logger.Get(logger.Controller).With("interface", opts.Interface),
		requests:  make(chan withdrawal),
		done:      make(chan struct{}),
	}
}

// withdrawal asks the controller to remove what it installed for a lease.
type withdrawal struct {
	version lease.IPVersion
	forget  bool
	reply   chan error
}

// Run handles notifications until the machine reports OnQuit. ctx only
// bounds persistence calls; the loop must keep draining the machine.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case n, ok := <-c.inbox:
			if !ok || c.handle(ctx, n) {
				return
			}
		case req := <-c.requests:
			if c.drain(ctx) {
				return
			}
			req.reply <- c.withdraw(ctx, req)
		}
	}
}

// handle processes one notification and reports whether the machine quit.
func (c *Controller) handle(ctx context.Context, n lease.Notification) bool {
	switch n.Kind {
	case lease.PreLeaseAction:
		c.preLease(n)
	case lease.PostLeaseAction:
		c.postLease(ctx, n)
	case lease.OnQuit:
		c.logger.Info("Lease machine quit", "version", n.Version)
		if c.opts.Apply && c.netconf != nil {
			if err := c.netconf.Flush(c.opts.Interface, n.Version); err != nil {
				c.logger.Warn("Failed to flush interface", "error", err)
			}
		}
		return true
	default:
		c.logger.Warn("Unknown notification", "kind", n.Kind)
	}
	return false
}

// drain handles the notifications already queued, so a withdrawal is not
// undone by a success reported before it.
func (c *Controller) drain(ctx context.Context) bool {
	for {
		select {
		case n, ok := <-c.inbox:
			if !ok || c.handle(ctx, n) {
				return true
			}
		default:
			return false
		}
	}
}

// Withdraw flushes the configuration applied for version v and, with
// forget, deletes the persisted lease. Callers stop the machine and Sync it
// first; notifications it queued before that are handled before the flush.
func (c *Controller) Withdraw(ctx context.Context, v lease.IPVersion, forget bool) error {
	req := withdrawal{version: v, forget: forget, reply: make(chan error, 1)}

	select {
	case c.requests <- req:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) withdraw(ctx context.Context, req withdrawal) error {
	var errs []error
	if c.opts.Apply && c.netconf != nil {
		if err := c.netconf.Flush(c.opts.Interface, req.version); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", req.version, err))
		}
	}
	if req.forget && c.store != nil {
		if err := opdb.DeleteLease(ctx, c.store, req.version, c.opts.Interface); err != nil && !errors.Is(err, opdb.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete stored %s lease: %w", req.version, err))
		}
	}

	c.logger.Info("Lease withdrawn", "version", req.version, "forget", req.forget)
	return errors.Join(errs...)
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) LastOutcome() (lease.Outcome, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutcome, c.lastChange
}

func (c *Controller) preLease(n lease.Notification) {
	if c.opts.LinkUp && c.netconf != nil {
		if err := c.netconf.PrepareLink(c.opts.Interface); err != nil {
			c.logger.Error("Pre-lease action failed", "version", n.Version, "error", err)
		}
	}
	c.machine.PreLeaseActionComplete()
}

func (c *Controller) postLease(ctx context.Context, n lease.Notification) {
	c.mu.Lock()
	c.lastOutcome = n.Outcome
	c.lastChange = time.Now()
	c.mu.Unlock()

	switch n.Outcome {
	case lease.Success:
		c.logger.Info("Lease obtained", "version", n.Version, "result", n.Result)
		if c.opts.Apply && c.netconf != nil {
			if err := c.netconf.Apply(c.opts.Interface, n.Version, n.Result); err != nil {
				c.logger.Error("Failed to apply lease", "version", n.Version, "error", err)
			}
		}
		if c.store != nil {
			if err := opdb.PutLease(ctx, c.store, n.Version, c.opts.Interface, n.Result); err != nil {
				c.logger.Error("Failed to persist lease", "version", n.Version, "error", err)
			}
		}
	case lease.Failure:
		c.logger.Warn("Lease attempt failed", "version", n.Version)
		if c.opts.Apply && c.netconf != nil {
			if err := c.netconf.Flush(c.opts.Interface, n.Version); err != nil {
				c.logger.Warn("Failed to flush interface", "error", err)
			}
		}
	}

	if c.publisher != nil {
		c.publisher.Publish(events.TopicLeaseOutcome, events.Event{
			Source: c.opts.Interface,
			Data: OutcomeEvent{
				Interface: c.opts.Interface,
				Version:   n.Version,
				Outcome:   n.Outcome,
				Result:    n.Result,
			},
		})
	}
}
