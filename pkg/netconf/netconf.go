// Package netconf applies lease results to kernel interfaces over netlink.
package netconf

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/logger"
)

type nlHandle interface {
	LinkByName(name string) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	AddrReplace(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
}

type key struct {
	iface   string
	version lease.IPVersion
}

type applied struct {
	addr  *netlink.Addr
	route *netlink.Route
}

// Applier keeps track of what it configured so that Flush only removes its
// own addresses and routes.
type Applier struct {
	logger    *slog.Logger
	newHandle func(namespace string) (nlHandle, func(), error)

	mu         sync.Mutex
	namespaces map[string]string
	handles    map[string]nlHandle
	closers    []func()
	applied    map[key]applied
}

func New() *Applier {
	return &Applier{
		logger:     logger.Get(logger.NetConf),
		newHandle:  openHandle,
		namespaces: make(map[string]string),
		handles:    make(map[string]nlHandle),
		applied:    make(map[key]applied),
	}
}

func openHandle(namespace string) (nlHandle, func(), error) {
	if namespace == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, nil, fmt.Errorf("create netlink handle: %w", err)
		}
		return h, h.Close, nil
	}

	ns, err := netns.GetFromPath(namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("get netns %q: %w", namespace, err)
	}

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, nil, fmt.Errorf("create netlink handle for netns %q: %w", namespace, err)
	}

	return h, func() {
		h.Close()
		ns.Close()
	}, nil
}

// SetNamespace places iface in the network namespace at path.
func (a *Applier) SetNamespace(iface, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.namespaces[iface] = path
}

func (a *Applier) handle(iface string) (nlHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ns := a.namespaces[iface]
	if h, ok := a.handles[ns]; ok {
		return h, nil
	}

	h, closer, err := a.newHandle(ns)
	if err != nil {
		return nil, err
	}
	a.handles[ns] = h
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return h, nil
}

func (a *Applier) link(iface string) (nlHandle, netlink.Link, error) {
	h, err := a.handle(iface)
	if err != nil {
		return nil, nil, err
	}
	link, err := h.LinkByName(iface)
	if err != nil {
		return nil, nil, fmt.Errorf("get link %s: %w", iface, err)
	}
	return h, link, nil
}

// PrepareLink brings the link up before a lease is requested.
func (a *Applier) PrepareLink(iface string) error {
	h, link, err := a.link(iface)
	if err != nil {
		return err
	}
	if err := h.LinkSetUp(link); err != nil {
		return fmt.Errorf("set link %s up: %w", iface, err)
	}
	a.logger.Debug("Link up", "interface", iface)
	return nil
}

// Apply installs the leased address and a default route through the gateway,
// replacing what a previous Apply installed for the same interface and version.
func (a *Applier) Apply(iface string, v lease.IPVersion, res *lease.Result) error {
	if res == nil || res.Address.IsZero() {
		return fmt.Errorf("apply %s on %s: no address in result", v, iface)
	}

	h, link, err := a.link(iface)
	if err != nil {
		return err
	}

	k := key{iface: iface, version: v}
	a.mu.Lock()
	prev := a.applied[k]
	a.mu.Unlock()

	addr := &netlink.Addr{IPNet: res.Address.IPNet()}
	if prev.addr != nil && !prev.addr.Equal(*addr) {
		if err := h.AddrDel(link, prev.addr); err != nil {
			a.logger.Warn("Failed to remove previous address", "interface", iface, "address", prev.addr, "error", err)
		}
	}
	if err := h.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("set address %s on %s: %w", res.Address, iface, err)
	}

	var route *netlink.Route
	if !res.Gateway.IsZero() {
		route = &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Gw:        res.Gateway.IPAddr().IP,
		}
		if err := h.RouteReplace(route); err != nil {
			return fmt.Errorf("set default route via %s on %s: %w", res.Gateway, iface, err)
		}
	}

	if v == lease.IPv4 && res.MTU >= 576 && res.MTU != link.Attrs().MTU {
		if err := h.LinkSetMTU(link, res.MTU); err != nil {
			a.logger.Warn("Failed to set MTU", "interface", iface, "mtu", res.MTU, "error", err)
		}
	}

	a.mu.Lock()
	a.applied[k] = applied{addr: addr, route: route}
	a.mu.Unlock()

	a.logger.Info("Lease applied", "interface", iface, "version", v, "address", res.Address, "gateway", res.Gateway)
	return nil
}

// Flush removes what Apply installed. Flushing an interface with nothing
// applied is a no-op.
func (a *Applier) Flush(iface string, v lease.IPVersion) error {
	k := key{iface: iface, version: v}

	a.mu.Lock()
	prev, ok := a.applied[k]
	delete(a.applied, k)
	a.mu.Unlock()

	if !ok {
		return nil
	}

	h, link, err := a.link(iface)
	if err != nil {
		return err
	}

	var errs []error
	if prev.route != nil {
		if err := h.RouteDel(prev.route); err != nil {
			errs = append(errs, fmt.Errorf("delete route: %w", err))
		}
	}
	if prev.addr != nil {
		if err := h.AddrDel(link, prev.addr); err != nil {
			errs = append(errs, fmt.Errorf("delete address: %w", err))
		}
	}

	a.logger.Info("Lease flushed", "interface", iface, "version", v)
	return errors.Join(errs...)
}

// Applied returns the address installed on iface for v, if any.
func (a *Applier) Applied(iface string, v lease.IPVersion) (*net.IPNet, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev, ok := a.applied[key{iface: iface, version: v}]
	if !ok || prev.addr == nil {
		return nil, false
	}
	return prev.addr.IPNet, true
}

func (a *Applier) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
	a.handles = make(map[string]nlHandle)
	return nil
}
