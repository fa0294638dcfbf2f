package inproc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/nclient6"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"inet.af/netaddr"
)

type v6Client struct {
	c    *nclient6.Client
	mods []dhcpv6.Modifier
	hint netaddr.IP

	mu    sync.Mutex
	reply *dhcpv6.Message
}

func dialV6(iface string, io InterfaceOptions, o Options) (client, error) {
	var c *nclient6.Client
	err := inNamespace(io.Namespace, func() error {
		var err error
		c, err = nclient6.New(iface,
			nclient6.WithTimeout(o.RequestTimeout),
			nclient6.WithRetry(o.Retries),
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	mods := []dhcpv6.Modifier{
		dhcpv6.WithRequestedOptions(dhcpv6.OptionDNSRecursiveNameServer, dhcpv6.OptionDomainSearchList),
	}
	if io.Hostname != "" {
		mods = append(mods, dhcpv6.WithFQDN(0, io.Hostname))
	}

	return &v6Client{c: c, mods: mods, hint: io.RequestedAddress}, nil
}

func (v *v6Client) exchange(ctx context.Context, hint netaddr.IP) (*lease.Result, error) {
	mods := v.mods
	if hint.Is6() {
		mods = append(append([]dhcpv6.Modifier(nil), mods...),
			dhcpv6.WithIANA(dhcpv6.OptIAAddress{IPv6Addr: hint.IPAddr().IP}))
	}

	adv, err := v.c.Solicit(ctx, mods...)
	if err != nil {
		return nil, fmt.Errorf("solicit: %w", err)
	}
	reply, err := v.c.Request(ctx, adv, mods...)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	res, err := replyToResult(reply)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.reply = reply
	v.mu.Unlock()

	return res, nil
}

func (v *v6Client) Request(ctx context.Context) (*lease.Result, error) {
	return v.exchange(ctx, v.hint)
}

// Renew repeats the four message exchange asking for the address currently
// held.
func (v *v6Client) Renew(ctx context.Context) (*lease.Result, error) {
	v.mu.Lock()
	current := v.reply
	v.mu.Unlock()

	if current == nil {
		return nil, ErrNoLease
	}

	res, err := replyToResult(current)
	if err != nil {
		return nil, err
	}
	return v.exchange(ctx, res.Address.IP())
}

// Release only forgets the reply; the server lets the binding expire.
func (v *v6Client) Release() error {
	v.mu.Lock()
	v.reply = nil
	v.mu.Unlock()
	return nil
}

func (v *v6Client) Close() error {
	return v.c.Close()
}

func replyToResult(msg *dhcpv6.Message) (*lease.Result, error) {
	if msg == nil {
		return nil, fmt.Errorf("empty reply: %w", ErrNoLease)
	}

	iana := msg.Options.OneIANA()
	if iana == nil {
		return nil, fmt.Errorf("reply without IA_NA: %w", ErrNoLease)
	}
	addrs := iana.Options.Addresses()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("reply without address: %w", ErrNoLease)
	}

	ip, ok := netaddr.FromStdIP(addrs[0].IPv6Addr)
	if !ok {
		return nil, fmt.Errorf("invalid address %v: %w", addrs[0].IPv6Addr, ErrNoLease)
	}

	res := &lease.Result{
		Address:       netaddr.IPPrefixFrom(ip, 128),
		DNSServers:    stdIPs(msg.Options.DNS()),
		LeaseDuration: lifetimeSeconds(addrs[0].ValidLifetime),
	}
	if search := msg.Options.DomainSearchList(); search != nil {
		res.Domains = append(res.Domains, search.Labels...)
	}

	return res, nil
}

func lifetimeSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs >= math.MaxUint32 {
		return lease.InfiniteLease
	}
	return secs
}
