package inproc

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"inet.af/netaddr"
)

const vendorClass = "osvlease"

type v4Client struct {
	c    *nclient4.Client
	mods []dhcpv4.Modifier
	hint netaddr.IP

	mu    sync.Mutex
	lease *nclient4.Lease
}

func dialV4(iface string, io InterfaceOptions, o Options) (client, error) {
	var c *nclient4.Client
	err := inNamespace(io.Namespace, func() error {
		var err error
		c, err = nclient4.New(iface,
			nclient4.WithTimeout(o.RequestTimeout),
			nclient4.WithRetry(o.Retries),
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &v4Client{c: c, mods: v4Modifiers(io), hint: io.RequestedAddress}, nil
}

// v4Modifiers returns the options sent with every discover and request.
func v4Modifiers(io InterfaceOptions) []dhcpv4.Modifier {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithOption(dhcpv4.OptClassIdentifier(vendorClass)),
		dhcpv4.WithRequestedOptions(dhcpv4.OptionInterfaceMTU, dhcpv4.OptionDNSDomainSearchList),
	}
	if io.Hostname != "" {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptHostName(io.Hostname)))
	}
	return mods
}

func (v *v4Client) Request(ctx context.Context) (*lease.Result, error) {
	mods := v.mods
	if v.hint.Is4() {
		mods = append(append([]dhcpv4.Modifier(nil), mods...),
			dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(v.hint.IPAddr().IP)))
	}

	l, err := v.c.Request(ctx, mods...)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.lease = l
	v.mu.Unlock()

	return ackToResult(l.ACK)
}

func (v *v4Client) Renew(ctx context.Context) (*lease.Result, error) {
	v.mu.Lock()
	current := v.lease
	v.mu.Unlock()

	if current == nil {
		return nil, ErrNoLease
	}

	l, err := v.c.Renew(ctx, current, v.mods...)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.lease = l
	v.mu.Unlock()

	return ackToResult(l.ACK)
}

func (v *v4Client) Release() error {
	v.mu.Lock()
	current := v.lease
	v.lease = nil
	v.mu.Unlock()

	if current == nil {
		return nil
	}
	return v.c.Release(current)
}

func (v *v4Client) Close() error {
	return v.c.Close()
}

// ackToResult converts a DHCPACK. A lease time of 0xffffffff is infinite.
func ackToResult(ack *dhcpv4.DHCPv4) (*lease.Result, error) {
	if ack == nil {
		return nil, fmt.Errorf("empty ack: %w", ErrNoLease)
	}

	ip, ok := netaddr.FromStdIP(ack.YourIPAddr)
	if !ok || ip.IsUnspecified() {
		return nil, fmt.Errorf("ack without address: %w", ErrNoLease)
	}

	bits := 32
	if mask := ack.SubnetMask(); mask != nil {
		if ones, size := mask.Size(); size == 32 {
			bits = ones
		}
	}

	res := &lease.Result{
		Address:       netaddr.IPPrefixFrom(ip, uint8(bits)),
		DNSServers:    stdIPs(ack.DNS()),
		LeaseDuration: lease.InfiniteLease,
	}

	if routers := ack.Router(); len(routers) > 0 {
		res.Gateway, _ = netaddr.FromStdIP(routers[0])
	}
	if server := ack.ServerIdentifier(); server != nil {
		res.ServerAddress, _ = netaddr.FromStdIP(server)
	}

	if name := ack.DomainName(); name != "" {
		res.Domains = append(res.Domains, name)
	}
	if search := ack.DomainSearch(); search != nil {
		res.Domains = append(res.Domains, search.Labels...)
	}

	if b := ack.Options.Get(dhcpv4.OptionIPAddressLeaseTime); len(b) == 4 {
		if secs := binary.BigEndian.Uint32(b); secs != 0xffffffff {
			res.LeaseDuration = int64(secs)
		}
	}
	if b := ack.Options.Get(dhcpv4.OptionInterfaceMTU); len(b) == 2 {
		res.MTU = int(binary.BigEndian.Uint16(b))
	}
	if b := ack.Options.Get(dhcpv4.OptionVendorSpecificInformation); len(b) > 0 {
		res.VendorInfo = append([]byte(nil), b...)
	}

	return res, nil
}

func stdIPs(ips []net.IP) []netaddr.IP {
	if len(ips) == 0 {
		return nil
	}
	out := make([]netaddr.IP, 0, len(ips))
	for _, std := range ips {
		if ip, ok := netaddr.FromStdIP(std); ok {
			out = append(out, ip)
		}
	}
	return out
}
