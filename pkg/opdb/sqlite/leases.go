package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"inet.af/netaddr"

	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/opdb"
)

var _ opdb.LeaseStore = (*Store)(nil)

const leaseColumns = `address, gateway, server, dns_servers, domains, mtu, vendor_info, lease_duration`

func leaseVersion(namespace string) (lease.IPVersion, bool) {
	switch namespace {
	case opdb.NamespaceDHCPv4Leases:
		return lease.IPv4, true
	case opdb.NamespaceDHCPv6Leases:
		return lease.IPv6, true
	}
	return 0, false
}

func (s *Store) PutLease(ctx context.Context, v lease.IPVersion, iface string, res *lease.Result) error {
	if res == nil {
		return fmt.Errorf("store %s lease for %s: nil result", v, iface)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (version, iface, `+leaseColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(version, iface) DO UPDATE SET
			address = excluded.address,
			gateway = excluded.gateway,
			server = excluded.server,
			dns_servers = excluded.dns_servers,
			domains = excluded.domains,
			mtu = excluded.mtu,
			vendor_info = excluded.vendor_info,
			lease_duration = excluded.lease_duration,
			updated_at = excluded.updated_at
	`, int(v), iface,
		prefixText(res.Address),
		ipText(res.Gateway),
		ipText(res.ServerAddress),
		joinIPs(res.DNSServers),
		strings.Join(res.Domains, ","),
		res.MTU,
		res.VendorInfo,
		res.LeaseDuration,
	)
	if err != nil {
		return fmt.Errorf("store %s lease for %s: %w", v, iface, err)
	}
	return nil
}

func (s *Store) GetLease(ctx context.Context, v lease.IPVersion, iface string) (*lease.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases WHERE version = ? AND iface = ?
	`, int(v), iface)
	res, err := scanLease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opdb.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s lease for %s: %w", v, iface, err)
	}
	return res, nil
}

func (s *Store) DeleteLease(ctx context.Context, v lease.IPVersion, iface string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM leases WHERE version = ? AND iface = ?
	`, int(v), iface)
	return err
}

// LoadLeases returns the stored leases of v keyed by interface. Rows whose
// addresses no longer parse are skipped.
func (s *Store) LoadLeases(ctx context.Context, v lease.IPVersion) (map[string]*lease.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iface, `+leaseColumns+` FROM leases WHERE version = ? ORDER BY iface
	`, int(v))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*lease.Result)
	for rows.Next() {
		var iface string
		res, err := scanLease(rows, &iface)
		if errors.Is(err, errBadColumn) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[iface] = res
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var errBadColumn = errors.New("unparseable lease column")

type scanner interface {
	Scan(dest ...any) error
}

func scanLease(sc scanner, lead ...any) (*lease.Result, error) {
	var (
		address, gateway, server, dns, domains string
		res                                    lease.Result
	)
	dest := append(lead, &address, &gateway, &server, &dns, &domains,
		&res.MTU, &res.VendorInfo, &res.LeaseDuration)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if res.Address, err = netaddr.ParseIPPrefix(address); err != nil {
		return nil, fmt.Errorf("%w: address %q", errBadColumn, address)
	}
	if res.Gateway, err = parseIP(gateway); err != nil {
		return nil, fmt.Errorf("%w: gateway %q", errBadColumn, gateway)
	}
	if res.ServerAddress, err = parseIP(server); err != nil {
		return nil, fmt.Errorf("%w: server %q", errBadColumn, server)
	}
	if dns != "" {
		for _, f := range strings.Split(dns, ",") {
			ip, err := netaddr.ParseIP(f)
			if err != nil {
				return nil, fmt.Errorf("%w: dns server %q", errBadColumn, f)
			}
			res.DNSServers = append(res.DNSServers, ip)
		}
	}
	if domains != "" {
		res.Domains = strings.Split(domains, ",")
	}
	if len(res.VendorInfo) == 0 {
		res.VendorInfo = nil
	}
	return &res, nil
}

func prefixText(p netaddr.IPPrefix) string {
	if p.IsZero() {
		return ""
	}
	return p.String()
}

func ipText(ip netaddr.IP) string {
	if ip.IsZero() {
		return ""
	}
	return ip.String()
}

func parseIP(s string) (netaddr.IP, error) {
	if s == "" {
		return netaddr.IP{}, nil
	}
	return netaddr.ParseIP(s)
}

func joinIPs(ips []netaddr.IP) string {
	parts := make([]string, 0, len(ips))
	for _, ip := range ips {
		parts = append(parts, ip.String())
	}
	return strings.Join(parts, ",")
}
