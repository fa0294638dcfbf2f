package lease

import (
	"fmt"
	"strings"

	"inet.af/netaddr"
)

// InfiniteLease is the LeaseDuration of a lease that never expires.
const InfiniteLease int64 = -1

// Result is the configuration obtained from a successful lease acquisition
// or renewal. Treat it as immutable; use Clone before modifying.
type Result struct {
	Address       netaddr.IPPrefix `json:"address"`
	Gateway       netaddr.IP       `json:"gateway"`
	DNSServers    []netaddr.IP     `json:"dns_servers,omitempty"`
	Domains       []string         `json:"domains,omitempty"`
	ServerAddress netaddr.IP       `json:"server_address"`
	MTU           int              `json:"mtu,omitempty"`
	VendorInfo    []byte           `json:"vendor_info,omitempty"`
	// Seconds; negative means infinite.
	LeaseDuration int64 `json:"lease_duration"`
}

func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.DNSServers != nil {
		c.DNSServers = append([]netaddr.IP(nil), r.DNSServers...)
	}
	if r.Domains != nil {
		c.Domains = append([]string(nil), r.Domains...)
	}
	if r.VendorInfo != nil {
		c.VendorInfo = append([]byte(nil), r.VendorInfo...)
	}
	return &c
}

func (r *Result) Infinite() bool {
	return r.LeaseDuration < 0
}

// FillForward returns a copy of r in which every field left unset is taken
// from prev. Set fields in r always win. A nil prev returns a plain copy.
// LeaseDuration always comes from r.
func (r *Result) FillForward(prev *Result) *Result {
	merged := r.Clone()
	if prev == nil {
		return merged
	}

	if merged.Address.IsZero() {
		merged.Address = prev.Address
	}
	if merged.Gateway.IsZero() {
		merged.Gateway = prev.Gateway
	}
	if len(merged.DNSServers) == 0 && len(prev.DNSServers) > 0 {
		merged.DNSServers = append([]netaddr.IP(nil), prev.DNSServers...)
	}
	if len(merged.Domains) == 0 && len(prev.Domains) > 0 {
		merged.Domains = append([]string(nil), prev.Domains...)
	}
	if merged.ServerAddress.IsZero() {
		merged.ServerAddress = prev.ServerAddress
	}
	if merged.MTU == 0 {
		merged.MTU = prev.MTU
	}
	if len(merged.VendorInfo) == 0 && len(prev.VendorInfo) > 0 {
		merged.VendorInfo = append([]byte(nil), prev.VendorInfo...)
	}

	return merged
}

func (r *Result) String() string {
	if r == nil {
		return "<nil>"
	}

	dns := make([]string, 0, len(r.DNSServers))
	for _, ip := range r.DNSServers {
		dns = append(dns, ip.String())
	}

	duration := fmt.Sprintf("%ds", r.LeaseDuration)
	if r.Infinite() {
		duration = "infinite"
	}

	return fmt.Sprintf("address=%s gateway=%s dns=[%s] domains=[%s] server=%s mtu=%d lease=%s",
		r.Address, r.Gateway, strings.Join(dns, ","), strings.Join(r.Domains, ","),
		r.ServerAddress, r.MTU, duration)
}
