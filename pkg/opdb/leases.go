package opdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veesix-networks/osvlease/pkg/lease"
)

// LeaseNamespace returns the namespace holding leases of an IP version.
func LeaseNamespace(v lease.IPVersion) string {
	if v == lease.IPv6 {
		return NamespaceDHCPv6Leases
	}
	return NamespaceDHCPv4Leases
}

// LeaseStore is implemented by stores that keep leases as typed records
// instead of encoded blobs. The helpers below prefer it when available.
type LeaseStore interface {
	PutLease(ctx context.Context, v lease.IPVersion, iface string, res *lease.Result) error
	GetLease(ctx context.Context, v lease.IPVersion, iface string) (*lease.Result, error)
	DeleteLease(ctx context.Context, v lease.IPVersion, iface string) error
	LoadLeases(ctx context.Context, v lease.IPVersion) (map[string]*lease.Result, error)
}

func PutLease(ctx context.Context, s Store, v lease.IPVersion, iface string, res *lease.Result) error {
	if ls, ok := s.(LeaseStore); ok {
		return ls.PutLease(ctx, v, iface, res)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal %s lease for %s: %w", v, iface, err)
	}
	return s.Put(ctx, LeaseNamespace(v), iface, data)
}

func GetLease(ctx context.Context, s Store, v lease.IPVersion, iface string) (*lease.Result, error) {
	if ls, ok := s.(LeaseStore); ok {
		return ls.GetLease(ctx, v, iface)
	}
	data, err := s.Get(ctx, LeaseNamespace(v), iface)
	if err != nil {
		return nil, err
	}
	var res lease.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal %s lease for %s: %w", v, iface, err)
	}
	return &res, nil
}

func DeleteLease(ctx context.Context, s Store, v lease.IPVersion, iface string) error {
	if ls, ok := s.(LeaseStore); ok {
		return ls.DeleteLease(ctx, v, iface)
	}
	return s.Delete(ctx, LeaseNamespace(v), iface)
}

// LoadLeases returns every stored lease of an IP version keyed by interface.
// Undecodable entries are skipped.
func LoadLeases(ctx context.Context, s Store, v lease.IPVersion) (map[string]*lease.Result, error) {
	if ls, ok := s.(LeaseStore); ok {
		return ls.LoadLeases(ctx, v)
	}
	out := make(map[string]*lease.Result)
	err := s.Load(ctx, LeaseNamespace(v), func(key string, value []byte) error {
		var res lease.Result
		if err := json.Unmarshal(value, &res); err != nil {
			return nil
		}
		out[key] = &res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
