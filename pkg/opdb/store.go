package opdb

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("opdb: key not found")

type Store interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	Load(ctx context.Context, namespace string, fn LoadFunc) error
	Clear(ctx context.Context, namespace string) error
	Close() error
}

type LoadFunc func(key string, value []byte) error

const (
	NamespaceDHCPv4Leases = "dhcpv4_leases"
	NamespaceDHCPv6Leases = "dhcpv6_leases"
)
