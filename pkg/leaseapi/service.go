// Package leaseapi describes the osvlease.v1.LeaseService control API. The
// service uses well-known protobuf types only, so the descriptor is declared
// here instead of being generated.
package leaseapi

import (
	"errors"

	"github.com/veesix-networks/osvlease/pkg/lease"
)

const ServiceName = "osvlease.v1.LeaseService"

var (
	ErrUnknownInterface = errors.New("unknown interface")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Service is implemented by the daemon's lease manager.
type Service interface {
	List() []lease.Status
	Get(iface string) (lease.Status, error)
	Start(iface string) error
	Stop(iface string) error
	Renew(iface string) error
	SetVersion(iface string, v lease.IPVersion) error
}

// InterfaceStatus is the wire form of lease.Status.
type InterfaceStatus struct {
	Interface            string        `json:"interface"`
	Version              string        `json:"version"`
	State                string        `json:"state"`
	PreLeaseNotification bool          `json:"pre_lease_notification"`
	Result               *lease.Result `json:"result,omitempty"`
}

func FromStatus(s lease.Status) InterfaceStatus {
	return InterfaceStatus{
		Interface:            s.Interface,
		Version:              s.Version.String(),
		State:                s.State.String(),
		PreLeaseNotification: s.PreLeaseNotification,
		Result:               s.Result,
	}
}
