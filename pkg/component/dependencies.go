package component

import (
	"github.com/veesix-networks/osvlease/pkg/config"
	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/leaseapi"
	"github.com/veesix-networks/osvlease/pkg/wakelock"
)

type Dependencies struct {
	EventBus  events.Bus
	Config    *config.Config
	Leases    leaseapi.Service
	WakeLocks *wakelock.Set
}
