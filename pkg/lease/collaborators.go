package lease

import (
	"time"

	"github.com/veesix-networks/osvlease/pkg/events"
)

// Native drives the DHCP client for one IP version. Every call is
// synchronous and bounded by the client implementation.
type Native interface {
	Stop(iface string) error
	Start(iface string) error
	StartRenew(iface string) error
	Result(iface string, renew bool) (*Result, error)
}

// Alarm identifies a renewal wake-up. Only one alarm per key is outstanding.
type Alarm struct {
	Topic     string
	Interface string
}

// AlarmScheduler schedules exact wake-ups on the elapsed-since-boot clock.
type AlarmScheduler interface {
	Elapsed() time.Duration
	SetExact(triggerAt time.Duration, alarm Alarm)
	Cancel(alarm Alarm)
}

// RenewalAlarm is the payload published when a renewal alarm fires.
type RenewalAlarm struct {
	Interface string
	Version   IPVersion
}

// WakeLock keeps the system awake while a renewal is in flight. It is not
// reference counted: one Release undoes any number of Acquire calls.
type WakeLock interface {
	Acquire(timeout time.Duration)
	Release()
}

// Broadcaster delivers renewal-alarm events.
type Broadcaster interface {
	Subscribe(topic string, handler events.Handler) events.Subscription
}

// Publisher receives state change events. Optional.
type Publisher interface {
	Publish(topic string, event events.Event)
}

// Timer is a cancellable pending self-message.
type Timer interface {
	Stop() bool
}

// Scheduler delivers delayed self-messages.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RenewalTopic is the bus topic carrying renewal alarms for an IP version.
func RenewalTopic(v IPVersion) string {
	if v == IPv6 {
		return events.TopicDHCPv6RenewAlarm
	}
	return events.TopicDHCPRenewAlarm
}
