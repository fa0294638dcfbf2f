package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"inet.af/netaddr"

	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/opdb"
)

type controllerHarness struct {
	ctrl    *Controller
	inbox   chan lease.Notification
	machine *fakeMachine
	netconf *fakeNetConf
	store   *opdb.MemoryStore
	pub     *recordingPublisher
}

func newControllerHarness(t *testing.T, opts Options) *controllerHarness {
	t.Helper()

	h := &controllerHarness{
		inbox:   make(chan lease.Notification, notificationBuffer),
		machine: &fakeMachine{},
		netconf: newFakeNetConf(),
		store:   opdb.NewMemoryStore(),
		pub:     &recordingPublisher{},
	}
	opts.Interface = "eth0"
	h.ctrl = New(opts, h.machine, h.inbox, h.netconf, h.store, h.pub)

	go h.ctrl.Run(context.Background())
	t.Cleanup(func() {
		select {
		case <-h.ctrl.Done():
		default:
			h.inbox <- lease.Notification{Kind: lease.OnQuit, Interface: "eth0", Version: lease.IPv4}
			<-h.ctrl.Done()
		}
	})
	return h
}

func (h *controllerHarness) quit(t *testing.T) {
	t.Helper()
	h.inbox <- lease.Notification{Kind: lease.OnQuit, Interface: "eth0", Version: lease.IPv4}
	select {
	case <-h.ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func successNotification() lease.Notification {
	return lease.Notification{
		Kind:      lease.PostLeaseAction,
		Outcome:   lease.Success,
		Interface: "eth0",
		Version:   lease.IPv4,
		Result: &lease.Result{
			Address:       netaddr.MustParseIPPrefix("192.0.2.10/24"),
			Gateway:       netaddr.MustParseIP("192.0.2.1"),
			LeaseDuration: 3600,
		},
	}
}

func TestControllerPreLeaseCompletesAction(t *testing.T) {
	h := newControllerHarness(t, Options{LinkUp: true})

	h.inbox <- lease.Notification{Kind: lease.PreLeaseAction, Interface: "eth0", Version: lease.IPv4}

	require.Eventually(t, func() bool { return h.machine.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.netconf.prepareCount())
}

func TestControllerPreLeaseWithoutLinkUp(t *testing.T) {
	h := newControllerHarness(t, Options{})

	h.inbox <- lease.Notification{Kind: lease.PreLeaseAction, Interface: "eth0", Version: lease.IPv4}

	require.Eventually(t, func() bool { return h.machine.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, h.netconf.prepareCount())
}

func TestControllerSuccessAppliesAndPersists(t *testing.T) {
	h := newControllerHarness(t, Options{Apply: true})

	h.inbox <- successNotification()
	h.quit(t)

	applied := h.netconf.appliedTo("eth0")
	require.Nil(t, applied, "quit flushes the applied lease")
	require.Equal(t, 1, h.netconf.flushCount())

	stored, err := opdb.GetLease(context.Background(), h.store, lease.IPv4, "eth0")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10/24", stored.Address.String())

	outcomes := h.pub.outcomes()
	require.Len(t, outcomes, 1)
	require.Equal(t, lease.Success, outcomes[0].Outcome)

	o, at := h.ctrl.LastOutcome()
	require.Equal(t, lease.Success, o)
	require.False(t, at.IsZero())
}

func TestControllerSuccessWithoutApply(t *testing.T) {
	h := newControllerHarness(t, Options{})

	h.inbox <- successNotification()
	h.quit(t)

	require.Nil(t, h.netconf.appliedTo("eth0"))
	require.Zero(t, h.netconf.flushCount())

	_, err := opdb.GetLease(context.Background(), h.store, lease.IPv4, "eth0")
	require.NoError(t, err)
}

func TestControllerFailureFlushes(t *testing.T) {
	h := newControllerHarness(t, Options{Apply: true})

	h.inbox <- successNotification()
	h.inbox <- lease.Notification{Kind: lease.PostLeaseAction, Outcome: lease.Failure, Interface: "eth0", Version: lease.IPv4}

	require.Eventually(t, func() bool { return h.netconf.flushCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Nil(t, h.netconf.appliedTo("eth0"))

	require.Eventually(t, func() bool { return len(h.pub.outcomes()) == 2 }, time.Second, 5*time.Millisecond)
	outcomes := h.pub.outcomes()
	require.Equal(t, lease.Failure, outcomes[1].Outcome)
	require.Nil(t, outcomes[1].Result)
}

func TestControllerWithdrawHandlesQueuedSuccessFirst(t *testing.T) {
	h := newControllerHarness(t, Options{Apply: true})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		h.inbox <- successNotification()
		require.NoError(t, h.ctrl.Withdraw(ctx, lease.IPv4, true))

		require.Nil(t, h.netconf.appliedTo("eth0"), "round %d", i)
		_, err := opdb.GetLease(ctx, h.store, lease.IPv4, "eth0")
		require.ErrorIs(t, err, opdb.ErrNotFound, "round %d", i)
	}
}

func TestControllerWithdrawKeepsStoredLease(t *testing.T) {
	h := newControllerHarness(t, Options{Apply: true})
	ctx := context.Background()

	h.inbox <- successNotification()
	require.NoError(t, h.ctrl.Withdraw(ctx, lease.IPv4, false))

	require.Nil(t, h.netconf.appliedTo("eth0"))
	require.Equal(t, []lease.IPVersion{lease.IPv4}, h.netconf.flushedFor("eth0"))
	_, err := opdb.GetLease(ctx, h.store, lease.IPv4, "eth0")
	require.NoError(t, err)
}

func TestControllerWithdrawAfterQuit(t *testing.T) {
	h := newControllerHarness(t, Options{Apply: true})
	h.quit(t)

	require.NoError(t, h.ctrl.Withdraw(context.Background(), lease.IPv4, true))
}
