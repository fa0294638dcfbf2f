package inproc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"inet.af/netaddr"
)

type fakeClient struct {
	mu       sync.Mutex
	gate     chan struct{}
	result   *lease.Result
	err      error
	renewRes *lease.Result
	renewErr error
	released int
	closed   int
	requests int
}

func (f *fakeClient) Request(ctx context.Context) (*lease.Result, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.result, f.err
}

func (f *fakeClient) answer(res *lease.Result, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result, f.err = res, err
}

func (f *fakeClient) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeClient) Renew(context.Context) (*lease.Result, error) {
	return f.renewRes, f.renewErr
}

func (f *fakeClient) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeClient) counts() (released, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released, f.closed
}

func newTestDriver(c *fakeClient, opts Options) (*Driver, *InterfaceOptions) {
	var seen InterfaceOptions
	dial := func(iface string, io InterfaceOptions, o Options) (client, error) {
		seen = io
		return c, nil
	}
	return newDriver(lease.IPv4, opts, dial, "native.test"), &seen
}

func TestDriverStartAndResult(t *testing.T) {
	c := &fakeClient{result: &lease.Result{
		Address:       netaddr.MustParseIPPrefix("192.0.2.10/24"),
		LeaseDuration: 3600,
	}}
	d, _ := newTestDriver(c, Options{})

	require.NoError(t, d.Start("eth0"))

	res, err := d.Result("eth0", false)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10/24", res.Address.String())

	require.NoError(t, d.Stop("eth0"))
	released, closed := c.counts()
	require.Equal(t, 1, released)
	require.Equal(t, 1, closed)

	_, err = d.Result("eth0", false)
	require.ErrorIs(t, err, ErrNoLease)
}

func TestDriverStartFailure(t *testing.T) {
	c := &fakeClient{err: errors.New("no offer")}
	d, _ := newTestDriver(c, Options{})

	require.Error(t, d.Start("eth0"))

	_, err := d.Result("eth0", false)
	require.ErrorIs(t, err, ErrNoLease)

	require.NoError(t, d.Stop("eth0"))
	released, closed := c.counts()
	require.Zero(t, released)
	require.Equal(t, 1, closed)
}

func TestDriverStartTimeoutKeepsRequesting(t *testing.T) {
	c := &fakeClient{
		gate:   make(chan struct{}),
		result: &lease.Result{Address: netaddr.MustParseIPPrefix("192.0.2.10/24")},
	}
	d, _ := newTestDriver(c, Options{StartTimeout: 10 * time.Millisecond})

	err := d.Start("eth0")
	require.ErrorIs(t, err, ErrInProgress)

	_, err = d.Result("eth0", false)
	require.ErrorIs(t, err, ErrNoLease)
	require.ErrorIs(t, d.StartRenew("eth0"), ErrInProgress)

	close(c.gate)
	require.Eventually(t, func() bool {
		_, err := d.Result("eth0", false)
		return err == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, d.Close())
}

func TestDriverStopCancelsRequest(t *testing.T) {
	c := &fakeClient{gate: make(chan struct{})}
	d, _ := newTestDriver(c, Options{StartTimeout: 10 * time.Millisecond})

	require.ErrorIs(t, d.Start("eth0"), ErrInProgress)
	require.NoError(t, d.Stop("eth0"))

	_, closed := c.counts()
	require.Equal(t, 1, closed)
}

func TestDriverRenew(t *testing.T) {
	c := &fakeClient{
		result:   &lease.Result{Address: netaddr.MustParseIPPrefix("192.0.2.10/24"), LeaseDuration: 60},
		renewRes: &lease.Result{Address: netaddr.MustParseIPPrefix("192.0.2.10/24"), LeaseDuration: 120},
	}
	d, _ := newTestDriver(c, Options{})

	require.ErrorIs(t, d.StartRenew("eth0"), ErrNoLease)

	require.NoError(t, d.Start("eth0"))
	require.NoError(t, d.StartRenew("eth0"))

	res, err := d.Result("eth0", true)
	require.NoError(t, err)
	require.EqualValues(t, 120, res.LeaseDuration)

	c.renewErr = errors.New("nak")
	require.Error(t, d.StartRenew("eth0"))
	_, err = d.Result("eth0", true)
	require.ErrorIs(t, err, ErrNoLease)
}

func TestDriverStopIdle(t *testing.T) {
	d, _ := newTestDriver(&fakeClient{}, Options{})
	require.NoError(t, d.Stop("eth0"))
}

func TestDriverInterfaceOptions(t *testing.T) {
	c := &fakeClient{result: &lease.Result{}}
	d, seen := newTestDriver(c, Options{})

	d.Configure("eth0", InterfaceOptions{Namespace: "/run/netns/blue", Hostname: "cpe"})
	d.SetRequestedAddress("eth0", netaddr.MustParseIP("192.0.2.10"))

	require.NoError(t, d.Start("eth0"))
	require.Equal(t, "/run/netns/blue", seen.Namespace)
	require.Equal(t, "cpe", seen.Hostname)
	require.Equal(t, netaddr.MustParseIP("192.0.2.10"), seen.RequestedAddress)
}

func TestDriverKeepsRequestingUntilServerAnswers(t *testing.T) {
	c := &fakeClient{err: errors.New("no offer")}
	d, _ := newTestDriver(c, Options{RetryDelay: 2 * time.Millisecond, MaxRetryDelay: 5 * time.Millisecond})
	defer d.Close()

	require.Error(t, d.Start("eth0"))

	_, err := d.Result("eth0", false)
	require.ErrorIs(t, err, ErrNoLease)
	require.ErrorIs(t, d.StartRenew("eth0"), ErrInProgress)
	require.Eventually(t, func() bool { return c.requestCount() >= 3 }, time.Second, time.Millisecond)

	c.answer(&lease.Result{Address: netaddr.MustParseIPPrefix("192.0.2.10/24"), LeaseDuration: 600}, nil)

	require.Eventually(t, func() bool {
		_, err := d.Result("eth0", false)
		return err == nil
	}, time.Second, time.Millisecond)

	settled := c.requestCount()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, settled, c.requestCount())

	c.renewRes = &lease.Result{Address: netaddr.MustParseIPPrefix("192.0.2.10/24"), LeaseDuration: 600}
	require.NoError(t, d.StartRenew("eth0"))
}

func TestDriverStopEndsRetries(t *testing.T) {
	c := &fakeClient{err: errors.New("no offer")}
	d, _ := newTestDriver(c, Options{RetryDelay: time.Hour})

	require.Error(t, d.Start("eth0"))
	require.NoError(t, d.Stop("eth0"))
	require.Equal(t, 1, c.requestCount())

	released, closed := c.counts()
	require.Zero(t, released)
	require.Equal(t, 1, closed)
}
