package controller

import (
	"errors"
	"sync"

	"inet.af/netaddr"

	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/native/inproc"
)

var errNoLease = errors.New("no lease")

type fakeNetConf struct {
	mu       sync.Mutex
	prepared []string
	applied  map[string]*lease.Result
	flushed  []string
	versions map[string][]lease.IPVersion
	ns       map[string]string
	gate     chan struct{}
}

func newFakeNetConf() *fakeNetConf {
	return &fakeNetConf{
		applied:  make(map[string]*lease.Result),
		versions: make(map[string][]lease.IPVersion),
		ns:       make(map[string]string),
	}
}

func (f *fakeNetConf) PrepareLink(iface string) error {
	f.mu.Lock()
	f.prepared = append(f.prepared, iface)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return nil
}

// holdPrepare blocks PrepareLink until the returned func is called.
func (f *fakeNetConf) holdPrepare() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	return sync.OnceFunc(func() {
		f.mu.Lock()
		f.gate = nil
		f.mu.Unlock()
		close(gate)
	})
}

func (f *fakeNetConf) Apply(iface string, _ lease.IPVersion, res *lease.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied[iface] = res
	return nil
}

func (f *fakeNetConf) Flush(iface string, v lease.IPVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.applied, iface)
	f.flushed = append(f.flushed, iface)
	f.versions[iface] = append(f.versions[iface], v)
	return nil
}

func (f *fakeNetConf) flushedFor(iface string) []lease.IPVersion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lease.IPVersion(nil), f.versions[iface]...)
}

func (f *fakeNetConf) SetNamespace(iface, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ns[iface] = path
}

func (f *fakeNetConf) appliedTo(iface string) *lease.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[iface]
}

func (f *fakeNetConf) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushed)
}

func (f *fakeNetConf) prepareCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prepared)
}

type fakeMachine struct {
	mu        sync.Mutex
	completes int
}

func (f *fakeMachine) PreLeaseActionComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
}

func (f *fakeMachine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completes
}

// fakeNative hands out a lease for every interface it is started on.
type fakeNative struct {
	mu         sync.Mutex
	version    lease.IPVersion
	lease      int64
	fail       bool
	running    map[string]bool
	options    map[string]inproc.InterfaceOptions
	starts     map[string]int
	renews     map[string]int
	configured int
}

func newFakeNative(v lease.IPVersion) *fakeNative {
	return &fakeNative{
		version: v,
		lease:   3600,
		running: make(map[string]bool),
		options: make(map[string]inproc.InterfaceOptions),
		starts:  make(map[string]int),
		renews:  make(map[string]int),
	}
}

func (f *fakeNative) Configure(iface string, o inproc.InterfaceOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.options[iface] = o
	f.configured++
}

func (f *fakeNative) SetRequestedAddress(iface string, ip netaddr.IP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.options[iface]
	o.RequestedAddress = ip
	f.options[iface] = o
}

func (f *fakeNative) Stop(iface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, iface)
	return nil
}

func (f *fakeNative) Start(iface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[iface]++
	if f.fail {
		return errNoLease
	}
	f.running[iface] = true
	return nil
}

func (f *fakeNative) StartRenew(iface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews[iface]++
	if !f.running[iface] {
		return errNoLease
	}
	return nil
}

func (f *fakeNative) Result(iface string, _ bool) (*lease.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[iface] {
		return nil, errNoLease
	}
	addr := "192.0.2.10/24"
	gw := "192.0.2.1"
	if f.version == lease.IPv6 {
		addr = "2001:db8::10/128"
		gw = "fe80::1"
	}
	return &lease.Result{
		Address:       netaddr.MustParseIPPrefix(addr),
		Gateway:       netaddr.MustParseIP(gw),
		LeaseDuration: f.lease,
	}, nil
}

func (f *fakeNative) isRunning(iface string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[iface]
}

func (f *fakeNative) startCount(iface string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[iface]
}

func (f *fakeNative) renewCount(iface string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renews[iface]
}

func (f *fakeNative) optionsFor(iface string) inproc.InterfaceOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[iface]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(topic string, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.Type = topic
	p.events = append(p.events, e)
}

func (p *recordingPublisher) outcomes() []OutcomeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []OutcomeEvent
	for _, e := range p.events {
		if o, ok := e.Data.(OutcomeEvent); ok {
			out = append(out, o)
		}
	}
	return out
}
