package component

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	log []string
}

type fakeComponent struct {
	*Base
	rec      *recorder
	startErr error
	stopErr  error
}

func newFake(name string, rec *recorder) *fakeComponent {
	return &fakeComponent{Base: NewBase(name), rec: rec}
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.StartContext(ctx)
	f.rec.log = append(f.rec.log, "start "+f.Name())
	return f.startErr
}

func (f *fakeComponent) Stop(context.Context) error {
	f.rec.log = append(f.rec.log, "stop "+f.Name())
	f.StopContext()
	return f.stopErr
}

func TestOrchestratorStartStopOrder(t *testing.T) {
	rec := &recorder{}
	o := NewOrchestrator()
	o.Register(newFake("a", rec))
	o.Register(newFake("b", rec))
	o.Register(newFake("c", rec))

	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Stop(context.Background()))

	require.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, rec.log)
}

func TestOrchestratorRollsBackOnStartFailure(t *testing.T) {
	rec := &recorder{}
	failing := newFake("b", rec)
	failing.startErr = errors.New("boom")

	o := NewOrchestrator()
	o.Register(newFake("a", rec))
	o.Register(failing)
	o.Register(newFake("c", rec))

	err := o.Start(context.Background())
	require.ErrorContains(t, err, "failed to start b")

	require.Equal(t, []string{"start a", "start b", "stop a"}, rec.log)

	require.NoError(t, o.Stop(context.Background()))
	require.Len(t, rec.log, 3)
}

func TestOrchestratorJoinsStopErrors(t *testing.T) {
	rec := &recorder{}
	a := newFake("a", rec)
	a.stopErr = errors.New("a broke")
	b := newFake("b", rec)
	b.stopErr = errors.New("b broke")

	o := NewOrchestrator()
	o.Register(a)
	o.Register(b)
	require.NoError(t, o.Start(context.Background()))

	err := o.Stop(context.Background())
	require.ErrorContains(t, err, "a broke")
	require.ErrorContains(t, err, "b broke")
}

func TestBaseGoWaitsOnStop(t *testing.T) {
	b := NewBase("worker")
	b.StartContext(context.Background())

	done := false
	b.Go(func() {
		<-b.Ctx.Done()
		done = true
	})

	b.StopContext()
	require.True(t, done)
}

func TestRegistryLoadAllSkipsDisabled(t *testing.T) {
	rec := &recorder{}
	Register("test.enabled", func(Dependencies) (Component, error) { return newFake("test.enabled", rec), nil })
	Register("test.disabled", func(Dependencies) (Component, error) { return nil, nil })

	require.Panics(t, func() {
		Register("test.enabled", func(Dependencies) (Component, error) { return nil, nil })
	})

	comps, err := LoadAll(Dependencies{})
	require.NoError(t, err)

	var names []string
	for _, c := range comps {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "test.enabled")
	require.NotContains(t, names, "test.disabled")
	require.Contains(t, List(), "test.disabled")
}
