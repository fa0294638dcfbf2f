package local

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/logger"
)

const defaultQueueSize = 4096

type publishRequest struct {
	topic string
	event events.Event
}

type subscription struct {
	id      uint64
	handler events.Handler
}

type topicSubs struct {
	subs      map[uint64]*subscription
	delivered atomic.Uint64
}

type sub struct {
	bus   *Bus
	topic string
	id    uint64
	once  sync.Once
}

func (s *sub) Unsubscribe() {
	s.once.Do(func() { s.bus.removeSub(s.topic, s.id) })
}

type globalSub struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

func (s *globalSub) Unsubscribe() {
	s.once.Do(func() { s.bus.removeGlobalSub(s.id) })
}

type Bus struct {
	ctx         context.Context
	cancel      context.CancelFunc
	topics      map[string]*topicSubs
	globalSubs  map[uint64]*subscription
	mu          sync.RWMutex
	nextID      atomic.Uint64
	publishCh   chan publishRequest
	logger      *slog.Logger
	published   atomic.Uint64
	dropped     atomic.Uint64
	panics      atomic.Uint64
	debugTopics map[string]bool
	debugSub    events.Subscription
	wg          sync.WaitGroup
}

func NewBus() *Bus {
	return NewBusWithQueue(defaultQueueSize)
}

func NewBusWithQueue(size int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		ctx:        ctx,
		cancel:     cancel,
		topics:     make(map[string]*topicSubs),
		globalSubs: make(map[uint64]*subscription),
		publishCh:  make(chan publishRequest, size),
		logger:     logger.Get(logger.Events),
	}

	b.wg.Add(1)
	go b.publishLoop()

	return b
}

func (b *Bus) Publish(topic string, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	select {
	case <-b.ctx.Done():
		b.dropped.Add(1)
		return
	default:
	}

	select {
	case b.publishCh <- publishRequest{topic: topic, event: event}:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("Publish channel full, dropping event", "topic", topic)
	}
}

func (b *Bus) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.publishCh:
			b.mu.RLock()
			ts := b.topics[req.topic]
			handlers := make([]events.Handler, 0, len(b.globalSubs)+4)
			if ts != nil {
				for _, s := range ts.subs {
					handlers = append(handlers, s.handler)
				}
				ts.delivered.Add(uint64(len(ts.subs)))
			}
			for _, s := range b.globalSubs {
				handlers = append(handlers, s.handler)
			}
			b.mu.RUnlock()

			for _, h := range handlers {
				go b.deliver(h, req.event)
			}
		}
	}
}

func (b *Bus) deliver(h events.Handler, e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("Event handler panicked", "topic", e.Type, "panic", r)
		}
	}()
	h(e)
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	ts := b.topics[topic]
	if ts == nil {
		ts = &topicSubs{subs: make(map[uint64]*subscription)}
		b.topics[topic] = ts
	}
	ts.subs[id] = &subscription{id: id, handler: handler}
	count := len(ts.subs)
	b.mu.Unlock()

	b.logger.Debug("Subscribed to topic", "topic", topic, "handler_count", count)

	return &sub{bus: b, topic: topic, id: id}
}

func (b *Bus) SubscribeAll(handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.globalSubs[id] = &subscription{id: id, handler: handler}
	count := len(b.globalSubs)
	b.mu.Unlock()

	b.logger.Debug("Subscribed to all topics", "global_subscriber_count", count)

	return &globalSub{bus: b, id: id}
}

func (b *Bus) removeSub(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ts, ok := b.topics[topic]; ok {
		delete(ts.subs, id)
		if len(ts.subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

func (b *Bus) removeGlobalSub(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.globalSubs, id)
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]events.TopicStats, 0, len(b.topics))
	for topic, ts := range b.topics {
		topics = append(topics, events.TopicStats{
			Topic:       topic,
			Subscribers: len(ts.subs),
			Delivered:   ts.delivered.Load(),
		})
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })

	var debugTopics []string
	for t := range b.debugTopics {
		debugTopics = append(debugTopics, t)
	}
	sort.Strings(debugTopics)

	return events.Stats{
		Topics:       topics,
		PublishChLen: len(b.publishCh),
		PublishChCap: cap(b.publishCh),
		Published:    b.published.Load(),
		Dropped:      b.dropped.Load(),
		Panics:       b.panics.Load(),
		DebugTopics:  debugTopics,
	}
}

// SetDebugTopics logs every event published on the given topics. An empty
// list turns debug logging off.
func (b *Bus) SetDebugTopics(topics []string) {
	b.mu.Lock()

	if len(topics) == 0 {
		b.debugTopics = nil
		oldSub := b.debugSub
		b.debugSub = nil
		b.mu.Unlock()
		if oldSub != nil {
			oldSub.Unsubscribe()
		}
		return
	}

	b.debugTopics = make(map[string]bool, len(topics))
	for _, t := range topics {
		b.debugTopics[t] = true
	}

	needSub := b.debugSub == nil
	b.mu.Unlock()

	if needSub {
		s := b.SubscribeAll(func(e events.Event) {
			b.mu.RLock()
			match := b.debugTopics[e.Type]
			b.mu.RUnlock()
			if match {
				b.logger.Info("Event", "topic", e.Type, "source", e.Source, "data", e.Data)
			}
		})
		b.mu.Lock()
		b.debugSub = s
		b.mu.Unlock()
	}

	b.logger.Info("Event debug logging enabled", "topics", topics)
}

func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
