package events

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type Publisher interface {
	Publish(topic string, event Event)
}

type Subscriber interface {
	Subscribe(topic string, handler Handler) Subscription
	SubscribeAll(handler Handler) Subscription
}

type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
}

type Stats struct {
	Topics       []TopicStats `json:"topics"`
	PublishChLen int          `json:"publish-channel-length"`
	PublishChCap int          `json:"publish-channel-capacity"`
	Published    uint64       `json:"published"`
	Dropped      uint64       `json:"dropped"`
	Panics       uint64       `json:"panics"`
	DebugTopics  []string     `json:"debug-topics,omitempty"`
}

// Bus fans events out to topic subscribers. Delivery is asynchronous and
// unordered across handlers.
type Bus interface {
	Publisher
	Subscriber
	Stats() Stats
	SetDebugTopics(topics []string)
	Close() error
}
