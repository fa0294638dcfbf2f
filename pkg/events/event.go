package events

import "time"

type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	// Interface name or component that produced the event.
	Source string
	Data   any
}
