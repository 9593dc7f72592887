package bus

import "time"

// Event is a domain event published on the bus. Kind is dot-namespaced
// ("chat.message", "signal.offer", "directory.refreshed") so subscribers
// can filter by prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
