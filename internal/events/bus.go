// Package events is an in-process publish/subscribe bus. The
// coordinator, assistant and voice loop publish task and conversation
// events; the websocket handler, MQTT bridge and console renderer
// subscribe. Publishing never blocks and a nil *Bus is a no-op, so
// components accept an optional bus without guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceCoordinator = "coordinator"
	SourceAssistant   = "assistant"
	SourceVoice       = "voice"
	SourceMQTT        = "mqtt"
)

// Kinds.
const (
	// KindStatus signals an idle/busy transition.
	// Data: status, running (list of task kinds).
	KindStatus = "status"
	// KindTaskStart signals a background task began running.
	// Data: task_id, task_kind.
	KindTaskStart = "task_start"
	// KindTaskDone signals a background task finished.
	// Data: task_id, task_kind, state, elapsed_ms, error.
	KindTaskDone = "task_done"
	// KindTaskRejected signals a submission refused because a task of
	// the same kind is running. Data: task_kind.
	KindTaskRejected = "task_rejected"

	// KindTurn signals a user utterance was accepted.
	// Data: turn_id, channel, text.
	KindTurn = "turn"
	// KindReply signals a reply was produced for a turn.
	// Data: turn_id, channel, reply, source, handled, terminate.
	KindReply = "reply"
	// KindOpenURL signals a site-open intent. Data: url.
	KindOpenURL = "open_url"
	// KindOnboarded signals the session captured the user's name.
	// Data: user_name.
	KindOnboarded = "onboarded"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to buffered subscriber channels. Slow
// subscribers miss events rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with buffer space.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit stamps and publishes an event.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with the given buffer size. The
// caller must call Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
