package identity

import "sync"

// EventType names a session change.
type EventType string

const (
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
	EventUserUpdated      EventType = "USER_UPDATED"
)

// SessionEvent is delivered to subscribers after the provider confirms a change.
// UserID may be empty when the subject could not be resolved.
type SessionEvent struct {
	Type   EventType
	UserID string
}

// Notifier fans session events out to subscribers. Delivery is synchronous
// and in subscription order.
type Notifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(SessionEvent)
	order  []int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(SessionEvent))}
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn func(SessionEvent)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.order = append(n.order, id)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (n *Notifier) Publish(ev SessionEvent) {
	n.mu.RLock()
	fns := make([]func(SessionEvent), 0, len(n.order))
	for _, id := range n.order {
		fns = append(fns, n.subs[id])
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
