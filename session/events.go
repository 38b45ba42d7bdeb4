package session

import (
	"github.com/jrsteele09/go-console-session/users"
)

// EventType identifies a session change
type EventType int

const (
	EventLoggedIn EventType = iota + 1
	EventLoggedOut
	EventUserUpdated
	// EventSessionExpired is the logout-redirect signal: the session was
	// cleared because it could not be renewed.
	EventSessionExpired
)

func (t EventType) String() string {
	switch t {
	case EventLoggedIn:
		return "logged_in"
	case EventLoggedOut:
		return "logged_out"
	case EventUserUpdated:
		return "user_updated"
	case EventSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. User is set for EventLoggedIn and
// EventUserUpdated.
type Event struct {
	Type EventType
	User *users.User
}

const subscriberBuffer = 16

// Subscribe returns a channel of session events and a function that ends the
// subscription and closes the channel. A subscriber that falls more than a
// few events behind misses events rather than blocking the session.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.subsMu.Unlock()

	cancel := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (m *Manager) publish(evt Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- evt:
		default:
			m.logger.Warn().Int("subscriber", id).Str("event", evt.Type.String()).Msg("Session subscriber is not keeping up, dropping event")
		}
	}
}
