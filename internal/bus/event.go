package bus

import (
	"time"

	"github.com/victorbrgs/omnibox/internal/model"
)

// Topic addresses one stream of events.
type Topic string

// ConnectionTopic scopes a topic to one connection.
func ConnectionTopic(connectionID string) Topic {
	return Topic("connection:" + connectionID)
}

// OrgTopic scopes a topic to one organization.
func OrgTopic(organizationID string) Topic {
	return Topic("org:" + organizationID)
}

// SessionTopic scopes a topic to one conversation session.
func SessionTopic(sessionID string) Topic {
	return Topic("session:" + sessionID)
}

// Event is one frame on the bus. Name mirrors the canonical event kind so
// stream consumers can dispatch without unpacking the payload.
type Event struct {
	Topic     Topic
	Name      string
	Timestamp time.Time
	Payload   *model.CanonicalEvent
}

// FromCanonical builds the bus frame for a canonical event on one topic.
func FromCanonical(topic Topic, evt *model.CanonicalEvent) Event {
	return Event{
		Topic:     topic,
		Name:      string(evt.Kind),
		Timestamp: time.Now(),
		Payload:   evt,
	}
}
