package kafka

import (
	"encoding/json"
	"time"
)

// Activity event types emitted to the activity topic.
const (
	EventRoomOpened      = "room.opened"
	EventRoomClosed      = "room.closed"
	EventPeerJoined      = "peer.joined"
	EventPeerLeft        = "peer.left"
	EventDocumentCleared = "document.cleared"
)

// ActivityEvent is the message published for each room lifecycle event.
type ActivityEvent struct {
	Type      string    `json:"type"`
	Community string    `json:"community"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	PeerCount int       `json:"peer_count"`
	Timestamp time.Time `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// ToJSON serializes the event for publishing
func (e *ActivityEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ParseActivityEvent parses a raw Kafka message into an ActivityEvent
func ParseActivityEvent(data []byte) (*ActivityEvent, error) {
	var event ActivityEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
