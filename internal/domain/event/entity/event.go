package entity

import (
	"sort"
	"time"
)

// ActorType identifies who produced an event
type ActorType string

const (
	ActorTypeAgent   ActorType = "agent"
	ActorTypeContact ActorType = "contact"
	ActorTypeSystem  ActorType = "system"
)

// Status is the lifecycle tag of an outbound message event
type Status string

const (
	StatusSending   Status = "sending"
	StatusAccepted  Status = "accepted"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further status transition is expected
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsValidStatus checks if a status is one the client knows about
func IsValidStatus(s Status) bool {
	switch s {
	case StatusSending, StatusAccepted, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// EventTypeMessage is the event type carrying a message payload
const EventTypeMessage = "message"

// Event is a single unit of conversation history
type Event struct {
	ID             string
	WorkspaceID    string
	ConversationID string
	Type           string
	ActorID        string
	ActorType      ActorType
	Status         Status
	StatusReason   string
	Body           Body
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShowsStatus reports whether the view renders a delivery status for this event.
// Only outbound agent messages carry one.
func (e Event) ShowsStatus() bool {
	return e.ActorType == ActorTypeAgent && e.Status != ""
}

// HasInvalidBody reports whether the body arrived but could not be decoded
func (e Event) HasInvalidBody() bool {
	b, ok := e.Body.(UnknownBody)
	return ok && b.Invalid
}

// WithStatus returns a copy of the event with the given status
func (e Event) WithStatus(status Status, reason string) Event {
	e.Status = status
	e.StatusReason = reason
	return e
}

// SortByCreatedAt orders events ascending by CreatedAt. Ties keep arrival order.
func SortByCreatedAt(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

// IsSortedByCreatedAt reports whether events are non-decreasing in CreatedAt
func IsSortedByCreatedAt(events []Event) bool {
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.Before(events[i-1].CreatedAt) {
			return false
		}
	}
	return true
}

// IndexByID returns the position of the event with the given id, or -1
func IndexByID(events []Event, id string) int {
	for i := range events {
		if events[i].ID == id {
			return i
		}
	}
	return -1
}
