package event

import "time"

// Type identifies the kind of event carried on a subscription stream.
// The values are part of the wire contract and must not change.
type Type string

const (
	TypeResourceCreated Type = "resource.created"
	TypeResourceUpdated Type = "resource.updated"
	TypeResourceDeleted Type = "resource.deleted"
	TypePing            Type = "ping"
)

// Resource is the wire snapshot of a resource, carried whole by
// created/updated events and echoed in request/response payloads.
type Resource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Body      string `json:"body,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Event is one frame on a subscription stream. Events are values: once
// constructed they are never mutated, so the bus may copy one into any
// number of subscriber queues concurrently.
type Event struct {
	Type Type `json:"type"`

	// ResourceID is set for every resource.* event. Deleted events carry
	// only the identifier; created/updated also carry the full snapshot.
	ResourceID string    `json:"id,omitempty"`
	Resource   *Resource `json:"resource,omitempty"`

	// Timestamp is set for ping frames only, in epoch milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

func ResourceCreated(r Resource) Event {
	return Event{Type: TypeResourceCreated, ResourceID: r.ID, Resource: &r}
}

func ResourceUpdated(r Resource) Event {
	return Event{Type: TypeResourceUpdated, ResourceID: r.ID, Resource: &r}
}

func ResourceDeleted(id string) Event {
	return Event{Type: TypeResourceDeleted, ResourceID: id}
}

// Ping builds a keep-alive frame. Pings exist solely to stop idle
// connections from being closed by intermediaries; they carry no business
// meaning and are filtered out before application-level observers.
func Ping(now time.Time) Event {
	return Event{Type: TypePing, Timestamp: now.UnixMilli()}
}

// IsPing reports whether the event is a keep-alive frame.
func (e Event) IsPing() bool {
	return e.Type == TypePing
}
