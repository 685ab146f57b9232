package model

import "time"

// BlackboardMessage is a swarm-scoped typed message. Payload is an opaque
// bag the caller defines the shape of; the coordinator never interprets it
// beyond the fields needed for trigger filtering.
type BlackboardMessage struct {
	ID           string
	SwarmID      string
	SenderHandle string
	MessageType  string
	TargetHandle string // empty = broadcast
	Priority     Priority
	Payload      map[string]any
	ReadBy       map[string]struct{}
	CreatedAt    time.Time
	ArchivedAt   *time.Time
}

// HasRead reports whether handle has already read m.
func (m *BlackboardMessage) HasRead(handle string) bool {
	_, ok := m.ReadBy[handle]
	return ok
}

// IsArchived reports whether m has been archived.
func (m *BlackboardMessage) IsArchived() bool {
	return m.ArchivedAt != nil
}

// MailMessage is a point-to-point message between worker handles.
type MailMessage struct {
	ID        string
	From      string
	To        string
	Subject   string
	Body      string
	ReadAt    *time.Time
	CreatedAt time.Time
}

// IsRead reports whether the message has been marked read.
func (m *MailMessage) IsRead() bool {
	return m.ReadAt != nil
}

// HandoffStatus is the lifecycle status of a Handoff.
type HandoffStatus string

const (
	HandoffPending  HandoffStatus = "pending"
	HandoffAccepted HandoffStatus = "accepted"
	HandoffRejected HandoffStatus = "rejected"
)

// Handoff is a structured context transfer between two workers, requiring
// acceptance by the recipient.
type Handoff struct {
	ID         string
	From       string
	To         string
	Context    map[string]any
	Checkpoint *Checkpoint
	Status     HandoffStatus
	Outcome    string
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

// Checkpoint is an append-only session continuation record.
type Checkpoint struct {
	ID              string
	WorkerHandle    string
	Goal            string
	Now             string
	Test            string
	DoneThisSession []string
	Blockers        []string
	Questions       []string
	Next            []string
	CreatedAt       time.Time
}
