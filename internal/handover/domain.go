// Package handover models temporary delegation of a manager's ticket
// visibility to a backup manager. Delegation is logical: ticket rows are
// never reassigned, visibility is computed at read time from active rows.
package handover

import (
	"time"

	"github.com/google/uuid"
)

// Status is the handover lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// transitions lists the legal next states per state. Completed, Cancelled
// and Rejected are terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusRejected},
	StatusActive:  {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Handover is one delegation of ticket visibility from a manager to a
// backup manager.
type Handover struct {
	ID          uuid.UUID  `json:"id"`
	ManagerID   int64      `json:"managerId"`
	BackupID    int64      `json:"backupId"`
	Status      Status     `json:"status"`
	Reason      string     `json:"reason"`
	RequestedBy int64      `json:"requestedBy"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	AcceptedBy  *int64     `json:"acceptedBy,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
