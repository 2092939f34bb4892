package domain

import "time"

// CatalogStatus marks whether a catalog milestone is in use.
type CatalogStatus string

const (
	CatalogActive   CatalogStatus = "Active"
	CatalogInactive CatalogStatus = "Inactive"
)

// CompletionCompleted is the status written on every completion row.
const CompletionCompleted = "Completed"

// Milestone is a benchmark catalog entry.
type Milestone struct {
	ID     MilestoneID   `json:"id" yaml:"id"`
	Name   string        `json:"name" yaml:"name"`
	Weight float64       `json:"weight" yaml:"weight"`
	Status CatalogStatus `json:"status" yaml:"status"`
}

// CompletionRow is one weighted completion record. Several rows may exist for
// the same task and milestone.
type CompletionRow struct {
	ID          int64       `json:"id"`
	TaskID      TaskID      `json:"taskId"`
	MilestoneID MilestoneID `json:"milestoneId"`
	ClosedBy    ActorID     `json:"closedBy"`
	Role        string      `json:"role,omitempty"`
	Weight      float64     `json:"weight"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Remark is the free text note written with every close.
type Remark struct {
	ID         int64         `json:"id"`
	TaskID     TaskID        `json:"taskId"`
	AddedBy    ActorID       `json:"addedBy"`
	Role       string        `json:"role,omitempty"`
	Text       *string       `json:"remarks"`
	Milestones []MilestoneID `json:"milestones,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// HistoryEntry is one line of the task audit trail.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	TaskID    TaskID    `json:"taskId"`
	ActorID   ActorID   `json:"actorId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// MilestoneProgress is one row of the task milestone view.
type MilestoneProgress struct {
	ID            MilestoneID `json:"id"`
	Name          string      `json:"name"`
	Weight        float64     `json:"weight"`
	Completed     bool        `json:"completed"`
	CompletedBy   ActorID     `json:"completedBy,omitempty"`
	CompletedName string      `json:"completedByName,omitempty"`
}
