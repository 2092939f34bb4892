package domain

import "encoding/json"

const (
	TaskMilestonesClosed = "task-milestones-closed"
	TaskCreated          = "task-created"
	TaskStatusChanged    = "task-status-changed"
	TaskTransferred      = "task-transferred"
)

// Event announces a committed change to a task.
type Event struct {
	ID      string          `json:"Id"`
	TaskID  TaskID          `json:"TaskId"`
	Type    string          `json:"Type"`
	ActorID ActorID         `json:"ActorId"`
	Data    json.RawMessage `json:"Data,omitempty"`
	Time    int64           `json:"Time"`
}

type MilestonesClosedEventData struct {
	Milestones []MilestoneID `json:"milestones"`
	Sequence   Sequence      `json:"sequence"`
	Status     TaskStatus    `json:"status"`
}

type StatusChangedEventData struct {
	Status   TaskStatus `json:"status"`
	Ongoing  bool       `json:"ongoing"`
	Reopened bool       `json:"reopened"`
}

type TransferredEventData struct {
	AssignedTo ActorID `json:"assignedTo"`
}

type CreatedEventData struct {
	Title      string   `json:"title"`
	AssignedTo ActorID  `json:"assignedTo"`
	Sequence   Sequence `json:"sequence"`
}
