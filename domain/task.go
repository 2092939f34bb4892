package domain

import (
	"strconv"
	"strings"
	"time"
)

// TaskID identifies a task row.
type TaskID int64

// ActorID identifies an administrator or user acting on a task.
type ActorID int64

// TaskType selects the milestone progression rules applied to a task.
type TaskType string

const (
	TaskTypeOrdinary TaskType = "ordinary"
	TaskTypeQuery    TaskType = "crm_query"
)

// ParseTaskType maps wire values onto a TaskType. The empty string yields an
// empty type so callers can fall back to the stored value.
func ParseTaskType(raw string) (TaskType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", true
	case "ordinary", "task", "normal":
		return TaskTypeOrdinary, true
	case "crm_query", "special-query", "query":
		return TaskTypeQuery, true
	default:
		return "", false
	}
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusOpen      TaskStatus = "Open"
	StatusUpdated   TaskStatus = "Updated"
	StatusCompleted TaskStatus = "Completed"
)

var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	StatusOpen: {
		StatusUpdated:   {},
		StatusCompleted: {},
	},
	StatusUpdated: {
		StatusOpen:      {},
		StatusCompleted: {},
	},
}

// CanTransition reports whether a task may move from one status to another.
// Re-entering the current status is always allowed except out of Completed.
func CanTransition(from, to TaskStatus) bool {
	if from == StatusCompleted {
		return false
	}
	if from == to {
		return true
	}
	_, ok := allowedTransitions[from][to]
	return ok
}

// Visibility controls whether a close request carries explicit milestones.
type Visibility string

// VisibilitySimple closes a task without per-milestone tracking. Any other
// value selects milestone mode.
const VisibilitySimple Visibility = "No"

// Task is the persisted state of a tracked unit of work.
type Task struct {
	ID               TaskID     `json:"id"`
	Type             TaskType   `json:"taskType"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	AssignedTo       ActorID    `json:"assignedTo"`
	AddedBy          ActorID    `json:"addedBy"`
	Followers        []ActorID  `json:"followers,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	Status           TaskStatus `json:"status"`
	Reopened         bool       `json:"reopened,omitempty"`
	Ongoing          bool       `json:"ongoing,omitempty"`
	OngoingBy        ActorID    `json:"ongoingBy,omitempty"`
	Sequence         Sequence   `json:"benchmarks"`
	Ledger           Ledger     `json:"completedBenchmarks"`
	LastCompletionAt *time.Time `json:"lastCompletionAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Clone returns a deep copy so callers can mutate a working copy safely.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Followers = append([]ActorID(nil), t.Followers...)
	c.Sequence = t.Sequence.Clone()
	c.Ledger = append(Ledger(nil), t.Ledger...)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.LastCompletionAt != nil {
		l := *t.LastCompletionAt
		c.LastCompletionAt = &l
	}
	return &c
}

// HasFollower reports whether id already follows the task.
func (t *Task) HasFollower(id ActorID) bool {
	for _, f := range t.Followers {
		if f == id {
			return true
		}
	}
	return false
}

// TaskUpdate carries partial updates applied by explicit status operations.
type TaskUpdate struct {
	Status     *TaskStatus
	Reopened   *bool
	Ongoing    *bool
	OngoingBy  *ActorID
	AssignedTo *ActorID
	Followers  []ActorID
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Status == nil && u.Reopened == nil && u.Ongoing == nil && u.OngoingBy == nil && u.AssignedTo == nil && u.Followers == nil
}

// Apply merges the update into t.
func (u TaskUpdate) Apply(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Reopened != nil {
		t.Reopened = *u.Reopened
	}
	if u.Ongoing != nil {
		t.Ongoing = *u.Ongoing
	}
	if u.OngoingBy != nil {
		t.OngoingBy = *u.OngoingBy
	}
	if u.AssignedTo != nil {
		t.AssignedTo = *u.AssignedTo
	}
	if u.Followers != nil {
		t.Followers = append([]ActorID(nil), u.Followers...)
	}
}

// FormatActors joins actor ids with commas.
func FormatActors(ids []ActorID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(int64(id), 10))
	}
	return strings.Join(parts, ",")
}

// ParseActors parses a comma separated actor list, skipping blanks.
func ParseActors(raw string) ([]ActorID, error) {
	var out []ActorID
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, ActorID(n))
	}
	return out, nil
}
