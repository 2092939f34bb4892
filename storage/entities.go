package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/purushoth411/postmanback/domain"
)

const (
	edmInt64    = "Edm.Int64"
	edmDateTime = "Edm.DateTime"

	taskRowKey          = "task"
	remarkRowPrefix     = "remark-"
	completionRowPrefix = "completion-"
	historyRowPrefix    = "history-"

	milestonePartition = "milestone"
	counterPartition   = "counter"
	taskCounterRowKey  = "task"
)

func taskPartition(id domain.TaskID) string { return fmt.Sprintf("%019d", int64(id)) }

func rowKey(prefix string, n int64) string { return fmt.Sprintf("%s%019d", prefix, n) }

// prefixFilter matches every row of a partition whose RowKey starts with prefix.
func prefixFilter(pk, prefix string) string {
	upper := prefix[:len(prefix)-1] + string(prefix[len(prefix)-1]+1)
	return fmt.Sprintf("PartitionKey eq '%s' and RowKey ge '%s' and RowKey lt '%s'", pk, prefix, upper)
}

type taskEntity struct {
	aztables.Entity
	TaskType             string     `json:"TaskType"`
	Title                string     `json:"Title"`
	Description          string     `json:"Description,omitempty"`
	AssignedTo           int64      `json:"AssignedTo,string"`
	AssignedToType       string     `json:"AssignedTo@odata.type"`
	AddedBy              int64      `json:"AddedBy,string"`
	AddedByType          string     `json:"AddedBy@odata.type"`
	Followers            string     `json:"Followers"`
	DueDate              *time.Time `json:"DueDate,omitempty"`
	Status               string     `json:"Status"`
	Reopened             bool       `json:"Reopened"`
	Ongoing              bool       `json:"Ongoing"`
	OngoingBy            int64      `json:"OngoingBy,string"`
	OngoingByType        string     `json:"OngoingBy@odata.type"`
	Benchmarks           string     `json:"Benchmarks"`
	CompletedBenchmarks  string     `json:"CompletedBenchmarks"`
	LastCompletionAt     *time.Time `json:"LastCompletionAt,omitempty"`
	LastCompletionAtType string     `json:"LastCompletionAt@odata.type,omitempty"`
	CreatedAt            time.Time  `json:"CreatedAt"`
	CreatedAtType        string     `json:"CreatedAt@odata.type"`
	NextRowID            int64      `json:"NextRowID,string"`
	NextRowIDType        string     `json:"NextRowID@odata.type"`
}

func newTaskEntity(t *domain.Task, nextRowID int64) taskEntity {
	ent := taskEntity{
		Entity:              aztables.Entity{PartitionKey: taskPartition(t.ID), RowKey: taskRowKey},
		TaskType:            string(t.Type),
		Title:               t.Title,
		Description:         t.Description,
		AssignedTo:          int64(t.AssignedTo),
		AssignedToType:      edmInt64,
		AddedBy:             int64(t.AddedBy),
		AddedByType:         edmInt64,
		Followers:           domain.FormatActors(t.Followers),
		DueDate:             t.DueDate,
		Status:              string(t.Status),
		Reopened:            t.Reopened,
		Ongoing:             t.Ongoing,
		OngoingBy:           int64(t.OngoingBy),
		OngoingByType:       edmInt64,
		Benchmarks:          t.Sequence.String(),
		CompletedBenchmarks: t.Ledger.String(),
		LastCompletionAt:    t.LastCompletionAt,
		CreatedAt:           t.CreatedAt.UTC(),
		CreatedAtType:       edmDateTime,
		NextRowID:           nextRowID,
		NextRowIDType:       edmInt64,
	}
	if t.LastCompletionAt != nil {
		ent.LastCompletionAtType = edmDateTime
	}
	return ent
}

func (e taskEntity) toDomain() (*domain.Task, error) {
	id, err := strconv.ParseInt(e.PartitionKey, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("task partition %q: %w", e.PartitionKey, err)
	}
	seq, err := domain.ParseSequence(e.Benchmarks)
	if err != nil {
		return nil, err
	}
	ledger, err := domain.ParseLedger(e.CompletedBenchmarks)
	if err != nil {
		return nil, err
	}
	followers, err := domain.ParseActors(e.Followers)
	if err != nil {
		return nil, err
	}
	return &domain.Task{
		ID:               domain.TaskID(id),
		Type:             domain.TaskType(e.TaskType),
		Title:            e.Title,
		Description:      e.Description,
		AssignedTo:       domain.ActorID(e.AssignedTo),
		AddedBy:          domain.ActorID(e.AddedBy),
		Followers:        followers,
		DueDate:          e.DueDate,
		Status:           domain.TaskStatus(e.Status),
		Reopened:         e.Reopened,
		Ongoing:          e.Ongoing,
		OngoingBy:        domain.ActorID(e.OngoingBy),
		Sequence:         seq,
		Ledger:           ledger,
		LastCompletionAt: e.LastCompletionAt,
		CreatedAt:        e.CreatedAt,
	}, nil
}

type remarkEntity struct {
	aztables.Entity
	AddedBy     int64     `json:"AddedBy,string"`
	AddedByType string    `json:"AddedBy@odata.type"`
	Role        string    `json:"Role,omitempty"`
	Remark      *string   `json:"Remark,omitempty"`
	Milestones  string    `json:"Milestones,omitempty"`
	CreatedAt   time.Time `json:"CreatedAt"`
	CreatedType string    `json:"CreatedAt@odata.type"`
}

type completionEntity struct {
	aztables.Entity
	MilestoneID  int64     `json:"MilestoneID"`
	ClosedBy     int64     `json:"ClosedBy,string"`
	ClosedByType string    `json:"ClosedBy@odata.type"`
	Role         string    `json:"Role,omitempty"`
	Weight       float64   `json:"Weight"`
	Status       string    `json:"Status"`
	CreatedAt    time.Time `json:"CreatedAt"`
	CreatedType  string    `json:"CreatedAt@odata.type"`
}

type historyEntity struct {
	aztables.Entity
	ActorID     int64     `json:"ActorID,string"`
	ActorIDType string    `json:"ActorID@odata.type"`
	Message     string    `json:"Message"`
	CreatedAt   time.Time `json:"CreatedAt"`
	CreatedType string    `json:"CreatedAt@odata.type"`
}

type milestoneEntity struct {
	aztables.Entity
	Name   string  `json:"Name"`
	Weight float64 `json:"Weight"`
	Status string  `json:"Status"`
}

type adminEntity struct {
	aztables.Entity
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
}

type counterEntity struct {
	aztables.Entity
	Value     int64  `json:"Value,string"`
	ValueType string `json:"Value@odata.type"`
}

// rowSeq extracts the numeric suffix of a row key.
func rowSeq(rk, prefix string) int64 {
	n, _ := strconv.ParseInt(strings.TrimPrefix(rk, prefix), 10, 64)
	return n
}

func formatMilestones(ids []domain.MilestoneID) string {
	if ids == nil {
		return ""
	}
	return domain.Sequence(ids).String()
}
