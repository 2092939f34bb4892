package api

import (
	"context"

	"github.com/purushoth411/postmanback/domain"
	"github.com/purushoth411/postmanback/progression"
)

// Service is the task engine used by the handlers.
type Service interface {
	CloseTask(ctx context.Context, req progression.CloseRequest) (progression.Result, error)
	CreateTask(ctx context.Context, in progression.NewTask) (domain.TaskID, error)
	Task(ctx context.Context, id domain.TaskID) (*domain.Task, error)
	Milestones(ctx context.Context, id domain.TaskID) ([]domain.MilestoneProgress, error)
	Remarks(ctx context.Context, id domain.TaskID) ([]domain.Remark, error)
	History(ctx context.Context, id domain.TaskID) ([]domain.HistoryEntry, error)
	MarkOngoing(ctx context.Context, id domain.TaskID, actor domain.ActorID) (*domain.Task, error)
	MarkCompleted(ctx context.Context, id domain.TaskID, actor domain.ActorID) (*domain.Task, error)
	Reopen(ctx context.Context, id domain.TaskID, actor domain.ActorID) (*domain.Task, error)
	Transfer(ctx context.Context, id domain.TaskID, assignee, actor domain.ActorID) (*domain.Task, error)
	ListMilestones(ctx context.Context) ([]domain.Milestone, error)
	SaveMilestone(ctx context.Context, m domain.Milestone) error
}

// Authenticator resolves the caller from an Authorization header.
type Authenticator interface {
	Identify(header string) (Identity, error)
}

// Deduper rejects replayed close requests.
type Deduper interface {
	// Add records the key and returns true when it was not seen before.
	Add(ctx context.Context, actor domain.ActorID, key string) (bool, error)
	// Remove deletes a recorded key after the request failed.
	Remove(ctx context.Context, actor domain.ActorID, key string) error
}

var _ Service = (*progression.Engine)(nil)
