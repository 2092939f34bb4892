package progression

import (
	"context"
	"time"

	"github.com/purushoth411/postmanback/domain"
)

// Tx exposes the task mutations available inside one store transaction.
// LoadTask returns nil without error when the task does not exist.
type Tx interface {
	LoadTask(ctx context.Context, id domain.TaskID) (*domain.Task, error)
	SetLastCompletion(ctx context.Context, id domain.TaskID, at time.Time) error
	OverwriteSequence(ctx context.Context, id domain.TaskID, seq domain.Sequence) error
	AppendCompletion(ctx context.Context, id domain.TaskID, c domain.Completion) error
	SetStatus(ctx context.Context, id domain.TaskID, status domain.TaskStatus) error
	UpdateTask(ctx context.Context, id domain.TaskID, upd domain.TaskUpdate) error
	// InsertRemark and InsertCompletionRow return the new row id, zero when
	// nothing was written.
	InsertRemark(ctx context.Context, r domain.Remark) (int64, error)
	InsertCompletionRow(ctx context.Context, row domain.CompletionRow) (int64, error)
	MergeCompletedSet(ctx context.Context, id domain.TaskID, ids []domain.MilestoneID) error
	AppendHistory(ctx context.Context, h domain.HistoryEntry) error
	InsertTask(ctx context.Context, t domain.Task) (domain.TaskID, error)
}

// Store is the persistent task store. RunInTransaction commits when fn
// returns nil and discards every write otherwise. Optimistic stores report a
// lost race as domain.ErrConcurrencyConflict.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error)
	Remarks(ctx context.Context, id domain.TaskID) ([]domain.Remark, error)
	History(ctx context.Context, id domain.TaskID) ([]domain.HistoryEntry, error)
	ListMilestones(ctx context.Context) ([]domain.Milestone, error)
	SaveMilestone(ctx context.Context, m domain.Milestone) error
}

// Catalog resolves milestone and actor reference data.
type Catalog interface {
	// LookupMilestone returns nil when no entry with that id and status exists.
	// An empty status matches any entry.
	LookupMilestone(ctx context.Context, id domain.MilestoneID, status domain.CatalogStatus) (*domain.Milestone, error)
	// FirstCompletion returns nil when the milestone has no completion row for the task.
	FirstCompletion(ctx context.Context, taskID domain.TaskID, id domain.MilestoneID) (*domain.CompletionRow, error)
	ActorName(ctx context.Context, id domain.ActorID) (string, error)
}

// Notifier receives events after a transaction commits. Implementations must
// not block.
type Notifier interface {
	Notify(ev domain.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(domain.Event) {}
