package progression

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/purushoth411/postmanback/domain"
)

// NewTask is the input for CreateTask.
type NewTask struct {
	Type        domain.TaskType
	Title       string
	Description string
	AssignedTo  domain.ActorID
	AddedBy     domain.ActorID
	Followers   []domain.ActorID
	DueDate     *time.Time
	Sequence    domain.Sequence
}

// CreateTask stores a new Open task and returns its id.
func (e *Engine) CreateTask(ctx context.Context, in NewTask) (domain.TaskID, error) {
	if strings.TrimSpace(in.Title) == "" || in.AddedBy <= 0 || in.AssignedTo <= 0 {
		return 0, fmt.Errorf("%w: title, creator and assignee are required", domain.ErrInvalidRequest)
	}
	if in.Type == "" {
		in.Type = domain.TaskTypeOrdinary
	}
	creator, err := e.catalog.ActorName(ctx, in.AddedBy)
	if err != nil {
		return 0, err
	}
	assignee, err := e.catalog.ActorName(ctx, in.AssignedTo)
	if err != nil {
		return 0, err
	}
	now := e.now()
	task := domain.Task{
		Type:        in.Type,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		AssignedTo:  in.AssignedTo,
		AddedBy:     in.AddedBy,
		Followers:   in.Followers,
		DueDate:     in.DueDate,
		Status:      domain.StatusOpen,
		Sequence:    in.Sequence.Clone(),
		CreatedAt:   now,
	}
	var id domain.TaskID
	err = e.transact(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		id, err = tx.InsertTask(ctx, task)
		if err != nil {
			return err
		}
		return tx.AppendHistory(ctx, domain.HistoryEntry{
			TaskID:    id,
			ActorID:   in.AddedBy,
			Message:   fmt.Sprintf("%s created the Task and assigned to %s", creator, assignee),
			CreatedAt: now,
		})
	})
	if err != nil {
		return 0, err
	}
	e.log.WithFields(log.Fields{"task": id, "type": task.Type, "assignee": in.AssignedTo}).Info("task created")
	e.emit(id, in.AddedBy, domain.TaskCreated, domain.CreatedEventData{
		Title:      task.Title,
		AssignedTo: task.AssignedTo,
		Sequence:   task.Sequence,
	})
	return id, nil
}

// MarkOngoing flags the task as being worked on by actor.
func (e *Engine) MarkOngoing(ctx context.Context, id domain.TaskID, actor domain.ActorID) (*domain.Task, error) {
	return e.update(ctx, id, actor, domain.TaskStatusChanged, "%s marked the task as Ongoing.", func(t *domain.Task) (domain.TaskUpdate, error) {
		ongoing := true
		return domain.TaskUpdate{Ongoing: &ongoing, OngoingBy: &actor}, nil
	})
}

// MarkCompleted moves the task to Completed.
func (e *Engine) MarkCompleted(ctx context.Context, id domain.TaskID, actor domain.ActorID) (*domain.Task, error) {
	return e.update(ctx, id, actor, domain.TaskStatusChanged, "%s marked the task as Completed.", func(t *domain.Task) (domain.TaskUpdate, error) {
		if !domain.CanTransition(t.Status, domain.StatusCompleted) {
			return domain.TaskUpdate{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, t.Status, domain.StatusCompleted)
		}
		st := domain.StatusCompleted
		return domain.TaskUpdate{Status: &st}, nil
	})
}

// Reopen returns an Updated task to Open.
func (e *Engine) Reopen(ctx context.Context, id domain.TaskID, actor domain.ActorID) (*domain.Task, error) {
	return e.update(ctx, id, actor, domain.TaskStatusChanged, "%s reopened the task.", func(t *domain.Task) (domain.TaskUpdate, error) {
		if t.Status != domain.StatusUpdated {
			return domain.TaskUpdate{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, t.Status, domain.StatusOpen)
		}
		st := domain.StatusOpen
		reopened := true
		return domain.TaskUpdate{Status: &st, Reopened: &reopened}, nil
	})
}

// Transfer reassigns the task and keeps the previous actor as a follower.
func (e *Engine) Transfer(ctx context.Context, id domain.TaskID, assignee, actor domain.ActorID) (*domain.Task, error) {
	if assignee <= 0 {
		return nil, fmt.Errorf("%w: assignee is required", domain.ErrInvalidRequest)
	}
	format := "%s transferred the Task to User " + fmt.Sprint(int64(assignee)) + "."
	return e.update(ctx, id, actor, domain.TaskTransferred, format, func(t *domain.Task) (domain.TaskUpdate, error) {
		followers := append([]domain.ActorID(nil), t.Followers...)
		if !t.HasFollower(actor) {
			followers = append(followers, actor)
		}
		return domain.TaskUpdate{AssignedTo: &assignee, Followers: followers}, nil
	})
}

// update applies the change built by fn and records a history line formatted
// with the actor's display name.
func (e *Engine) update(ctx context.Context, id domain.TaskID, actor domain.ActorID, evType, historyFormat string, fn func(t *domain.Task) (domain.TaskUpdate, error)) (*domain.Task, error) {
	if id <= 0 || actor <= 0 {
		return nil, fmt.Errorf("%w: task and actor are required", domain.ErrInvalidRequest)
	}
	name, err := e.catalog.ActorName(ctx, actor)
	if err != nil {
		return nil, err
	}
	var updated *domain.Task
	err = e.transact(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LoadTask(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return domain.ErrNotFound
		}
		upd, err := fn(t)
		if err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, id, upd); err != nil {
			return err
		}
		upd.Apply(t)
		updated = t
		return tx.AppendHistory(ctx, domain.HistoryEntry{
			TaskID:    id,
			ActorID:   actor,
			Message:   fmt.Sprintf(historyFormat, name),
			CreatedAt: e.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(log.Fields{"task": id, "actor": actor, "event": evType, "status": updated.Status}).Info("task updated")
	if evType == domain.TaskTransferred {
		e.emit(id, actor, evType, domain.TransferredEventData{AssignedTo: updated.AssignedTo})
	} else {
		e.emit(id, actor, evType, domain.StatusChangedEventData{Status: updated.Status, Ongoing: updated.Ongoing, Reopened: updated.Reopened})
	}
	return updated, nil
}

// Task returns the stored task or domain.ErrNotFound.
func (e *Engine) Task(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (e *Engine) Remarks(ctx context.Context, id domain.TaskID) ([]domain.Remark, error) {
	if _, err := e.Task(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Remarks(ctx, id)
}

func (e *Engine) History(ctx context.Context, id domain.TaskID) ([]domain.HistoryEntry, error) {
	if _, err := e.Task(ctx, id); err != nil {
		return nil, err
	}
	return e.store.History(ctx, id)
}

// Milestones builds the progress view of a task's sequence. Query tasks that
// have not completed the boundary milestone only show the sequence up to it.
func (e *Engine) Milestones(ctx context.Context, id domain.TaskID) ([]domain.MilestoneProgress, error) {
	t, err := e.Task(ctx, id)
	if err != nil {
		return nil, err
	}
	seq := t.Sequence
	if t.Type == domain.TaskTypeQuery && !t.Ledger.Has(milestoneQueryViewBoundary) {
		if i := seq.Index(milestoneQueryViewBoundary); i >= 0 {
			seq = seq[:i+1]
		}
	}
	out := make([]domain.MilestoneProgress, 0, len(seq))
	for _, mid := range seq {
		p := domain.MilestoneProgress{ID: mid}
		m, err := e.catalog.LookupMilestone(ctx, mid, "")
		if err != nil {
			return nil, err
		}
		if m != nil {
			p.Name = m.Name
			p.Weight = m.Weight
		}
		row, err := e.catalog.FirstCompletion(ctx, id, mid)
		if err != nil {
			return nil, err
		}
		if row != nil {
			p.Completed = row.Status == domain.CompletionCompleted
			if row.ClosedBy > 0 {
				p.CompletedBy = row.ClosedBy
				if p.CompletedName, err = e.catalog.ActorName(ctx, row.ClosedBy); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *Engine) ListMilestones(ctx context.Context) ([]domain.Milestone, error) {
	return e.store.ListMilestones(ctx)
}

// SaveMilestone validates and upserts a catalog entry.
func (e *Engine) SaveMilestone(ctx context.Context, m domain.Milestone) error {
	if m.ID <= 0 || strings.TrimSpace(m.Name) == "" || m.Weight < 0 {
		return fmt.Errorf("%w: milestone id, name and non-negative weight are required", domain.ErrInvalidRequest)
	}
	if m.Status == "" {
		m.Status = domain.CatalogActive
	}
	if m.Status != domain.CatalogActive && m.Status != domain.CatalogInactive {
		return fmt.Errorf("%w: unknown milestone status %q", domain.ErrInvalidRequest, m.Status)
	}
	if err := e.store.SaveMilestone(ctx, m); err != nil {
		return err
	}
	if ev, ok := e.catalog.(milestoneEvicter); ok {
		ev.EvictMilestone(ctx, m.ID)
	}
	return nil
}

// milestoneEvicter is implemented by catalogs that cache milestone entries.
type milestoneEvicter interface {
	EvictMilestone(ctx context.Context, id domain.MilestoneID)
}
