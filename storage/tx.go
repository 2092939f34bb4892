package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/purushoth411/postmanback/domain"
	"github.com/purushoth411/postmanback/progression"
)

// maxBatchActions is the entity group transaction limit of Azure Tables.
const maxBatchActions = 100

var errCrossPartition = errors.New("transaction spans more than one task")

// tableTx buffers every write of a transaction against a working copy of one
// task and submits them as a single entity group transaction on commit.
type tableTx struct {
	s       *Storage
	task    *domain.Task
	etag    azcore.ETag
	nextRow int64
	created bool
	dirty   bool
	pending []aztables.TransactionAction
}

var _ progression.Tx = (*tableTx)(nil)

// RunInTransaction runs fn and commits its writes atomically. A task changed
// by another writer since it was loaded yields domain.ErrConcurrencyConflict.
func (s *Storage) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx progression.Tx) error) error {
	tx := &tableTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

func (tx *tableTx) commit(ctx context.Context) error {
	if tx.task == nil || (!tx.dirty && len(tx.pending) == 0) {
		return nil
	}
	payload, err := sonic.Marshal(newTaskEntity(tx.task, tx.nextRow))
	if err != nil {
		return err
	}
	var head aztables.TransactionAction
	if tx.created {
		head = aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload}
	} else {
		etag := tx.etag
		head = aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateReplace, Entity: payload, IfMatch: &etag}
	}
	actions := append([]aztables.TransactionAction{head}, tx.pending...)
	if len(actions) > maxBatchActions {
		return fmt.Errorf("transaction has %d writes, limit is %d", len(actions), maxBatchActions)
	}
	if _, err := tx.s.tasks.SubmitTransaction(ctx, actions, nil); err != nil {
		return mapConflict(err)
	}
	return nil
}

func (tx *tableTx) working(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	if tx.task == nil {
		if _, err := tx.LoadTask(ctx, id); err != nil {
			return nil, err
		}
		if tx.task == nil {
			return nil, domain.ErrNotFound
		}
	}
	if tx.task.ID != id {
		return nil, errCrossPartition
	}
	return tx.task, nil
}

func (tx *tableTx) LoadTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	if tx.task != nil {
		if tx.task.ID != id {
			return nil, errCrossPartition
		}
		return tx.task.Clone(), nil
	}
	ent, etag, err := tx.s.loadTaskEntity(ctx, id)
	if err != nil || ent == nil {
		return nil, err
	}
	t, err := ent.toDomain()
	if err != nil {
		return nil, err
	}
	tx.task, tx.etag, tx.nextRow = t, etag, ent.NextRowID
	return t.Clone(), nil
}

func (tx *tableTx) SetLastCompletion(ctx context.Context, id domain.TaskID, at time.Time) error {
	t, err := tx.working(ctx, id)
	if err != nil {
		return err
	}
	at = at.UTC()
	t.LastCompletionAt = &at
	tx.dirty = true
	return nil
}

func (tx *tableTx) OverwriteSequence(ctx context.Context, id domain.TaskID, seq domain.Sequence) error {
	t, err := tx.working(ctx, id)
	if err != nil {
		return err
	}
	t.Sequence = seq.Clone()
	tx.dirty = true
	return nil
}

func (tx *tableTx) AppendCompletion(ctx context.Context, id domain.TaskID, c domain.Completion) error {
	t, err := tx.working(ctx, id)
	if err != nil {
		return err
	}
	t.Ledger = t.Ledger.Append(c)
	tx.dirty = true
	return nil
}

func (tx *tableTx) SetStatus(ctx context.Context, id domain.TaskID, status domain.TaskStatus) error {
	t, err := tx.working(ctx, id)
	if err != nil {
		return err
	}
	t.Status = status
	tx.dirty = true
	return nil
}

func (tx *tableTx) UpdateTask(ctx context.Context, id domain.TaskID, upd domain.TaskUpdate) error {
	t, err := tx.working(ctx, id)
	if err != nil {
		return err
	}
	if upd.Empty() {
		return nil
	}
	upd.Apply(t)
	tx.dirty = true
	return nil
}

func (tx *tableTx) MergeCompletedSet(ctx context.Context, id domain.TaskID, ids []domain.MilestoneID) error {
	t, err := tx.working(ctx, id)
	if err != nil {
		return err
	}
	t.Ledger = t.Ledger.Merge(ids)
	tx.dirty = true
	return nil
}

// add queues a new child row and returns its sequence number.
func (tx *tableTx) add(ctx context.Context, id domain.TaskID, prefix string, build func(e aztables.Entity) any) (int64, error) {
	if _, err := tx.working(ctx, id); err != nil {
		return 0, err
	}
	tx.nextRow++
	n := tx.nextRow
	payload, err := sonic.Marshal(build(aztables.Entity{PartitionKey: taskPartition(id), RowKey: rowKey(prefix, n)}))
	if err != nil {
		return 0, err
	}
	tx.pending = append(tx.pending, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload})
	return n, nil
}

func (tx *tableTx) InsertRemark(ctx context.Context, r domain.Remark) (int64, error) {
	return tx.add(ctx, r.TaskID, remarkRowPrefix, func(e aztables.Entity) any {
		return remarkEntity{
			Entity:      e,
			AddedBy:     int64(r.AddedBy),
			AddedByType: edmInt64,
			Role:        r.Role,
			Remark:      r.Text,
			Milestones:  formatMilestones(r.Milestones),
			CreatedAt:   r.CreatedAt.UTC(),
			CreatedType: edmDateTime,
		}
	})
}

func (tx *tableTx) InsertCompletionRow(ctx context.Context, row domain.CompletionRow) (int64, error) {
	return tx.add(ctx, row.TaskID, completionRowPrefix, func(e aztables.Entity) any {
		return completionEntity{
			Entity:       e,
			MilestoneID:  int64(row.MilestoneID),
			ClosedBy:     int64(row.ClosedBy),
			ClosedByType: edmInt64,
			Role:         row.Role,
			Weight:       row.Weight,
			Status:       row.Status,
			CreatedAt:    row.CreatedAt.UTC(),
			CreatedType:  edmDateTime,
		}
	})
}

func (tx *tableTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) error {
	_, err := tx.add(ctx, h.TaskID, historyRowPrefix, func(e aztables.Entity) any {
		return historyEntity{
			Entity:      e,
			ActorID:     int64(h.ActorID),
			ActorIDType: edmInt64,
			Message:     h.Message,
			CreatedAt:   h.CreatedAt.UTC(),
			CreatedType: edmDateTime,
		}
	})
	return err
}

// InsertTask allocates an id and stages the new task entity.
func (tx *tableTx) InsertTask(ctx context.Context, t domain.Task) (domain.TaskID, error) {
	if tx.task != nil {
		return 0, errCrossPartition
	}
	id, err := tx.s.nextTaskID(ctx)
	if err != nil {
		return 0, err
	}
	t.ID = id
	tx.task = t.Clone()
	tx.created = true
	tx.dirty = true
	return id, nil
}
