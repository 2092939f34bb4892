package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/purushoth411/postmanback/domain"
)

const (
	MessageDataSubmitted          = "Data submitted successfully"
	MessageMilestoneDataSubmitted = "Milestone data submitted successfully"
	MessageDataNotSubmitted       = "Data not submitted!"
	MessageMilestoneNotSubmitted  = "Milestone data not submitted!"
	MessageProcessingFailed       = "An error occurred while processing the task"

	tracerName = "postmanback/progression"
)

// CloseRequest is a single close task submission.
type CloseRequest struct {
	TaskID     domain.TaskID
	TaskType   domain.TaskType
	Milestones []domain.MilestoneID
	Remark     *string
	CloseTask  bool
	Ongoing    bool
	Visibility domain.Visibility
	Actor      domain.ActorID
	Role       string
}

// MilestoneMode reports whether the request records explicit milestones.
func (r CloseRequest) MilestoneMode() bool { return r.Visibility != domain.VisibilitySimple }

// SubmitFailedMessage is the user facing text for domain.ErrSubmitFailed.
func (r CloseRequest) SubmitFailedMessage() string {
	if r.MilestoneMode() {
		return MessageMilestoneNotSubmitted
	}
	return MessageDataNotSubmitted
}

// Result is returned for a successful close.
type Result struct {
	Status   bool              `json:"status"`
	Message  string            `json:"message"`
	Sequence domain.Sequence   `json:"benchmarks,omitempty"`
	TaskStat domain.TaskStatus `json:"taskStatus,omitempty"`
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	Policy   Policy
	Notifier Notifier
	Logger   *log.Logger
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
	// BackOff builds the retry schedule for concurrency conflicts.
	BackOff func() backoff.BackOff
}

// Engine runs milestone progression and task status operations.
type Engine struct {
	store      Store
	catalog    Catalog
	notifier   Notifier
	policy     Policy
	log        *log.Logger
	now        func() time.Time
	newBackOff func() backoff.BackOff
	tracer     trace.Tracer
}

func New(store Store, catalog Catalog, opts Options) *Engine {
	e := &Engine{
		store:      store,
		catalog:    catalog,
		notifier:   opts.Notifier,
		policy:     opts.Policy,
		log:        opts.Logger,
		now:        opts.Now,
		newBackOff: opts.BackOff,
		tracer:     otel.Tracer(tracerName),
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.policy == (Policy{}) {
		e.policy = DefaultPolicy()
	}
	if e.log == nil {
		e.log = log.StandardLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newBackOff == nil {
		e.newBackOff = defaultBackOff
	}
	return e
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

// Catalog returns the reference data resolver used by the engine.
func (e *Engine) Catalog() Catalog { return e.catalog }

// transact runs fn in a store transaction, retrying lost optimistic races.
func (e *Engine) transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := e.store.RunInTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			e.log.WithField("attempt", attempt).Debug("transaction conflict, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(e.newBackOff(), ctx))
}

type closeOutcome struct {
	message  string
	sequence domain.Sequence
	status   domain.TaskStatus
}

// CloseTask records the completion of milestones on a task, rewriting the
// remaining sequence for query tasks. Rejections are returned as
// domain.ErrNotFound, *domain.CooldownError or domain.ErrSubmitFailed; any
// other failure is wrapped in domain.ErrProcessingFailed.
func (e *Engine) CloseTask(ctx context.Context, req CloseRequest) (res Result, err error) {
	ctx, span := e.tracer.Start(ctx, "progression.CloseTask", trace.WithAttributes(
		attribute.Int64("task.id", int64(req.TaskID)),
		attribute.Int("task.milestones", len(req.Milestones)),
		attribute.Bool("task.milestone_mode", req.MilestoneMode()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := e.log.WithFields(log.Fields{"task": req.TaskID, "actor": req.Actor, "milestones": req.Milestones})
	if req.TaskID <= 0 || req.Actor <= 0 {
		return Result{}, fmt.Errorf("%w: task and actor are required", domain.ErrInvalidRequest)
	}

	// Reference data is resolved before the transaction opens so single
	// connection stores are not asked for a second connection.
	actorName, err := e.catalog.ActorName(ctx, req.Actor)
	if err != nil {
		return Result{}, e.processingFailed(logger, "resolve actor", err)
	}
	weights := make(map[domain.MilestoneID]float64, len(req.Milestones))
	if req.MilestoneMode() {
		for _, id := range req.Milestones {
			m, err := e.catalog.LookupMilestone(ctx, id, domain.CatalogActive)
			if err != nil {
				return Result{}, e.processingFailed(logger, "lookup milestone", err)
			}
			if m != nil {
				weights[id] = m.Weight
			}
		}
	}

	var out closeOutcome
	err = e.transact(ctx, func(ctx context.Context, tx Tx) error {
		out = closeOutcome{}
		return e.closeInTx(ctx, tx, req, actorName, weights, &out)
	})
	if err != nil {
		var cooldown *domain.CooldownError
		switch {
		case errors.As(err, &cooldown):
			logger.WithField("wait", cooldown.Wait()).Info("close rejected by cooldown")
			return Result{}, err
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSubmitFailed):
			logger.WithError(err).Info("close rejected")
			return Result{}, err
		default:
			return Result{}, e.processingFailed(logger, "close task", err)
		}
	}

	logger.WithFields(log.Fields{"sequence": out.sequence.String(), "status": out.status}).Debug("task closed")
	e.emit(req.TaskID, req.Actor, domain.TaskMilestonesClosed, domain.MilestonesClosedEventData{
		Milestones: req.Milestones,
		Sequence:   out.sequence,
		Status:     out.status,
	})
	return Result{Status: true, Message: out.message, Sequence: out.sequence, TaskStat: out.status}, nil
}

func (e *Engine) closeInTx(ctx context.Context, tx Tx, req CloseRequest, actorName string, weights map[domain.MilestoneID]float64, out *closeOutcome) error {
	task, err := tx.LoadTask(ctx, req.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		return domain.ErrNotFound
	}
	now := e.now()
	if err := e.policy.Check(task, now); err != nil {
		return err
	}
	if err := tx.SetLastCompletion(ctx, task.ID, now); err != nil {
		return err
	}
	task.LastCompletionAt = &now

	taskType := req.TaskType
	if taskType == "" {
		taskType = task.Type
	}
	if taskType == domain.TaskTypeQuery && len(req.Milestones) > 0 {
		if err := rewriteQuerySequence(ctx, tx, task, req.Milestones); err != nil {
			return err
		}
	}

	for _, id := range req.Milestones {
		c := domain.Completion{MilestoneID: id, ClosedBy: req.Actor}
		if err := tx.AppendCompletion(ctx, task.ID, c); err != nil {
			return err
		}
		task.Ledger = task.Ledger.Append(c)
	}

	if req.CloseTask {
		reopened := false
		upd := domain.TaskUpdate{Reopened: &reopened}
		if domain.CanTransition(task.Status, domain.StatusUpdated) {
			st := domain.StatusUpdated
			upd.Status = &st
		}
		if err := tx.UpdateTask(ctx, task.ID, upd); err != nil {
			return err
		}
		upd.Apply(task)
	}

	if req.MilestoneMode() {
		err = e.recordMilestones(ctx, tx, task, req, actorName, weights, now)
		out.message = MessageMilestoneDataSubmitted
	} else {
		err = e.recordRemark(ctx, tx, task, req, actorName, now)
		out.message = MessageDataSubmitted
	}
	if err != nil {
		return err
	}
	out.sequence = task.Sequence
	out.status = task.Status
	return nil
}

func (e *Engine) recordRemark(ctx context.Context, tx Tx, task *domain.Task, req CloseRequest, actorName string, now time.Time) error {
	remarkID, err := tx.InsertRemark(ctx, domain.Remark{
		TaskID:    task.ID,
		AddedBy:   req.Actor,
		Role:      req.Role,
		Text:      req.Remark,
		CreatedAt: now,
	})
	if err != nil {
		return err
	}
	if remarkID <= 0 {
		return domain.ErrSubmitFailed
	}
	msg := actorName + " completed the milestone"
	if !req.Ongoing {
		if err := e.markUpdated(ctx, tx, task); err != nil {
			return err
		}
		msg = actorName + " Updated the task"
	}
	return tx.AppendHistory(ctx, domain.HistoryEntry{TaskID: task.ID, ActorID: req.Actor, Message: msg, CreatedAt: now})
}

func (e *Engine) recordMilestones(ctx context.Context, tx Tx, task *domain.Task, req CloseRequest, actorName string, weights map[domain.MilestoneID]float64, now time.Time) error {
	if _, err := tx.InsertRemark(ctx, domain.Remark{
		TaskID:     task.ID,
		AddedBy:    req.Actor,
		Role:       req.Role,
		Text:       req.Remark,
		Milestones: req.Milestones,
		CreatedAt:  now,
	}); err != nil {
		return err
	}
	inserted := 0
	for _, id := range req.Milestones {
		rowID, err := tx.InsertCompletionRow(ctx, domain.CompletionRow{
			TaskID:      task.ID,
			MilestoneID: id,
			ClosedBy:    req.Actor,
			Role:        req.Role,
			Weight:      weights[id],
			Status:      domain.CompletionCompleted,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		if rowID > 0 {
			inserted++
		}
	}
	if inserted == 0 {
		return domain.ErrSubmitFailed
	}
	if err := tx.MergeCompletedSet(ctx, task.ID, req.Milestones); err != nil {
		return err
	}
	task.Ledger = task.Ledger.Merge(req.Milestones)

	if last, ok := task.Sequence.Last(); ok && closedSet(req.Milestones)[last] {
		if err := e.markUpdated(ctx, tx, task); err != nil {
			return err
		}
	}
	return tx.AppendHistory(ctx, domain.HistoryEntry{
		TaskID:    task.ID,
		ActorID:   req.Actor,
		Message:   actorName + " completed the milestone(s)",
		CreatedAt: now,
	})
}

// markUpdated moves the task to Updated unless it is already Completed.
func (e *Engine) markUpdated(ctx context.Context, tx Tx, task *domain.Task) error {
	if !domain.CanTransition(task.Status, domain.StatusUpdated) {
		return nil
	}
	if err := tx.SetStatus(ctx, task.ID, domain.StatusUpdated); err != nil {
		return err
	}
	task.Status = domain.StatusUpdated
	return nil
}

func (e *Engine) processingFailed(logger *log.Entry, stage string, err error) error {
	logger.WithError(err).WithField("stage", stage).Error("task processing failed")
	return fmt.Errorf("%w: %v", domain.ErrProcessingFailed, err)
}

func (e *Engine) emit(taskID domain.TaskID, actor domain.ActorID, typ string, data any) {
	payload, err := sonic.Marshal(data)
	if err != nil {
		e.log.WithError(err).WithField("type", typ).Error("encode event")
		return
	}
	e.notifier.Notify(domain.Event{
		ID:      uuid.NewString(),
		TaskID:  taskID,
		Type:    typ,
		ActorID: actor,
		Data:    payload,
		Time:    e.now().UnixMilli(),
	})
}
