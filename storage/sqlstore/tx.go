package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/purushoth411/postmanback/domain"
	"github.com/purushoth411/postmanback/progression"
)

type sqlTx struct {
	s  *Store
	tx *sql.Tx
}

var _ progression.Tx = (*sqlTx)(nil)

// RunInTransaction runs fn inside one database transaction. The transaction
// is rolled back when fn fails or panics.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx progression.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, &sqlTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (t *sqlTx) LoadTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	query := "SELECT " + taskColumns + " FROM tbl_task WHERE id = ?"
	if t.s.dialect == MySQL {
		query += " FOR UPDATE"
	}
	task, err := scanTask(t.tx.QueryRowContext(ctx, query, int64(id)))
	return task, mapError(err)
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return mapError(err)
}

func (t *sqlTx) SetLastCompletion(ctx context.Context, id domain.TaskID, at time.Time) error {
	return t.exec(ctx, "UPDATE tbl_task SET last_completion_at = ? WHERE id = ?", at.UTC(), int64(id))
}

func (t *sqlTx) OverwriteSequence(ctx context.Context, id domain.TaskID, seq domain.Sequence) error {
	return t.exec(ctx, "UPDATE tbl_task SET benchmarks = ? WHERE id = ?", seq.String(), int64(id))
}

func (t *sqlTx) ledger(ctx context.Context, id domain.TaskID) (domain.Ledger, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, "SELECT completed_benchmarks FROM tbl_task WHERE id = ?", int64(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return domain.ParseLedger(raw)
}

func (t *sqlTx) AppendCompletion(ctx context.Context, id domain.TaskID, c domain.Completion) error {
	l, err := t.ledger(ctx, id)
	if err != nil {
		return err
	}
	return t.exec(ctx, "UPDATE tbl_task SET completed_benchmarks = ? WHERE id = ?", l.Append(c).String(), int64(id))
}

func (t *sqlTx) MergeCompletedSet(ctx context.Context, id domain.TaskID, ids []domain.MilestoneID) error {
	l, err := t.ledger(ctx, id)
	if err != nil {
		return err
	}
	return t.exec(ctx, "UPDATE tbl_task SET completed_benchmarks = ? WHERE id = ?", l.Merge(ids).String(), int64(id))
}

func (t *sqlTx) SetStatus(ctx context.Context, id domain.TaskID, status domain.TaskStatus) error {
	return t.exec(ctx, "UPDATE tbl_task SET status = ? WHERE id = ?", string(status), int64(id))
}

func (t *sqlTx) UpdateTask(ctx context.Context, id domain.TaskID, upd domain.TaskUpdate) error {
	if upd.Empty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.Reopened != nil {
		set("reopened", *upd.Reopened)
	}
	if upd.Ongoing != nil {
		set("ongoing", *upd.Ongoing)
	}
	if upd.OngoingBy != nil {
		set("ongoing_by", int64(*upd.OngoingBy))
	}
	if upd.AssignedTo != nil {
		set("assigned_to", int64(*upd.AssignedTo))
	}
	if upd.Followers != nil {
		set("followers", domain.FormatActors(upd.Followers))
	}
	args = append(args, int64(id))
	return t.exec(ctx, "UPDATE tbl_task SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
}

func (t *sqlTx) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.LastInsertId()
}

func (t *sqlTx) InsertRemark(ctx context.Context, r domain.Remark) (int64, error) {
	var text sql.NullString
	if r.Text != nil {
		text = sql.NullString{String: *r.Text, Valid: true}
	}
	return t.insert(ctx,
		"INSERT INTO tbl_remarks (task_id, added_by, role, remarks, milestones, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		int64(r.TaskID), int64(r.AddedBy), r.Role, text, domain.Sequence(r.Milestones).String(), r.CreatedAt.UTC())
}

func (t *sqlTx) InsertCompletionRow(ctx context.Context, row domain.CompletionRow) (int64, error) {
	return t.insert(ctx,
		"INSERT INTO tbl_benchmark_completed (task_id, benchmark_id, closed_by, role, weight, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		int64(row.TaskID), int64(row.MilestoneID), int64(row.ClosedBy), row.Role, row.Weight, row.Status, row.CreatedAt.UTC())
}

func (t *sqlTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) error {
	_, err := t.insert(ctx,
		"INSERT INTO tbl_task_history (task_id, actor_id, message, created_at) VALUES (?, ?, ?, ?)",
		int64(h.TaskID), int64(h.ActorID), h.Message, h.CreatedAt.UTC())
	return err
}

func (t *sqlTx) InsertTask(ctx context.Context, task domain.Task) (domain.TaskID, error) {
	var due, last sql.NullTime
	if task.DueDate != nil {
		due = sql.NullTime{Time: task.DueDate.UTC(), Valid: true}
	}
	if task.LastCompletionAt != nil {
		last = sql.NullTime{Time: task.LastCompletionAt.UTC(), Valid: true}
	}
	id, err := t.insert(ctx,
		"INSERT INTO tbl_task ("+insertTaskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		string(task.Type), task.Title, task.Description, int64(task.AssignedTo), int64(task.AddedBy),
		domain.FormatActors(task.Followers), due, string(task.Status), task.Reopened, task.Ongoing,
		int64(task.OngoingBy), task.Sequence.String(), task.Ledger.String(), last, task.CreatedAt.UTC())
	return domain.TaskID(id), err
}

const insertTaskColumns = "task_type, title, description, assigned_to, added_by, followers, due_date, status, " +
	"reopened, ongoing, ongoing_by, benchmarks, completed_benchmarks, last_completion_at, created_at"

const taskColumns = "id, " + insertTaskColumns

// scanTask returns nil without error when the row does not exist.
func scanTask(row *sql.Row) (*domain.Task, error) {
	var (
		t                                 domain.Task
		typ, status, followers, seq, done string
		desc                              sql.NullString
		due, last                         sql.NullTime
	)
	err := row.Scan(&t.ID, &typ, &t.Title, &desc, &t.AssignedTo, &t.AddedBy, &followers, &due, &status,
		&t.Reopened, &t.Ongoing, &t.OngoingBy, &seq, &done, &last, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Type = domain.TaskType(typ)
	t.Status = domain.TaskStatus(status)
	t.Description = desc.String
	if due.Valid {
		d := due.Time.UTC()
		t.DueDate = &d
	}
	if last.Valid {
		l := last.Time.UTC()
		t.LastCompletionAt = &l
	}
	t.CreatedAt = t.CreatedAt.UTC()
	if t.Followers, err = domain.ParseActors(followers); err != nil {
		return nil, err
	}
	if t.Sequence, err = domain.ParseSequence(seq); err != nil {
		return nil, err
	}
	if t.Ledger, err = domain.ParseLedger(done); err != nil {
		return nil, err
	}
	return &t, nil
}
