package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/purushoth411/postmanback/domain"
	"github.com/purushoth411/postmanback/progression"
)

var (
	_ progression.Store   = (*Store)(nil)
	_ progression.Catalog = (*Store)(nil)
)

// GetTask returns nil without error when the task does not exist.
func (s *Store) GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tbl_task WHERE id = ?", int64(id)))
}

// Remarks returns the remarks of a task in insertion order.
func (s *Store) Remarks(ctx context.Context, id domain.TaskID) ([]domain.Remark, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, added_by, role, remarks, milestones, created_at FROM tbl_remarks WHERE task_id = ? ORDER BY id", int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Remark{}
	for rows.Next() {
		var (
			r          = domain.Remark{TaskID: id}
			text       sql.NullString
			milestones string
		)
		if err := rows.Scan(&r.ID, &r.AddedBy, &r.Role, &text, &milestones, &r.CreatedAt); err != nil {
			return nil, err
		}
		if text.Valid {
			r.Text = &text.String
		}
		if strings.TrimSpace(milestones) != "" {
			seq, err := domain.ParseSequence(milestones)
			if err != nil {
				return nil, err
			}
			r.Milestones = seq
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// History returns the audit trail of a task in insertion order.
func (s *Store) History(ctx context.Context, id domain.TaskID) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, actor_id, message, created_at FROM tbl_task_history WHERE task_id = ? ORDER BY id", int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.HistoryEntry{}
	for rows.Next() {
		h := domain.HistoryEntry{TaskID: id}
		if err := rows.Scan(&h.ID, &h.ActorID, &h.Message, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.CreatedAt = h.CreatedAt.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

// FirstCompletion returns the earliest completion row of a milestone on a task.
func (s *Store) FirstCompletion(ctx context.Context, taskID domain.TaskID, id domain.MilestoneID) (*domain.CompletionRow, error) {
	row := domain.CompletionRow{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, task_id, benchmark_id, closed_by, role, weight, status, created_at FROM tbl_benchmark_completed "+
			"WHERE task_id = ? AND benchmark_id = ? ORDER BY id LIMIT 1", int64(taskID), int64(id)).
		Scan(&row.ID, &row.TaskID, &row.MilestoneID, &row.ClosedBy, &row.Role, &row.Weight, &row.Status, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return &row, nil
}

// LookupMilestone fetches a catalog entry, optionally requiring a status.
func (s *Store) LookupMilestone(ctx context.Context, id domain.MilestoneID, status domain.CatalogStatus) (*domain.Milestone, error) {
	query := "SELECT id, name, weight, status FROM tbl_benchmark WHERE id = ?"
	args := []any{int64(id)}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	var (
		m  domain.Milestone
		st string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&m.ID, &m.Name, &m.Weight, &st)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Status = domain.CatalogStatus(st)
	return &m, nil
}

// ListMilestones returns the whole catalog ordered by id.
func (s *Store) ListMilestones(ctx context.Context) ([]domain.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, weight, status FROM tbl_benchmark ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Milestone{}
	for rows.Next() {
		var (
			m  domain.Milestone
			st string
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Weight, &st); err != nil {
			return nil, err
		}
		m.Status = domain.CatalogStatus(st)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveMilestone creates or replaces a catalog entry.
func (s *Store) SaveMilestone(ctx context.Context, m domain.Milestone) error {
	query := "INSERT INTO tbl_benchmark (id, name, weight, status) VALUES (?, ?, ?, ?) " +
		"ON CONFLICT(id) DO UPDATE SET name = excluded.name, weight = excluded.weight, status = excluded.status"
	if s.dialect == MySQL {
		query = "INSERT INTO tbl_benchmark (id, name, weight, status) VALUES (?, ?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE name = VALUES(name), weight = VALUES(weight), status = VALUES(status)"
	}
	_, err := s.db.ExecContext(ctx, query, int64(m.ID), m.Name, m.Weight, string(m.Status))
	return err
}

// SaveAdmin creates or replaces an administrator display name.
func (s *Store) SaveAdmin(ctx context.Context, id domain.ActorID, first, last string) error {
	query := "INSERT INTO tbl_admin (id, first_name, last_name) VALUES (?, ?, ?) " +
		"ON CONFLICT(id) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name"
	if s.dialect == MySQL {
		query = "INSERT INTO tbl_admin (id, first_name, last_name) VALUES (?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE first_name = VALUES(first_name), last_name = VALUES(last_name)"
	}
	_, err := s.db.ExecContext(ctx, query, int64(id), first, last)
	return err
}

// ActorName resolves "First Last" for an administrator, "Unknown" when absent.
func (s *Store) ActorName(ctx context.Context, id domain.ActorID) (string, error) {
	var first, last string
	err := s.db.QueryRowContext(ctx, "SELECT first_name, last_name FROM tbl_admin WHERE id = ?", int64(id)).Scan(&first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return "Unknown", nil
	}
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		return "Unknown", nil
	}
	return name, nil
}
