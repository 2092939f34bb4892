package progression

import (
	"context"
	"errors"
	"time"

	"github.com/purushoth411/postmanback/domain"
)

type fakeState struct {
	tasks    map[domain.TaskID]*domain.Task
	remarks  []domain.Remark
	rows     []domain.CompletionRow
	history  []domain.HistoryEntry
	seqLog   []domain.Sequence
	nextID   int64
	statuses []domain.TaskStatus
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		tasks:    make(map[domain.TaskID]*domain.Task, len(s.tasks)),
		remarks:  append([]domain.Remark(nil), s.remarks...),
		rows:     append([]domain.CompletionRow(nil), s.rows...),
		history:  append([]domain.HistoryEntry(nil), s.history...),
		seqLog:   append([]domain.Sequence(nil), s.seqLog...),
		nextID:   s.nextID,
		statuses: append([]domain.TaskStatus(nil), s.statuses...),
	}
	for id, t := range s.tasks {
		c.tasks[id] = t.Clone()
	}
	return c
}

type fakeStore struct {
	state       *fakeState
	milestones  map[domain.MilestoneID]domain.Milestone
	conflicts   int
	txCount     int
	zeroRemark  bool
	zeroRows    bool
	failHistory error
}

func newFakeStore(tasks ...*domain.Task) *fakeStore {
	st := &fakeState{tasks: map[domain.TaskID]*domain.Task{}}
	for _, t := range tasks {
		st.tasks[t.ID] = t.Clone()
	}
	return &fakeStore{state: st, milestones: map[domain.MilestoneID]domain.Milestone{}}
}

func (f *fakeStore) task(id domain.TaskID) *domain.Task { return f.state.tasks[id] }

func (f *fakeStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	f.txCount++
	if f.conflicts > 0 {
		f.conflicts--
		return domain.ErrConcurrencyConflict
	}
	work := f.state.clone()
	if err := fn(ctx, &fakeTx{st: work, store: f}); err != nil {
		return err
	}
	f.state = work
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	t, ok := f.state.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (f *fakeStore) Remarks(ctx context.Context, id domain.TaskID) ([]domain.Remark, error) {
	var out []domain.Remark
	for _, r := range f.state.remarks {
		if r.TaskID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) History(ctx context.Context, id domain.TaskID) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	for _, h := range f.state.history {
		if h.TaskID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeStore) ListMilestones(ctx context.Context) ([]domain.Milestone, error) {
	var out []domain.Milestone
	for _, m := range f.milestones {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) SaveMilestone(ctx context.Context, m domain.Milestone) error {
	f.milestones[m.ID] = m
	return nil
}

func (f *fakeStore) LookupMilestone(ctx context.Context, id domain.MilestoneID, status domain.CatalogStatus) (*domain.Milestone, error) {
	m, ok := f.milestones[id]
	if !ok || (status != "" && m.Status != status) {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeStore) FirstCompletion(ctx context.Context, taskID domain.TaskID, id domain.MilestoneID) (*domain.CompletionRow, error) {
	for _, r := range f.state.rows {
		if r.TaskID == taskID && r.MilestoneID == id {
			row := r
			return &row, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ActorName(ctx context.Context, id domain.ActorID) (string, error) {
	switch id {
	case 7:
		return "Asha Rao", nil
	case 9:
		return "Vikram Iyer", nil
	}
	return "Unknown", nil
}

type fakeTx struct {
	st    *fakeState
	store *fakeStore
}

var errNoTask = errors.New("no such task in tx")

func (tx *fakeTx) get(id domain.TaskID) (*domain.Task, error) {
	t, ok := tx.st.tasks[id]
	if !ok {
		return nil, errNoTask
	}
	return t, nil
}

func (tx *fakeTx) LoadTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	t, ok := tx.st.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (tx *fakeTx) SetLastCompletion(ctx context.Context, id domain.TaskID, at time.Time) error {
	t, err := tx.get(id)
	if err != nil {
		return err
	}
	t.LastCompletionAt = &at
	return nil
}

func (tx *fakeTx) OverwriteSequence(ctx context.Context, id domain.TaskID, seq domain.Sequence) error {
	t, err := tx.get(id)
	if err != nil {
		return err
	}
	t.Sequence = seq.Clone()
	tx.st.seqLog = append(tx.st.seqLog, seq.Clone())
	return nil
}

func (tx *fakeTx) AppendCompletion(ctx context.Context, id domain.TaskID, c domain.Completion) error {
	t, err := tx.get(id)
	if err != nil {
		return err
	}
	t.Ledger = t.Ledger.Append(c)
	return nil
}

func (tx *fakeTx) SetStatus(ctx context.Context, id domain.TaskID, status domain.TaskStatus) error {
	t, err := tx.get(id)
	if err != nil {
		return err
	}
	t.Status = status
	tx.st.statuses = append(tx.st.statuses, status)
	return nil
}

func (tx *fakeTx) UpdateTask(ctx context.Context, id domain.TaskID, upd domain.TaskUpdate) error {
	t, err := tx.get(id)
	if err != nil {
		return err
	}
	upd.Apply(t)
	return nil
}

func (tx *fakeTx) InsertRemark(ctx context.Context, r domain.Remark) (int64, error) {
	if tx.store.zeroRemark {
		return 0, nil
	}
	tx.st.nextID++
	r.ID = tx.st.nextID
	tx.st.remarks = append(tx.st.remarks, r)
	return r.ID, nil
}

func (tx *fakeTx) InsertCompletionRow(ctx context.Context, row domain.CompletionRow) (int64, error) {
	if tx.store.zeroRows {
		return 0, nil
	}
	tx.st.nextID++
	row.ID = tx.st.nextID
	tx.st.rows = append(tx.st.rows, row)
	return row.ID, nil
}

func (tx *fakeTx) MergeCompletedSet(ctx context.Context, id domain.TaskID, ids []domain.MilestoneID) error {
	t, err := tx.get(id)
	if err != nil {
		return err
	}
	t.Ledger = t.Ledger.Merge(ids)
	return nil
}

func (tx *fakeTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) error {
	if tx.store.failHistory != nil {
		return tx.store.failHistory
	}
	tx.st.nextID++
	h.ID = tx.st.nextID
	tx.st.history = append(tx.st.history, h)
	return nil
}

func (tx *fakeTx) InsertTask(ctx context.Context, t domain.Task) (domain.TaskID, error) {
	id := domain.TaskID(len(tx.st.tasks) + 100)
	t.ID = id
	tx.st.tasks[id] = t.Clone()
	return id, nil
}

type recordingNotifier struct{ events []domain.Event }

func (n *recordingNotifier) Notify(ev domain.Event) { n.events = append(n.events, ev) }
