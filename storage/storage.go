package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/purushoth411/postmanback/domain"
	"github.com/purushoth411/postmanback/progression"
)

// tableClient is the subset of *aztables.Client used by Storage.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tts *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Storage keeps tasks, their remarks, completion rows and history in one
// partition per task of the tasks table.
type Storage struct {
	tasks      tableClient
	milestones tableClient
	admins     tableClient
	counters   tableClient
}

var (
	_ progression.Store   = (*Storage)(nil)
	_ progression.Catalog = (*Storage)(nil)
)

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, milestonesTable, adminsTable, countersTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newStorage(
		svc.NewClient(tasksTable),
		svc.NewClient(milestonesTable),
		svc.NewClient(adminsTable),
		svc.NewClient(countersTable),
	), nil
}

func newStorage(tasks, milestones, admins, counters tableClient) *Storage {
	return &Storage{tasks: tasks, milestones: milestones, admins: admins, counters: counters}
}

func isStatus(err error, codes ...int) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	for _, c := range codes {
		if respErr.StatusCode == c {
			return true
		}
	}
	return false
}

// mapConflict translates precondition failures into domain.ErrConcurrencyConflict.
func mapConflict(err error) error {
	if isStatus(err, http.StatusConflict, http.StatusPreconditionFailed) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}
	return err
}

func (s *Storage) loadTaskEntity(ctx context.Context, id domain.TaskID) (*taskEntity, azcore.ETag, error) {
	resp, err := s.tasks.GetEntity(ctx, taskPartition(id), taskRowKey, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	return &ent, resp.ETag, nil
}

// GetTask retrieves a task if present.
func (s *Storage) GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	ent, _, err := s.loadTaskEntity(ctx, id)
	if err != nil || ent == nil {
		return nil, err
	}
	return ent.toDomain()
}

func (s *Storage) listRows(ctx context.Context, client tableClient, filter string, fn func(raw []byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Remarks returns the remarks of a task in insertion order.
func (s *Storage) Remarks(ctx context.Context, id domain.TaskID) ([]domain.Remark, error) {
	out := []domain.Remark{}
	err := s.listRows(ctx, s.tasks, prefixFilter(taskPartition(id), remarkRowPrefix), func(raw []byte) error {
		var ent remarkEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return err
		}
		r := domain.Remark{
			ID:        rowSeq(ent.RowKey, remarkRowPrefix),
			TaskID:    id,
			AddedBy:   domain.ActorID(ent.AddedBy),
			Role:      ent.Role,
			Text:      ent.Remark,
			CreatedAt: ent.CreatedAt,
		}
		if ent.Milestones != "" {
			seq, err := domain.ParseSequence(ent.Milestones)
			if err != nil {
				return err
			}
			r.Milestones = seq
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// History returns the audit trail of a task in insertion order.
func (s *Storage) History(ctx context.Context, id domain.TaskID) ([]domain.HistoryEntry, error) {
	out := []domain.HistoryEntry{}
	err := s.listRows(ctx, s.tasks, prefixFilter(taskPartition(id), historyRowPrefix), func(raw []byte) error {
		var ent historyEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return err
		}
		out = append(out, domain.HistoryEntry{
			ID:        rowSeq(ent.RowKey, historyRowPrefix),
			TaskID:    id,
			ActorID:   domain.ActorID(ent.ActorID),
			Message:   ent.Message,
			CreatedAt: ent.CreatedAt,
		})
		return nil
	})
	return out, err
}

// FirstCompletion returns the earliest completion row of a milestone on a task.
func (s *Storage) FirstCompletion(ctx context.Context, taskID domain.TaskID, id domain.MilestoneID) (*domain.CompletionRow, error) {
	filter := prefixFilter(taskPartition(taskID), completionRowPrefix) + fmt.Sprintf(" and MilestoneID eq %d", int64(id))
	var first *domain.CompletionRow
	err := s.listRows(ctx, s.tasks, filter, func(raw []byte) error {
		if first != nil {
			return nil
		}
		var ent completionEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return err
		}
		first = &domain.CompletionRow{
			ID:          rowSeq(ent.RowKey, completionRowPrefix),
			TaskID:      taskID,
			MilestoneID: domain.MilestoneID(ent.MilestoneID),
			ClosedBy:    domain.ActorID(ent.ClosedBy),
			Role:        ent.Role,
			Weight:      ent.Weight,
			Status:      ent.Status,
			CreatedAt:   ent.CreatedAt,
		}
		return nil
	})
	return first, err
}

// LookupMilestone fetches a catalog entry, optionally requiring a status.
func (s *Storage) LookupMilestone(ctx context.Context, id domain.MilestoneID, status domain.CatalogStatus) (*domain.Milestone, error) {
	resp, err := s.milestones.GetEntity(ctx, milestonePartition, id.String(), nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ent milestoneEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	if status != "" && domain.CatalogStatus(ent.Status) != status {
		return nil, nil
	}
	m := milestoneFromEntity(ent)
	return &m, nil
}

func milestoneFromEntity(ent milestoneEntity) domain.Milestone {
	id, _ := strconv.ParseInt(ent.RowKey, 10, 64)
	return domain.Milestone{
		ID:     domain.MilestoneID(id),
		Name:   ent.Name,
		Weight: ent.Weight,
		Status: domain.CatalogStatus(ent.Status),
	}
}

// ListMilestones returns the whole catalog.
func (s *Storage) ListMilestones(ctx context.Context) ([]domain.Milestone, error) {
	out := []domain.Milestone{}
	filter := "PartitionKey eq '" + milestonePartition + "'"
	err := s.listRows(ctx, s.milestones, filter, func(raw []byte) error {
		var ent milestoneEntity
		if err := sonic.Unmarshal(raw, &ent); err != nil {
			return err
		}
		out = append(out, milestoneFromEntity(ent))
		return nil
	})
	return out, err
}

// SaveMilestone creates or replaces a catalog entry.
func (s *Storage) SaveMilestone(ctx context.Context, m domain.Milestone) error {
	payload, err := sonic.Marshal(milestoneEntity{
		Entity: aztables.Entity{PartitionKey: milestonePartition, RowKey: m.ID.String()},
		Name:   m.Name,
		Weight: m.Weight,
		Status: string(m.Status),
	})
	if err == nil {
		_, err = s.milestones.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// SaveAdmin creates or replaces an administrator display name.
func (s *Storage) SaveAdmin(ctx context.Context, id domain.ActorID, first, last string) error {
	key := strconv.FormatInt(int64(id), 10)
	payload, err := sonic.Marshal(adminEntity{
		Entity:    aztables.Entity{PartitionKey: key, RowKey: key},
		FirstName: first,
		LastName:  last,
	})
	if err == nil {
		_, err = s.admins.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// ActorName resolves "First Last" for an administrator, "Unknown" when absent.
func (s *Storage) ActorName(ctx context.Context, id domain.ActorID) (string, error) {
	key := strconv.FormatInt(int64(id), 10)
	resp, err := s.admins.GetEntity(ctx, key, key, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return "Unknown", nil
		}
		return "", err
	}
	var ent adminEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return "", err
	}
	name := strings.TrimSpace(ent.FirstName + " " + ent.LastName)
	if name == "" {
		return "Unknown", nil
	}
	return name, nil
}

// nextTaskID increments the task counter under an ETag precondition.
func (s *Storage) nextTaskID(ctx context.Context) (domain.TaskID, error) {
	for attempt := 0; attempt < 10; attempt++ {
		resp, err := s.counters.GetEntity(ctx, counterPartition, taskCounterRowKey, nil)
		if err != nil {
			if !isStatus(err, http.StatusNotFound) {
				return 0, err
			}
			payload, err := sonic.Marshal(counterEntity{
				Entity:    aztables.Entity{PartitionKey: counterPartition, RowKey: taskCounterRowKey},
				Value:     1,
				ValueType: edmInt64,
			})
			if err != nil {
				return 0, err
			}
			if _, err := s.counters.AddEntity(ctx, payload, nil); err != nil {
				if isStatus(err, http.StatusConflict) {
					continue
				}
				return 0, err
			}
			return 1, nil
		}
		var ent counterEntity
		if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
			return 0, err
		}
		ent.Value++
		ent.ValueType = edmInt64
		payload, err := sonic.Marshal(ent)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		if _, err := s.counters.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace}); err != nil {
			if isStatus(err, http.StatusPreconditionFailed) {
				continue
			}
			return 0, err
		}
		return domain.TaskID(ent.Value), nil
	}
	return 0, fmt.Errorf("allocate task id: %w", domain.ErrConcurrencyConflict)
}
