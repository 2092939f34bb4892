package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/purushoth411/postmanback/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

// flag accepts the loose truthy values sent by form based clients: true,
// 1, "1", "on", "yes".
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(string(b), `"`)) {
	case "true", "1", "on", "yes":
		*f = true
	case "false", "0", "off", "no", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", b)
	}
	return nil
}

// idList accepts milestone ids as numbers or numeric strings.
type idList []domain.MilestoneID

func (l *idList) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := sonic.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(idList, 0, len(raw))
	for _, v := range raw {
		var (
			id  domain.MilestoneID
			err error
		)
		switch x := v.(type) {
		case float64:
			if x != float64(int64(x)) || x <= 0 {
				return fmt.Errorf("invalid milestone id %v", x)
			}
			id = domain.MilestoneID(x)
		case string:
			id, err = domain.ParseMilestoneID(x)
		default:
			err = fmt.Errorf("invalid milestone id %v", x)
		}
		if err != nil {
			return err
		}
		out = append(out, id)
	}
	*l = out
	return nil
}

// POST /api/tasks/:id/close
type closeTaskRequest struct {
	TaskType         string  `json:"task_type"`
	Benchmark        idList  `json:"benchmark"`
	Remarks          *string `json:"remarks"`
	CloseTask        flag    `json:"closetask"`
	Ongoing          flag    `json:"is_marked_as_ongoing"`
	HiddenMilestones string  `json:"hidden_milestones"`
}

// POST /api/tasks
type createTaskRequest struct {
	TaskType    string           `json:"task_type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	AssignedTo  domain.ActorID   `json:"assigned_to"`
	Followers   []domain.ActorID `json:"followers"`
	DueDate     *time.Time       `json:"due_date"`
	Benchmarks  idList           `json:"benchmarks"`
}

type createTaskResponse struct {
	Status bool          `json:"status"`
	ID     domain.TaskID `json:"id"`
}

// POST /api/tasks/:id/transfer
type transferRequest struct {
	AssignTo domain.ActorID `json:"assign_to"`
}

type errorResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func parseTaskID(raw string) (domain.TaskID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid task id", domain.ErrInvalidRequest)
	}
	return domain.TaskID(n), nil
}
