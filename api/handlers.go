package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/purushoth411/postmanback/domain"
	"github.com/purushoth411/postmanback/progression"
)

const headerIdempotencyKey = "Idempotency-Key"

type handler struct {
	svc     Service
	auth    Authenticator
	deduper Deduper
	log     *log.Logger
}

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, svc Service, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handler{svc: svc, auth: auth, deduper: deduper, log: logger}
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = errorHandler

	e.GET("/healthz", healthz)

	g := e.Group("/api", observe(logger), GzipRequestMiddleware())
	g.POST("/tasks", h.createTask)
	g.GET("/tasks/:id", h.getTask)
	g.POST("/tasks/:id/close", h.closeTask)
	g.GET("/tasks/:id/milestones", h.taskMilestones)
	g.GET("/tasks/:id/remarks", h.taskRemarks)
	g.GET("/tasks/:id/history", h.taskHistory)
	g.POST("/tasks/:id/ongoing", h.statusOp("ongoing", svc.MarkOngoing))
	g.POST("/tasks/:id/complete", h.statusOp("complete", svc.MarkCompleted))
	g.POST("/tasks/:id/reopen", h.statusOp("reopen", svc.Reopen))
	g.POST("/tasks/:id/transfer", h.transferTask)
	g.GET("/milestones", h.listMilestones)
	g.POST("/milestones", h.saveMilestone)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *handler) identify(c echo.Context) (Identity, error) {
	id, err := h.auth.Identify(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		metricsFrom(c).Fail("auth", err)
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized").SetInternal(err)
	}
	metricsFrom(c).Set(attribute.Int64("actor.id", int64(id.Actor)))
	return id, nil
}

func (h *handler) taskID(c echo.Context) (domain.TaskID, error) {
	id, err := parseTaskID(c.Param("id"))
	if err != nil {
		return 0, h.fail(c, "path", err, "")
	}
	metricsFrom(c).Set(attribute.Int64("task.id", int64(id)))
	return id, nil
}

// decode reads a JSON body strictly.
func (h *handler) decode(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		metricsFrom(c).Fail("decode", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

// fail maps an engine error onto an HTTP error. submitFailed is the message
// used for domain.ErrSubmitFailed.
func (h *handler) fail(c echo.Context, stage string, err error, submitFailed string) error {
	metricsFrom(c).Fail(stage, err)
	var cooldown *domain.CooldownError
	switch {
	case errors.As(err, &cooldown):
		c.Response().Header().Set("Retry-After", strconv.Itoa(cooldown.Seconds()))
		return echo.NewHTTPError(http.StatusTooManyRequests, cooldown.Error()).SetInternal(err)
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Task not found").SetInternal(err)
	case errors.Is(err, domain.ErrSubmitFailed):
		if submitFailed == "" {
			submitFailed = progression.MessageDataNotSubmitted
		}
		return echo.NewHTTPError(http.StatusInternalServerError, submitFailed).SetInternal(err)
	case errors.Is(err, domain.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request").SetInternal(err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, "invalid status transition").SetInternal(err)
	default:
		if !errors.Is(err, domain.ErrProcessingFailed) {
			h.log.WithError(err).WithField("stage", stage).Error("request failed")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, progression.MessageProcessingFailed).SetInternal(err)
	}
}

// errorHandler renders every error as {"status": false, "message": ...}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := progression.MessageProcessingFailed
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, errorResponse{Message: msg})
	}
	if werr != nil {
		c.Logger().Error(werr)
	}
}

func (h *handler) closeTask(c echo.Context) error {
	who, err := h.identify(c)
	if err != nil {
		return err
	}
	id, err := h.taskID(c)
	if err != nil {
		return err
	}
	var body closeTaskRequest
	if err := h.decode(c, &body); err != nil {
		return err
	}
	taskType, ok := domain.ParseTaskType(body.TaskType)
	if !ok {
		return h.fail(c, "decode", domain.ErrInvalidRequest, "")
	}
	req := progression.CloseRequest{
		TaskID:     id,
		TaskType:   taskType,
		Milestones: body.Benchmark,
		Remark:     body.Remarks,
		CloseTask:  bool(body.CloseTask),
		Ongoing:    bool(body.Ongoing),
		Visibility: domain.Visibility(body.HiddenMilestones),
		Actor:      who.Actor,
		Role:       who.Role,
	}
	metricsFrom(c).Set(
		attribute.Int("task.milestones", len(req.Milestones)),
		attribute.Bool("task.milestone_mode", req.MilestoneMode()),
	)

	ctx := c.Request().Context()
	key := c.Request().Header.Get(headerIdempotencyKey)
	if key != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, who.Actor, key)
		switch {
		case err != nil:
			h.log.WithError(err).WithField("task", id).Warn("idempotency check unavailable")
			key = ""
		case !added:
			metricsFrom(c).Fail("duplicate", nil)
			return echo.NewHTTPError(http.StatusConflict, "Duplicate request")
		}
	} else {
		key = ""
	}

	res, err := h.svc.CloseTask(ctx, req)
	if err != nil {
		if key != "" {
			if rerr := h.deduper.Remove(context.WithoutCancel(ctx), who.Actor, key); rerr != nil {
				h.log.WithError(rerr).WithField("task", id).Error("idempotency rollback failed")
			}
		}
		return h.fail(c, "close", err, req.SubmitFailedMessage())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handler) createTask(c echo.Context) error {
	who, err := h.identify(c)
	if err != nil {
		return err
	}
	var body createTaskRequest
	if err := h.decode(c, &body); err != nil {
		return err
	}
	taskType, ok := domain.ParseTaskType(body.TaskType)
	if !ok {
		return h.fail(c, "decode", domain.ErrInvalidRequest, "")
	}
	id, err := h.svc.CreateTask(c.Request().Context(), progression.NewTask{
		Type:        taskType,
		Title:       body.Title,
		Description: body.Description,
		AssignedTo:  body.AssignedTo,
		AddedBy:     who.Actor,
		Followers:   body.Followers,
		DueDate:     body.DueDate,
		Sequence:    domain.Sequence(body.Benchmarks),
	})
	if err != nil {
		return h.fail(c, "create", err, "")
	}
	return c.JSON(http.StatusCreated, createTaskResponse{Status: true, ID: id})
}

func (h *handler) getTask(c echo.Context) error {
	return h.read(c, "task", func(ctx context.Context, id domain.TaskID) (any, error) {
		return h.svc.Task(ctx, id)
	})
}

func (h *handler) taskMilestones(c echo.Context) error {
	return h.read(c, "milestones", func(ctx context.Context, id domain.TaskID) (any, error) {
		return h.svc.Milestones(ctx, id)
	})
}

func (h *handler) taskRemarks(c echo.Context) error {
	return h.read(c, "remarks", func(ctx context.Context, id domain.TaskID) (any, error) {
		return h.svc.Remarks(ctx, id)
	})
}

func (h *handler) taskHistory(c echo.Context) error {
	return h.read(c, "history", func(ctx context.Context, id domain.TaskID) (any, error) {
		return h.svc.History(ctx, id)
	})
}

func (h *handler) read(c echo.Context, stage string, fn func(ctx context.Context, id domain.TaskID) (any, error)) error {
	if _, err := h.identify(c); err != nil {
		return err
	}
	id, err := h.taskID(c)
	if err != nil {
		return err
	}
	out, err := fn(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, stage, err, "")
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handler) statusOp(stage string, op func(ctx context.Context, id domain.TaskID, actor domain.ActorID) (*domain.Task, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		who, err := h.identify(c)
		if err != nil {
			return err
		}
		id, err := h.taskID(c)
		if err != nil {
			return err
		}
		t, err := op(c.Request().Context(), id, who.Actor)
		if err != nil {
			return h.fail(c, stage, err, "")
		}
		return c.JSON(http.StatusOK, t)
	}
}

func (h *handler) transferTask(c echo.Context) error {
	who, err := h.identify(c)
	if err != nil {
		return err
	}
	id, err := h.taskID(c)
	if err != nil {
		return err
	}
	var body transferRequest
	if err := h.decode(c, &body); err != nil {
		return err
	}
	t, err := h.svc.Transfer(c.Request().Context(), id, body.AssignTo, who.Actor)
	if err != nil {
		return h.fail(c, "transfer", err, "")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *handler) listMilestones(c echo.Context) error {
	if _, err := h.identify(c); err != nil {
		return err
	}
	out, err := h.svc.ListMilestones(c.Request().Context())
	if err != nil {
		return h.fail(c, "catalog", err, "")
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handler) saveMilestone(c echo.Context) error {
	who, err := h.identify(c)
	if err != nil {
		return err
	}
	if who.Role != RoleSuperAdmin {
		metricsFrom(c).Fail("forbidden", nil)
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	}
	var m domain.Milestone
	if err := h.decode(c, &m); err != nil {
		return err
	}
	if err := h.svc.SaveMilestone(c.Request().Context(), m); err != nil {
		return h.fail(c, "catalog", err, "")
	}
	return c.JSON(http.StatusOK, m)
}

// sonicSerializer replaces echo's encoding/json serializer.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
