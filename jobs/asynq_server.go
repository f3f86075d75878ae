package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/giftdrive/casework/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueNotifications: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("task failed",
				slog.String("task", task.Type()),
				slog.Int("retried", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// enqueuer is the subset of *asynq.Client used by Client.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// taskStore is the subset of *asynq.Inspector used to clear finished tasks
// that still hold a task id.
type taskStore interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// Client submits jobs to the queue.
type Client struct {
	client enqueuer
	tasks  taskStore
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts), tasks: asynq.NewInspector(redisOpts)}, nil
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	opts = append([]asynq.Option{asynq.Queue(QueueNotifications), asynq.MaxRetry(MaxRetry)}, opts...)
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	return err
}

// DispatchVerification enqueues TaskSendVerification. A verification task
// still pending, scheduled, retrying or running is left in place. One that was
// archived after exhausting its retries is deleted and enqueued again.
func (c *Client) DispatchVerification(ctx context.Context, userID int64, rootURL string) error {
	task, err := NewUserTask(TaskSendVerification, UserPayload{UserID: userID, RootURL: rootURL})
	if err != nil {
		return err
	}
	id := taskID(TaskSendVerification, userID)
	err = c.enqueue(ctx, task, asynq.TaskID(id))
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	cleared, err := c.clearFinished(id)
	if err != nil || !cleared {
		return err
	}
	err = c.enqueue(ctx, task, asynq.TaskID(id))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// clearFinished deletes the task with id when it is archived or completed.
func (c *Client) clearFinished(id string) (bool, error) {
	if c.tasks == nil {
		return false, nil
	}
	info, err := c.tasks.GetTaskInfo(QueueNotifications, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect task %s: %w", id, err)
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return false, nil
	}
	if err := c.tasks.DeleteTask(QueueNotifications, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	return true, nil
}

// DispatchApproval enqueues TaskSendApproval.
func (c *Client) DispatchApproval(ctx context.Context, userID int64, rootURL string) error {
	task, err := NewUserTask(TaskSendApproval, UserPayload{UserID: userID, RootURL: rootURL})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// DispatchActivated enqueues TaskSendActivated.
func (c *Client) DispatchActivated(ctx context.Context, userID int64, rootURL string) error {
	task, err := NewUserTask(TaskSendActivated, UserPayload{UserID: userID, RootURL: rootURL})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// DispatchNominationReceived enqueues TaskNominationReceived.
func (c *Client) DispatchNominationReceived(ctx context.Context, householdID int64, rootURL string) error {
	task, err := NewNominationTask(NominationPayload{HouseholdID: householdID, RootURL: rootURL})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	err := c.client.Close()
	if c.tasks != nil {
		err = errors.Join(err, c.tasks.Close())
	}
	return err
}

// queueInspector is the subset of *asynq.Inspector used by Handler.
type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector queueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if inspector == nil {
		return newHandler(nil, logger)
	}
	return newHandler(inspector, logger)
}

func newHandler(inspector queueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes. Callers apply the admin requirement.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/archived", h.listArchived)
	r.Post("/archived/{id}/retry", h.retryArchived)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueNotifications})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueNotifications)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Fail(w, http.StatusServiceUnavailable, "", http.StatusText(http.StatusServiceUnavailable))
		return
	}
	out := queueHealth{Queue: QueueNotifications}
	if info != nil {
		out = queueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

// ArchivedTask is the JSON view of a dead-lettered task.
type ArchivedTask struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Payload      string    `json:"payload"`
	LastError    string    `json:"last_error"`
	Retried      int       `json:"retried"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

func (h *Handler) listArchived(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, []ArchivedTask{})
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	tasks, err := h.inspector.ListArchivedTasks(QueueNotifications, asynq.Page(page), asynq.PageSize(50))
	if err != nil {
		h.logger.Warn("list archived tasks", slog.Any("error", err))
		httpx.Fail(w, http.StatusServiceUnavailable, "", http.StatusText(http.StatusServiceUnavailable))
		return
	}
	out := make([]ArchivedTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, ArchivedTask{
			ID:           t.ID,
			Type:         t.Type,
			Payload:      string(t.Payload),
			LastError:    t.LastErr,
			Retried:      t.Retried,
			LastFailedAt: t.LastFailedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) retryArchived(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.Fail(w, http.StatusServiceUnavailable, "", http.StatusText(http.StatusServiceUnavailable))
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.inspector.RunTask(QueueNotifications, id); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			httpx.Fail(w, http.StatusNotFound, "", "unknown task")
			return
		}
		h.logger.Warn("retry archived task", slog.String("task_id", id), slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "", "retry failed")
		return
	}
	h.logger.Info("archived task requeued", slog.String("task_id", id))
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
