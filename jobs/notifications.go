package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/giftdrive/casework/internal/jobs"
	"github.com/giftdrive/casework/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RegistrationSteps runs the background registration steps.
type RegistrationSteps interface {
	SendVerificationByID(ctx context.Context, rootURL string, userID int64) error
	SendApprovalByID(ctx context.Context, rootURL string, userID int64) error
	SendActivatedByID(ctx context.Context, rootURL string, userID int64) error
}

// NominationNotifier sends the nomination acknowledgement.
type NominationNotifier interface {
	SendNominationReceived(ctx context.Context, rootURL string, householdID int64) error
}

// UnsentFinder lists users whose verification email never went out.
type UnsentFinder interface {
	UnsentVerifications(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error)
}

// VerificationDispatcher enqueues verification tasks.
type VerificationDispatcher interface {
	DispatchVerification(ctx context.Context, userID int64, rootURL string) error
}

const (
	sweepGrace = 10 * time.Minute
	sweepLimit = 100
)

// NotificationJobs handles every task on the notifications queue.
type NotificationJobs struct {
	Registration RegistrationSteps
	Nominations  NominationNotifier
	Unsent       UnsentFinder
	Dispatcher   VerificationDispatcher
	// RootURL is used by the sweep, which has no request to derive it from.
	RootURL string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// Handlers lists the task handlers to register on the worker.
func (j *NotificationJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskSendVerification, Handler: j.HandleSendVerification},
		{Type: TaskSendApproval, Handler: j.HandleSendApproval},
		{Type: TaskSendActivated, Handler: j.HandleSendActivated},
		{Type: TaskNominationReceived, Handler: j.HandleNominationReceived},
		{Type: TaskSweepVerification, Handler: j.HandleSweepVerification},
	}
}

// HandleSendVerification processes TaskSendVerification.
func (j *NotificationJobs) HandleSendVerification(ctx context.Context, t *asynq.Task) error {
	return j.runUserStep(ctx, t, func(ctx context.Context, p UserPayload) error {
		return j.Registration.SendVerificationByID(ctx, p.RootURL, p.UserID)
	})
}

// HandleSendApproval processes TaskSendApproval.
func (j *NotificationJobs) HandleSendApproval(ctx context.Context, t *asynq.Task) error {
	return j.runUserStep(ctx, t, func(ctx context.Context, p UserPayload) error {
		return j.Registration.SendApprovalByID(ctx, p.RootURL, p.UserID)
	})
}

// HandleSendActivated processes TaskSendActivated.
func (j *NotificationJobs) HandleSendActivated(ctx context.Context, t *asynq.Task) error {
	return j.runUserStep(ctx, t, func(ctx context.Context, p UserPayload) error {
		return j.Registration.SendActivatedByID(ctx, p.RootURL, p.UserID)
	})
}

func (j *NotificationJobs) runUserStep(ctx context.Context, t *asynq.Task, step func(context.Context, UserPayload) error) error {
	if j == nil || j.Registration == nil {
		return errors.New("notifications: registration not configured")
	}
	logger := j.logger(t.Type())
	payload, err := decodeUserPayload(t)
	if err != nil {
		j.metrics().Dropped(t.Type())
		logger.Error("malformed payload", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	logger = logger.With(slog.Int64("user_id", payload.UserID))

	tracker := j.metrics().Track(t.Type())
	err = step(ctx, payload)
	if errors.Is(err, shared.ErrNotFound) {
		j.metrics().Dropped(t.Type())
		logger.Warn("user no longer exists")
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	if err != nil {
		logger.Error("notification step failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("notification step completed")
	return tracker.End(nil)
}

// HandleNominationReceived processes TaskNominationReceived.
func (j *NotificationJobs) HandleNominationReceived(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Nominations == nil {
		return errors.New("notifications: nominations not configured")
	}
	logger := j.logger(t.Type())
	payload, err := decodeNominationPayload(t)
	if err != nil {
		j.metrics().Dropped(t.Type())
		logger.Error("malformed payload", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	logger = logger.With(slog.Int64("household_id", payload.HouseholdID))

	tracker := j.metrics().Track(t.Type())
	err = j.Nominations.SendNominationReceived(ctx, payload.RootURL, payload.HouseholdID)
	if errors.Is(err, shared.ErrNotFound) {
		j.metrics().Dropped(t.Type())
		logger.Warn("household no longer exists")
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	if err != nil {
		logger.Error("nomination email failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("nomination email sent")
	return tracker.End(nil)
}

// HandleSweepVerification re-enqueues verification for accounts registered
// more than sweepGrace ago whose email never went out.
func (j *NotificationJobs) HandleSweepVerification(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Unsent == nil || j.Dispatcher == nil {
		return errors.New("notifications: sweep not configured")
	}
	logger := j.logger(t.Type())
	if j.RootURL == "" {
		logger.Warn("sweep skipped, no root url configured")
		return nil
	}

	tracker := j.metrics().Track(t.Type())
	ids, err := j.Unsent.UnsentVerifications(ctx, j.now().Add(-sweepGrace), sweepLimit)
	if err != nil {
		logger.Error("list unsent verifications", slog.Any("error", err))
		return tracker.End(err)
	}
	requeued := 0
	for _, id := range ids {
		if err := j.Dispatcher.DispatchVerification(ctx, id, j.RootURL); err != nil {
			logger.Error("requeue verification", slog.Int64("user_id", id), slog.Any("error", err))
			return tracker.End(err)
		}
		requeued++
	}
	if requeued > 0 {
		logger.Info("verification sweep requeued users", slog.Int("count", requeued))
	}
	return tracker.End(nil)
}

func (j *NotificationJobs) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *NotificationJobs) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *NotificationJobs) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
