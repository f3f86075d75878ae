package jobs

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/hibiken/asynq"
)

const (
	// QueueNotifications carries every outgoing email task.
	QueueNotifications = "notifications"
	// MaxRetry bounds delivery attempts before a task is archived.
	MaxRetry = 5

	// TaskSendVerification emails the confirmation code to a new user.
	TaskSendVerification = "registration:send_verification"
	// TaskSendApproval tells administrators a user is awaiting approval.
	TaskSendApproval = "registration:send_approval"
	// TaskSendActivated tells a user their account is active.
	TaskSendActivated = "registration:send_activated"
	// TaskSweepVerification re-enqueues verification for users whose email was
	// never sent.
	TaskSweepVerification = "registration:sweep_verification"
	// TaskNominationReceived acknowledges a submitted household nomination.
	TaskNominationReceived = "households:nomination_received"
)

var errInvalidPayload = errors.New("jobs: invalid payload")

// UserPayload identifies the user a registration task acts on.
type UserPayload struct {
	UserID  int64  `json:"user_id"`
	RootURL string `json:"root_url"`
}

func (p UserPayload) validate() error {
	if p.UserID <= 0 {
		return errInvalidPayload
	}
	return nil
}

// NominationPayload identifies a submitted household.
type NominationPayload struct {
	HouseholdID int64  `json:"household_id"`
	RootURL     string `json:"root_url"`
}

func (p NominationPayload) validate() error {
	if p.HouseholdID <= 0 {
		return errInvalidPayload
	}
	return nil
}

// NewUserTask constructs one of the registration tasks.
func NewUserTask(taskType string, payload UserPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewNominationTask constructs a TaskNominationReceived task.
func NewNominationTask(payload NominationPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNominationReceived, data), nil
}

// NewSweepTask constructs the periodic verification sweep.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSweepVerification, nil)
}

func decodeUserPayload(t *asynq.Task) (UserPayload, error) {
	var payload UserPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, payload.validate()
}

func decodeNominationPayload(t *asynq.Task) (NominationPayload, error) {
	var payload NominationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, payload.validate()
}

// taskID keeps at most one live task per step and entity.
func taskID(taskType string, id int64) string {
	return taskType + ":" + strconv.FormatInt(id, 10)
}
