// Package registration implements account sign-up: register, send the
// verification email, confirm the address, notify administrators and approve.
package registration

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giftdrive/casework/internal/mail"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
)

// Store persists users. Each step writes only the columns it owns so a
// concurrent step is never reverted by a stale copy.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*users.User, error)
	FindByID(ctx context.Context, id int64) (*users.User, error)
	Create(ctx context.Context, in users.NewUser) (*users.User, error)
	// SetConfirmationCode returns users.ErrAlreadyVerified once the address is verified.
	SetConfirmationCode(ctx context.Context, id int64, code string) error
	MarkVerificationSent(ctx context.Context, id int64) error
	MarkVerified(ctx context.Context, id int64) error
	MarkApproved(ctx context.Context, id int64) error
}

// Mailer renders and delivers a named template.
type Mailer interface {
	Send(ctx context.Context, template string, msg mail.Message) error
}

// Dispatcher hands background steps to the job queue.
type Dispatcher interface {
	DispatchVerification(ctx context.Context, userID int64, rootURL string) error
	DispatchApproval(ctx context.Context, userID int64, rootURL string) error
	DispatchActivated(ctx context.Context, userID int64, rootURL string) error
}

const dispatchTimeout = 5 * time.Second

// Workflow coordinates the registration steps.
type Workflow struct {
	cfg        Config
	store      Store
	mailer     Mailer
	policy     PasswordPolicy
	codes      CodeGenerator
	dispatcher Dispatcher
	audit      shared.AuditRecorder
	logger     *slog.Logger
}

// NewWorkflow wires the workflow collaborators.
func NewWorkflow(cfg Config, store Store, mailer Mailer, policy PasswordPolicy, codes CodeGenerator, dispatcher Dispatcher, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		cfg:        cfg,
		store:      store,
		mailer:     mailer,
		policy:     policy,
		codes:      codes,
		dispatcher: dispatcher,
		audit:      shared.NopAuditRecorder{},
		logger:     logger.With(slog.String("component", "registration")),
	}
}

// WithAudit records approvals through recorder.
func (w *Workflow) WithAudit(recorder shared.AuditRecorder) *Workflow {
	if recorder != nil {
		w.audit = recorder
	}
	return w
}

// Register creates an unverified account and queues the verification email.
func (w *Workflow) Register(ctx context.Context, rootURL string, in RegistrationInput) error {
	existing, err := w.store.FindByEmail(ctx, in.Email)
	switch {
	case err == nil && existing != nil:
		return &FieldError{Field: "email", Message: msgEmailTaken}
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		w.logger.ErrorContext(ctx, "lookup email", slog.Any("error", err))
		return ErrUnknown
	}

	if reason, ok := w.policy.Validate(in.RawPassword); !ok {
		return &FieldError{Field: "password", Message: msgInvalidPassword + reason}
	}

	hash, err := w.policy.Hash(in.RawPassword)
	if err != nil {
		w.logger.ErrorContext(ctx, "hash password", slog.Any("error", err))
		return ErrUnknown
	}

	user, err := w.store.Create(ctx, users.NewUser{
		Email:         in.Email,
		PasswordHash:  hash,
		NameFirst:     in.NameFirst,
		NameLast:      in.NameLast,
		Rank:          in.Rank,
		Phone:         in.Phone,
		AffiliationID: in.AffiliationID,
	})
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			return &FieldError{Field: "email", Message: msgEmailTaken}
		}
		w.logger.ErrorContext(ctx, "create user", slog.Any("error", err))
		return ErrUnknown
	}

	w.logger.InfoContext(ctx, "user registered", slog.Int64("user_id", user.ID))
	w.dispatch(ctx, "verification", user.ID, func(ctx context.Context) error {
		return w.dispatcher.DispatchVerification(ctx, user.ID, rootURL)
	})
	return nil
}

// SendVerification stores a fresh confirmation code and emails it to the user.
// The sent flag is only set once delivery succeeds.
func (w *Workflow) SendVerification(ctx context.Context, rootURL string, user *users.User) error {
	code, err := w.codes.Generate()
	if err != nil {
		return err
	}
	if err := w.store.SetConfirmationCode(ctx, user.ID, code); err != nil {
		if errors.Is(err, users.ErrAlreadyVerified) {
			w.logger.InfoContext(ctx, "verification skipped, already verified", slog.Int64("user_id", user.ID))
			return nil
		}
		return fmt.Errorf("store confirmation code: %w", err)
	}

	err = w.mailer.Send(ctx, mail.TemplateVerifyEmail, mail.Message{
		To: user.Email,
		Data: verifyEmailData{
			User:             newMailUser(user),
			ConfirmationCode: code,
			ConfirmEmailURL:  rootURL + "/auth/confirm_email",
		},
	})
	if err != nil {
		return fmt.Errorf("send verify-email: %w", err)
	}

	if err := w.store.MarkVerificationSent(ctx, user.ID); err != nil {
		return fmt.Errorf("mark verification sent: %w", err)
	}
	w.logger.InfoContext(ctx, "verification sent", slog.Int64("user_id", user.ID))
	return nil
}

// SendVerificationByID loads the user and runs SendVerification. Accounts
// that are already verified are skipped.
func (w *Workflow) SendVerificationByID(ctx context.Context, rootURL string, userID int64) error {
	user, err := w.store.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	if user.EmailVerified {
		w.logger.InfoContext(ctx, "verification skipped, already verified", slog.Int64("user_id", userID))
		return nil
	}
	return w.SendVerification(ctx, rootURL, user)
}

// ConfirmEmail marks the address verified when the code matches and queues
// the administrator notice.
func (w *Workflow) ConfirmEmail(ctx context.Context, rootURL string, in ConfirmInput) error {
	user, err := w.store.FindByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrCodeMismatch
		}
		w.logger.ErrorContext(ctx, "load user", slog.Int64("user_id", in.UserID), slog.Any("error", err))
		return ErrUnknown
	}

	if user.ConfirmationEmail && !codeMatches(user.ConfirmationCode, in.ConfirmationCode) && !user.EmailVerified {
		return ErrCodeMismatch
	}

	if err := w.store.MarkVerified(ctx, user.ID); err != nil {
		w.logger.ErrorContext(ctx, "save verified user", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return ErrUnknown
	}

	w.logger.InfoContext(ctx, "email confirmed", slog.Int64("user_id", user.ID))
	w.dispatch(ctx, "approval", user.ID, func(ctx context.Context) error {
		return w.dispatcher.DispatchApproval(ctx, user.ID, rootURL)
	})
	return nil
}

// SendApproval tells the administrators that user is waiting for approval.
func (w *Workflow) SendApproval(ctx context.Context, rootURL string, user *users.User) error {
	err := w.mailer.Send(ctx, mail.TemplateAdminApproval, mail.Message{
		To: w.cfg.AdminAddress,
		Data: adminApprovalData{
			User: newMailUser(user),
			URL:  rootURL + "/users/needing/approval",
		},
	})
	if err != nil {
		return fmt.Errorf("send admin-approval: %w", err)
	}
	w.logger.InfoContext(ctx, "approval requested", slog.Int64("user_id", user.ID))
	return nil
}

// SendApprovalByID loads the user and runs SendApproval.
func (w *Workflow) SendApprovalByID(ctx context.Context, rootURL string, userID int64) error {
	user, err := w.store.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	return w.SendApproval(ctx, rootURL, user)
}

// SendActivatedByID emails the user that their account is active.
func (w *Workflow) SendActivatedByID(ctx context.Context, rootURL string, userID int64) error {
	user, err := w.store.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	err = w.mailer.Send(ctx, mail.TemplateAccountActivated, mail.Message{
		To:   user.Email,
		Data: accountActivatedData{User: newMailUser(user), LoginURL: rootURL + "/login"},
	})
	if err != nil {
		return fmt.Errorf("send account-activated: %w", err)
	}
	return nil
}

// Approve activates the account. Approving an active account again is a
// no-op apart from the write. No notification is sent from here.
func (w *Workflow) Approve(ctx context.Context, userID int64) error {
	if err := w.store.MarkApproved(ctx, userID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrUnknownUser
		}
		w.logger.ErrorContext(ctx, "save approved user", slog.Int64("user_id", userID), slog.Any("error", err))
		return ErrUnknown
	}

	w.recordApproval(ctx, userID)
	w.logger.InfoContext(ctx, "user approved", slog.Int64("user_id", userID))
	return nil
}

// NotifyActivated queues the "account activated" email for userID.
func (w *Workflow) NotifyActivated(ctx context.Context, rootURL string, userID int64) {
	w.dispatch(ctx, "activated", userID, func(ctx context.Context) error {
		return w.dispatcher.DispatchActivated(ctx, userID, rootURL)
	})
}

func (w *Workflow) recordApproval(ctx context.Context, userID int64) {
	entry := shared.AuditLog{
		Action:   shared.AuditUserApproved,
		Entity:   "user",
		EntityID: shared.EntityID(userID),
	}
	if actor, ok := shared.ActorFromContext(ctx); ok {
		entry.ActorID = actor.ID
	}
	if err := w.audit.Record(ctx, entry); err != nil {
		w.logger.WarnContext(ctx, "audit approval", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// dispatch enqueues a background step detached from the request lifetime.
// Failures are logged; the request has already succeeded.
func (w *Workflow) dispatch(ctx context.Context, step string, userID int64, fn func(context.Context) error) {
	if w.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		w.logger.ErrorContext(ctx, "enqueue "+step,
			slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func codeMatches(stored *string, supplied string) bool {
	if stored == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(supplied)) == 1
}
