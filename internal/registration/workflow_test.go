package registration

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/giftdrive/casework/internal/mail"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
)

const rootURL = "https://example.org"

type WorkflowSuite struct {
	suite.Suite

	store      *mockStore
	mailer     *mockMailer
	dispatcher *mockDispatcher
	codes      *sequenceCodes
	policy     *spyPolicy
	audit      *recordingAudit
	logs       *bytes.Buffer
	workflow   *Workflow
}

func (s *WorkflowSuite) SetupTest() {
	s.store = newMockStore()
	s.mailer = &mockMailer{}
	s.dispatcher = &mockDispatcher{}
	s.codes = &sequenceCodes{codes: []string{"code-1", "code-2", "code-3"}}
	s.policy = &spyPolicy{PasswordPolicy: NewBcryptPolicy(8, bcrypt.MinCost)}
	s.audit = &recordingAudit{}
	s.logs = &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(s.logs, nil))
	s.workflow = NewWorkflow(
		Config{AdminAddress: "admin@example.org", RootURL: rootURL},
		s.store, s.mailer, s.policy, s.codes, s.dispatcher, logger,
	).WithAudit(s.audit)
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func validInput() RegistrationInput {
	return RegistrationInput{
		Email:       "a@b.com",
		RawPassword: "Str0ng!pw",
		NameFirst:   "Ada",
		NameLast:    "Lovelace",
		Rank:        "Sgt",
		Phone:       "555-0100",
	}
}

func (s *WorkflowSuite) register() users.User {
	s.Require().NoError(s.workflow.Register(context.Background(), rootURL, validInput()))
	u, err := s.store.FindByEmail(context.Background(), "a@b.com")
	s.Require().NoError(err)
	return *u
}

// ============================================================================
// STEP 1: REGISTER
// ============================================================================

func (s *WorkflowSuite) TestRegisterStoresHashAndDefaultFlags() {
	user := s.register()

	s.NotEqual("Str0ng!pw", user.PasswordHash)
	s.NoError(bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("Str0ng!pw")))
	s.False(user.ConfirmationEmail)
	s.False(user.EmailVerified)
	s.False(user.Approved)
	s.False(user.Active)
	s.Nil(user.ConfirmationCode)
	s.Equal(StateRegistered, StateOf(user))

	s.Equal([]dispatched{{Kind: "verification", UserID: user.ID, RootURL: rootURL}}, s.dispatcher.calls)
	s.Empty(s.mailer.sent, "registration itself does not send mail")
}

func (s *WorkflowSuite) TestRegisterDuplicateEmail() {
	s.register()
	s.dispatcher.calls = nil

	err := s.workflow.Register(context.Background(), rootURL, validInput())

	var fieldErr *FieldError
	s.Require().ErrorAs(err, &fieldErr)
	s.Equal("email", fieldErr.Field)
	s.Equal("An account with that email already exists", fieldErr.Message)
	s.Equal(1, s.store.count())
	s.Empty(s.dispatcher.calls)
}

func (s *WorkflowSuite) TestRegisterEmailMatchIsCaseExact() {
	s.register()
	in := validInput()
	in.Email = "A@B.com"
	s.NoError(s.workflow.Register(context.Background(), rootURL, in))
	s.Equal(2, s.store.count())
}

func (s *WorkflowSuite) TestRegisterWeakPassword() {
	in := validInput()
	in.RawPassword = "short"

	err := s.workflow.Register(context.Background(), rootURL, in)

	var fieldErr *FieldError
	s.Require().ErrorAs(err, &fieldErr)
	s.Equal("password", fieldErr.Field)
	s.Equal("Invalid password: must be at least 8 characters", fieldErr.Message)
	s.Equal(0, s.store.count())
	s.Equal(0, s.policy.hashed)
	s.Empty(s.dispatcher.calls)
}

func (s *WorkflowSuite) TestRegisterChecksEmailBeforePassword() {
	s.register()
	in := validInput()
	in.RawPassword = "short"

	var fieldErr *FieldError
	s.Require().ErrorAs(s.workflow.Register(context.Background(), rootURL, in), &fieldErr)
	s.Equal("email", fieldErr.Field)
}

func (s *WorkflowSuite) TestRegisterCreateFailureIsUnknown() {
	s.store.createErr = errors.New("connection reset by peer")

	err := s.workflow.Register(context.Background(), rootURL, validInput())

	s.ErrorIs(err, ErrUnknown)
	s.NotContains(err.Error(), "connection reset")
	s.Contains(s.logs.String(), "connection reset by peer")
	s.Empty(s.dispatcher.calls)
}

func (s *WorkflowSuite) TestRegisterUniqueViolationMapsToEmailField() {
	s.store.createErr = users.ErrEmailTaken

	var fieldErr *FieldError
	s.Require().ErrorAs(s.workflow.Register(context.Background(), rootURL, validInput()), &fieldErr)
	s.Equal("email", fieldErr.Field)
}

func (s *WorkflowSuite) TestRegisterLookupFailureIsUnknown() {
	s.store.findErr = errors.New("timeout")
	s.ErrorIs(s.workflow.Register(context.Background(), rootURL, validInput()), ErrUnknown)
}

func (s *WorkflowSuite) TestRegisterSucceedsWhenEnqueueFails() {
	s.dispatcher.err = errors.New("redis down")

	s.NoError(s.workflow.Register(context.Background(), rootURL, validInput()))
	s.Equal(1, s.store.count())
	s.Contains(s.logs.String(), "enqueue verification")
}

// ============================================================================
// STEP 2: SEND VERIFICATION
// ============================================================================

func (s *WorkflowSuite) TestSendVerificationPersistsSentCode() {
	user := s.register()

	s.Require().NoError(s.workflow.SendVerification(context.Background(), rootURL, &user))

	stored := s.store.get(user.ID)
	s.Require().NotNil(stored.ConfirmationCode)
	s.Equal("code-1", *stored.ConfirmationCode)
	s.True(stored.ConfirmationEmail)
	s.Equal(StateVerificationSent, StateOf(stored))

	s.Require().Len(s.mailer.sent, 1)
	sent := s.mailer.sent[0]
	s.Equal(mail.TemplateVerifyEmail, sent.Template)
	s.Equal("a@b.com", sent.Msg.To)
	data, ok := sent.Msg.Data.(verifyEmailData)
	s.Require().True(ok)
	s.Equal(*stored.ConfirmationCode, data.ConfirmationCode)
	s.Equal(rootURL+"/auth/confirm_email", data.ConfirmEmailURL)
}

func (s *WorkflowSuite) TestSendVerificationWritesTwice() {
	user := s.register()
	before := s.store.writes

	s.Require().NoError(s.workflow.SendVerification(context.Background(), rootURL, &user))
	s.Equal(before+2, s.store.writes)
}

func (s *WorkflowSuite) TestApproveDuringVerificationSendIsKept() {
	user := s.register()
	s.mailer.during = func() {
		s.Require().NoError(s.workflow.Approve(context.Background(), user.ID))
	}

	s.Require().NoError(s.workflow.SendVerification(context.Background(), rootURL, &user))

	stored := s.store.get(user.ID)
	s.True(stored.Approved)
	s.True(stored.Active)
	s.True(stored.ConfirmationEmail)
}

func (s *WorkflowSuite) TestConfirmDuringVerificationSendIsKept() {
	user := s.register()
	s.mailer.during = func() {
		s.Require().NoError(s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: "code-1"}))
	}

	s.Require().NoError(s.workflow.SendVerification(context.Background(), rootURL, &user))

	stored := s.store.get(user.ID)
	s.True(stored.EmailVerified)
	s.Nil(stored.ConfirmationCode, "a verified account holds no code")
}

func (s *WorkflowSuite) TestSendVerificationStaleCopyOfVerifiedUser() {
	user := s.register()
	verified := s.store.get(user.ID)
	verified.EmailVerified = true
	s.store.put(verified)

	s.NoError(s.workflow.SendVerification(context.Background(), rootURL, &user))
	s.Empty(s.mailer.sent)
	s.Nil(s.store.get(user.ID).ConfirmationCode)
}

func (s *WorkflowSuite) TestVerifyEmailPayloadOmitsSecrets() {
	user := s.register()
	s.Require().NoError(s.workflow.SendVerification(context.Background(), rootURL, &user))

	s.Require().Len(s.mailer.sent, 1)
	data := s.mailer.sent[0].Msg.Data.(verifyEmailData)
	s.Equal(mailUser{ID: user.ID, Email: "a@b.com", NameFirst: "Ada", NameLast: "Lovelace", Rank: "Sgt", Phone: "555-0100"}, data.User)
}

func (s *WorkflowSuite) TestSendVerificationMailFailureKeepsCode() {
	user := s.register()
	s.mailer.err = errors.New("smtp 451")

	err := s.workflow.SendVerification(context.Background(), rootURL, &user)

	s.Require().Error(err)
	stored := s.store.get(user.ID)
	s.Require().NotNil(stored.ConfirmationCode)
	s.Equal("code-1", *stored.ConfirmationCode)
	s.False(stored.ConfirmationEmail)
}

func (s *WorkflowSuite) TestSendVerificationRetryIssuesFreshCode() {
	user := s.register()
	s.mailer.err = errors.New("smtp 451")
	s.Require().Error(s.workflow.SendVerificationByID(context.Background(), rootURL, user.ID))

	s.mailer.err = nil
	s.Require().NoError(s.workflow.SendVerificationByID(context.Background(), rootURL, user.ID))

	stored := s.store.get(user.ID)
	s.Equal("code-2", *stored.ConfirmationCode)
	s.True(stored.ConfirmationEmail)
}

func (s *WorkflowSuite) TestSendVerificationByIDSkipsVerifiedUser() {
	user := s.register()
	user.EmailVerified = true
	s.store.put(user)

	s.NoError(s.workflow.SendVerificationByID(context.Background(), rootURL, user.ID))
	s.Empty(s.mailer.sent)
	s.Nil(s.store.get(user.ID).ConfirmationCode)
}

func (s *WorkflowSuite) TestSendVerificationByIDUnknownUser() {
	err := s.workflow.SendVerificationByID(context.Background(), rootURL, 404)
	s.ErrorIs(err, shared.ErrNotFound)
}

// ============================================================================
// STEP 3: CONFIRM EMAIL
// ============================================================================

func (s *WorkflowSuite) sentUser() users.User {
	user := s.register()
	s.Require().NoError(s.workflow.SendVerification(context.Background(), rootURL, &user))
	s.dispatcher.calls = nil
	return s.store.get(user.ID)
}

func (s *WorkflowSuite) TestConfirmEmailUnknownUser() {
	err := s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: 99, ConfirmationCode: "x"})
	s.ErrorIs(err, ErrCodeMismatch)
	s.Equal("confirmation code does not match", err.Error())
}

func (s *WorkflowSuite) TestConfirmEmailCorrectCode() {
	user := s.sentUser()

	err := s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: *user.ConfirmationCode})
	s.Require().NoError(err)

	stored := s.store.get(user.ID)
	s.True(stored.EmailVerified)
	s.Nil(stored.ConfirmationCode)
	s.Equal(StateEmailVerified, StateOf(stored))
	s.Equal([]string{"approval"}, s.dispatcher.kinds())
}

func (s *WorkflowSuite) TestConfirmEmailWrongCode() {
	user := s.sentUser()

	err := s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: "wrong"})
	s.ErrorIs(err, ErrCodeMismatch)

	stored := s.store.get(user.ID)
	s.False(stored.EmailVerified)
	s.NotNil(stored.ConfirmationCode)
	s.Empty(s.dispatcher.calls)
}

// The mismatch rule only applies while a verification email is outstanding
// and the user is unverified. These two cases pin that behavior.

func (s *WorkflowSuite) TestConfirmEmailAgainAfterVerificationSucceeds() {
	user := s.sentUser()
	oldCode := *user.ConfirmationCode
	s.Require().NoError(s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: oldCode}))

	err := s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: oldCode})

	s.NoError(err)
	stored := s.store.get(user.ID)
	s.True(stored.EmailVerified)
	s.Nil(stored.ConfirmationCode)
	s.Equal([]string{"approval", "approval"}, s.dispatcher.kinds())
}

func (s *WorkflowSuite) TestConfirmEmailBeforeAnyEmailSentSucceeds() {
	user := s.register()
	s.dispatcher.calls = nil

	err := s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: "anything"})

	s.NoError(err)
	s.True(s.store.get(user.ID).EmailVerified)
}

func (s *WorkflowSuite) TestConfirmEmailSaveFailure() {
	user := s.sentUser()
	s.store.writeErr = errors.New("disk full")

	err := s.workflow.ConfirmEmail(context.Background(), rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: *user.ConfirmationCode})
	s.ErrorIs(err, ErrUnknown)
	s.Empty(s.dispatcher.calls)
}

// ============================================================================
// STEP 4: SEND APPROVAL
// ============================================================================

func (s *WorkflowSuite) TestSendApprovalMailsAdmin() {
	user := s.register()
	writes := s.store.writes

	s.Require().NoError(s.workflow.SendApprovalByID(context.Background(), rootURL, user.ID))

	s.Require().Len(s.mailer.sent, 1)
	sent := s.mailer.sent[0]
	s.Equal(mail.TemplateAdminApproval, sent.Template)
	s.Equal("admin@example.org", sent.Msg.To)
	data, ok := sent.Msg.Data.(adminApprovalData)
	s.Require().True(ok)
	s.Equal(rootURL+"/users/needing/approval", data.URL)
	s.Equal(user.ID, data.User.ID)
	s.Equal(writes, s.store.writes, "no state mutation")
}

func (s *WorkflowSuite) TestSendApprovalMailFailure() {
	user := s.register()
	s.mailer.err = errors.New("smtp down")
	s.Error(s.workflow.SendApproval(context.Background(), rootURL, &user))
}

// ============================================================================
// STEP 5: APPROVE
// ============================================================================

func (s *WorkflowSuite) TestApproveUnknownUser() {
	err := s.workflow.Approve(context.Background(), 42)
	s.ErrorIs(err, ErrUnknownUser)
	s.Equal("unknown user", err.Error())
	s.Equal(0, s.store.writes)
	s.Empty(s.audit.logs)
}

func (s *WorkflowSuite) TestApproveIsIdempotent() {
	user := s.register()
	s.dispatcher.calls = nil

	s.Require().NoError(s.workflow.Approve(context.Background(), user.ID))
	first := s.store.get(user.ID)
	s.Require().NoError(s.workflow.Approve(context.Background(), user.ID))
	second := s.store.get(user.ID)

	s.True(first.Approved)
	s.True(first.Active)
	s.Equal(first, second)
	s.Empty(s.dispatcher.calls, "approve sends no notification")
}

func (s *WorkflowSuite) TestApproveRecordsActor() {
	user := s.register()
	ctx := shared.ContextWithActor(context.Background(), shared.Actor{ID: 9, Role: shared.RoleAdmin})

	s.Require().NoError(s.workflow.Approve(ctx, user.ID))

	s.Require().Len(s.audit.logs, 1)
	s.Equal(shared.AuditUserApproved, s.audit.logs[0].Action)
	s.Equal(int64(9), s.audit.logs[0].ActorID)
	s.Equal(shared.EntityID(user.ID), s.audit.logs[0].EntityID)
}

func (s *WorkflowSuite) TestNotifyActivatedDispatches() {
	s.workflow.NotifyActivated(context.Background(), rootURL, 5)
	s.Equal([]dispatched{{Kind: "activated", UserID: 5, RootURL: rootURL}}, s.dispatcher.calls)
}

func (s *WorkflowSuite) TestSendActivatedByID() {
	user := s.register()
	s.Require().NoError(s.workflow.SendActivatedByID(context.Background(), rootURL, user.ID))
	s.Require().Len(s.mailer.sent, 1)
	s.Equal(mail.TemplateAccountActivated, s.mailer.sent[0].Template)
	s.Equal("a@b.com", s.mailer.sent[0].Msg.To)
}

// ============================================================================
// END TO END
// ============================================================================

func (s *WorkflowSuite) TestRegisterConfirmApprove() {
	ctx := context.Background()
	s.Require().NoError(s.workflow.Register(ctx, rootURL, validInput()))
	s.Require().Equal(1, s.store.count())

	// The worker picks up the queued verification.
	call := s.dispatcher.calls[0]
	s.Require().NoError(s.workflow.SendVerificationByID(ctx, call.RootURL, call.UserID))

	user := s.store.get(call.UserID)
	s.False(user.Active)
	s.Require().NotNil(user.ConfirmationCode)

	s.Require().NoError(s.workflow.ConfirmEmail(ctx, rootURL, ConfirmInput{UserID: user.ID, ConfirmationCode: *user.ConfirmationCode}))
	s.True(s.store.get(user.ID).EmailVerified)
	s.True(s.store.get(user.ID).PendingApproval())

	s.Require().NoError(s.workflow.Approve(ctx, user.ID))
	final := s.store.get(user.ID)
	s.True(final.Active)
	s.Equal(StateActive, StateOf(final))
}

func TestFieldErrorMessages(t *testing.T) {
	err := &FieldError{Field: "email", Message: "taken"}
	assert.Equal(t, "email: taken", err.Error())
	assert.Equal(t, "taken", shared.UserSafeMessage(err))
}

func TestCodeMatches(t *testing.T) {
	code := "abc"
	require.True(t, codeMatches(&code, "abc"))
	require.False(t, codeMatches(&code, "abd"))
	require.False(t, codeMatches(nil, ""))
}
