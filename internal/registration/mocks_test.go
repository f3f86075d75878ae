package registration

import (
	"context"
	"errors"
	"sync"

	"github.com/giftdrive/casework/internal/mail"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
)

// ============================================================================
// MOCK STORE
// ============================================================================

type mockStore struct {
	mu     sync.Mutex
	users  map[int64]users.User
	nextID int64
	writes int

	findErr   error
	createErr error
	writeErr  error
}

func newMockStore() *mockStore {
	return &mockStore{users: make(map[int64]users.User), nextID: 1}
}

func (m *mockStore) FindByEmail(_ context.Context, email string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockStore) FindByID(_ context.Context, id int64) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

func (m *mockStore) Create(_ context.Context, in users.NewUser) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	u := users.User{
		ID:            m.nextID,
		Email:         in.Email,
		PasswordHash:  in.PasswordHash,
		NameFirst:     in.NameFirst,
		NameLast:      in.NameLast,
		Rank:          in.Rank,
		Phone:         in.Phone,
		AffiliationID: in.AffiliationID,
		Role:          shared.RoleNominator,
	}
	m.users[u.ID] = u
	m.nextID++
	return &u, nil
}

func (m *mockStore) SetConfirmationCode(_ context.Context, id int64, code string) error {
	return m.update(id, func(u *users.User) error {
		if u.EmailVerified {
			return users.ErrAlreadyVerified
		}
		u.ConfirmationCode = &code
		return nil
	})
}

func (m *mockStore) MarkVerificationSent(_ context.Context, id int64) error {
	return m.update(id, func(u *users.User) error {
		u.ConfirmationEmail = true
		return nil
	})
}

func (m *mockStore) MarkVerified(_ context.Context, id int64) error {
	return m.update(id, func(u *users.User) error {
		u.EmailVerified = true
		u.ConfirmationCode = nil
		return nil
	})
}

func (m *mockStore) MarkApproved(_ context.Context, id int64) error {
	return m.update(id, func(u *users.User) error {
		u.Approved = true
		u.Active = true
		return nil
	})
}

// update applies fn to the stored row only, like a column-scoped UPDATE.
func (m *mockStore) update(id int64, fn func(*users.User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	m.users[id] = u
	m.writes++
	return nil
}

// put overwrites a row directly for test setup.
func (m *mockStore) put(u users.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *mockStore) get(id int64) users.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// ============================================================================
// MOCK MAILER / DISPATCHER / CODES
// ============================================================================

type sentMail struct {
	Template string
	Msg      mail.Message
}

type mockMailer struct {
	sent []sentMail
	err  error
	// during runs inside Send, standing in for work that lands while SMTP is slow.
	during func()
}

func (m *mockMailer) Send(_ context.Context, template string, msg mail.Message) error {
	if m.during != nil {
		m.during()
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{Template: template, Msg: msg})
	return nil
}

type dispatched struct {
	Kind    string
	UserID  int64
	RootURL string
}

type mockDispatcher struct {
	calls []dispatched
	err   error
}

func (m *mockDispatcher) record(kind string, userID int64, rootURL string) error {
	m.calls = append(m.calls, dispatched{Kind: kind, UserID: userID, RootURL: rootURL})
	return m.err
}

func (m *mockDispatcher) DispatchVerification(_ context.Context, userID int64, rootURL string) error {
	return m.record("verification", userID, rootURL)
}

func (m *mockDispatcher) DispatchApproval(_ context.Context, userID int64, rootURL string) error {
	return m.record("approval", userID, rootURL)
}

func (m *mockDispatcher) DispatchActivated(_ context.Context, userID int64, rootURL string) error {
	return m.record("activated", userID, rootURL)
}

func (m *mockDispatcher) kinds() []string {
	out := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.Kind)
	}
	return out
}

type sequenceCodes struct {
	codes []string
	n     int
}

func (s *sequenceCodes) Generate() (string, error) {
	if s.n >= len(s.codes) {
		return "", errors.New("out of codes")
	}
	c := s.codes[s.n]
	s.n++
	return c, nil
}

// spyPolicy wraps a real policy and records whether Hash was reached.
type spyPolicy struct {
	PasswordPolicy
	hashed int
}

func (s *spyPolicy) Hash(raw string) (string, error) {
	s.hashed++
	return s.PasswordPolicy.Hash(raw)
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}
