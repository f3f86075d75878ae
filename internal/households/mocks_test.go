package households

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/giftdrive/casework/internal/mail"
	"github.com/giftdrive/casework/internal/shared"
	"github.com/giftdrive/casework/internal/users"
)

type mockRepo struct {
	mu         sync.Mutex
	households map[int64]Household
	nextID     int64
	lastScope  Scope

	saveErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{households: make(map[int64]Household), nextID: 1}
}

func (m *mockRepo) Create(_ context.Context, h *Household) (*Household, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *h
	stored.ID = m.nextID
	stored.CreatedAt = time.Now()
	m.nextID++
	m.households[stored.ID] = stored
	out := stored
	return &out, nil
}

func (m *mockRepo) Update(_ context.Context, h *Household) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.households[h.ID]; !ok {
		return shared.ErrNotFound
	}
	m.households[h.ID] = *h
	return nil
}

func (m *mockRepo) SaveStatus(_ context.Context, h *Household) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.households[h.ID]
	if !ok || stored.DeletedAt != nil {
		return shared.ErrNotFound
	}
	stored.Draft = h.Draft
	stored.NominationEmailSent = h.NominationEmailSent
	stored.Reviewed = h.Reviewed
	stored.Approved = h.Approved
	stored.Reason = h.Reason
	m.households[h.ID] = stored
	return nil
}

func (m *mockRepo) SoftDelete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.households[id]
	if !ok || stored.DeletedAt != nil {
		return shared.ErrNotFound
	}
	now := time.Now()
	stored.DeletedAt = &now
	m.households[id] = stored
	return nil
}

func (m *mockRepo) FindByID(_ context.Context, id int64) (*Household, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.households[id]
	if !ok || stored.DeletedAt != nil {
		return nil, shared.ErrNotFound
	}
	return &stored, nil
}

func (m *mockRepo) List(_ context.Context, scope Scope, page shared.Page) ([]Household, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScope = scope
	var all []Household
	for id := int64(1); id < m.nextID; id++ {
		h, ok := m.households[id]
		if !ok || h.DeletedAt != nil {
			continue
		}
		if !scope.All && h.NominatorID != scope.NominatorID {
			continue
		}
		all = append(all, h)
	}
	start := min(page.Offset(), len(all))
	end := min(start+page.Limit(), len(all))
	return all[start:end], len(all), nil
}

func (m *mockRepo) get(id int64) Household {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.households[id]
}

type mockNominators struct {
	users map[int64]users.User
}

func (m *mockNominators) FindByID(_ context.Context, id int64) (*users.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

type sentMail struct {
	template string
	msg      mail.Message
}

type mockMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *mockMailer) Send(_ context.Context, template string, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{template: template, msg: msg})
	return nil
}

type dispatchCall struct {
	householdID int64
	rootURL     string
}

type mockDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (m *mockDispatcher) DispatchNominationReceived(_ context.Context, householdID int64, rootURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dispatchCall{householdID: householdID, rootURL: rootURL})
	return m.err
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.logs))
	for i, l := range r.logs {
		out[i] = l.Action
	}
	return out
}

var errBoom = errors.New("boom")

func ptr[T any](v T) *T {
	return &v
}
