package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giftdrive/casework/internal/auth"
	"github.com/giftdrive/casework/internal/shared"
	_ "github.com/giftdrive/casework/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type fixture struct {
	handler  *auth.Handler
	sessions *shared.SessionManager
	repo     *stubRepo
}

func newFixture(t *testing.T, active bool) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessionManager := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")

	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass1"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "user@test.local", PasswordHash: string(hashed), Role: shared.RoleNominator, Active: active}}

	handler := auth.NewHandler(nil, auth.NewService(repo), sessionManager, csrfManager)
	return &fixture{handler: handler, sessions: sessionManager, repo: repo}
}

// serve runs fn with a session loaded from req and committed afterwards.
func (f *fixture) serve(t *testing.T, req *http.Request, fn http.HandlerFunc) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)
	res := httptest.NewRecorder()
	fn(res, req)
	require.NoError(t, f.sessions.Commit(ctx, res, req, sess))
	return res, sess
}

func loginRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCSRFTokenIssued(t *testing.T) {
	f := newFixture(t, true)
	res, sess := f.serve(t, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil), f.handler.HandleCSRFForTest)

	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.NotEmpty(t, body["csrf_token"])
	assert.Equal(t, sess.Get(shared.CSRFSessionKey), body["csrf_token"])
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, true)
	res, sess := f.serve(t, loginRequest(`{"email":"user@test.local","password":"wrongpass"}`), f.handler.HandleLoginForTest)

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Contains(t, res.Body.String(), "invalid email or password")
	assert.Empty(t, sess.User())
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t, true)
	res, _ := f.serve(t, loginRequest(`{"email":"nobody@test.local","password":"whatever1"}`), f.handler.HandleLoginForTest)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newFixture(t, false)
	res, sess := f.serve(t, loginRequest(`{"email":"user@test.local","password":"correctpass1"}`), f.handler.HandleLoginForTest)

	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Contains(t, res.Body.String(), "account pending approval")
	assert.Empty(t, sess.User())
}

func TestLoginRotatesSession(t *testing.T) {
	f := newFixture(t, true)

	// Prime a session so the login request carries an existing id.
	_, primed := f.serve(t, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil), f.handler.HandleCSRFForTest)

	req := loginRequest(`{"email":"user@test.local","password":"correctpass1"}`)
	req.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: primed.ID})
	res, sess := f.serve(t, req, f.handler.HandleLoginForTest)

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "1", sess.User())
	assert.NotEqual(t, primed.ID, sess.ID)
	assert.Equal(t, int64(1), f.repo.sessions[sess.ID])

	// The pre-login id no longer resolves to the signed-in session.
	stale := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	stale.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: primed.ID})
	loaded, err := f.sessions.Load(context.Background(), stale)
	require.NoError(t, err)
	assert.Empty(t, loaded.User())
}

func TestMe(t *testing.T) {
	f := newFixture(t, true)

	res, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/auth/me", nil), f.handler.HandleMeForTest)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	login, sess := f.serve(t, loginRequest(`{"email":"user@test.local","password":"correctpass1"}`), f.handler.HandleLoginForTest)
	require.Equal(t, http.StatusOK, login.Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: sess.ID})
	res, _ = f.serve(t, req, f.handler.HandleMeForTest)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"email":"user@test.local"`)
	assert.NotContains(t, res.Body.String(), "password")
}

func TestLogout(t *testing.T) {
	f := newFixture(t, true)
	_, sess := f.serve(t, loginRequest(`{"email":"user@test.local","password":"correctpass1"}`), f.handler.HandleLoginForTest)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: sess.ID})
	res, _ := f.serve(t, req, f.handler.HandleLogoutForTest)

	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.NotContains(t, f.repo.sessions, sess.ID)
}
