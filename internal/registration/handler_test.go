package registration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giftdrive/casework/internal/platform/httpx"
	"github.com/giftdrive/casework/internal/users"
)

type handlerFixture struct {
	store      *mockStore
	dispatcher *mockDispatcher
	router     chi.Router
}

func newHandlerFixture(t *testing.T, configuredRoot string) *handlerFixture {
	t.Helper()
	store := newMockStore()
	dispatcher := &mockDispatcher{}
	wf := NewWorkflow(Config{AdminAddress: "admin@example.org", RootURL: configuredRoot}, store, &mockMailer{},
		NewBcryptPolicy(8, bcrypt.MinCost), &sequenceCodes{codes: []string{"c1"}}, dispatcher, nil)
	h := NewHandler(nil, wf, configuredRoot)

	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	r.Route("/users", h.MountAdminRoutes)
	return &handlerFixture{store: store, dispatcher: dispatcher, router: r}
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const registerBody = `{"email":"a@b.com","raw_password":"Str0ng!pw","name_first":"Ada","name_last":"Lovelace"}`

func TestHandleRegisterCreated(t *testing.T) {
	f := newHandlerFixture(t, "")
	rec := f.do(http.MethodPost, "/auth/register", registerBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, f.store.count())
	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, "http://example.com", f.dispatcher.calls[0].RootURL)
}

func TestHandleRegisterUsesConfiguredRoot(t *testing.T) {
	f := newHandlerFixture(t, "https://casework.example.org")
	rec := f.do(http.MethodPost, "/auth/register", registerBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://casework.example.org", f.dispatcher.calls[0].RootURL)
}

func TestHandleRegisterDuplicate(t *testing.T) {
	f := newHandlerFixture(t, "")
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/auth/register", registerBody).Code)

	rec := f.do(http.MethodPost, "/auth/register", registerBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "email", body.Field)
	assert.Equal(t, "An account with that email already exists", body.Error)
}

func TestHandleRegisterWeakPassword(t *testing.T) {
	f := newHandlerFixture(t, "")
	rec := f.do(http.MethodPost, "/auth/register", `{"email":"a@b.com","raw_password":"weak","name_first":"Ada","name_last":"L"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "password", body.Field)
	assert.True(t, strings.HasPrefix(body.Error, "Invalid password: "))
}

func TestHandleRegisterValidation(t *testing.T) {
	f := newHandlerFixture(t, "")
	rec := f.do(http.MethodPost, "/auth/register", `{"email":"not-an-email","raw_password":"Str0ng!pw","name_first":"Ada","name_last":"L"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "email", decodeBody(t, rec).Field)
	assert.Equal(t, 0, f.store.count())
}

func TestHandleRegisterBadJSON(t *testing.T) {
	f := newHandlerFixture(t, "")
	rec := f.do(http.MethodPost, "/auth/register", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterStoreFailure(t *testing.T) {
	f := newHandlerFixture(t, "")
	f.store.createErr = assert.AnError

	rec := f.do(http.MethodPost, "/auth/register", registerBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "unknown error", decodeBody(t, rec).Error)
}

func TestHandleConfirmEmail(t *testing.T) {
	f := newHandlerFixture(t, "")
	user, err := f.store.Create(context.Background(), users.NewUser{Email: "a@b.com"})
	require.NoError(t, err)
	code := "c1"
	user.ConfirmationCode = &code
	user.ConfirmationEmail = true
	f.store.put(*user)

	rec := f.do(http.MethodPost, "/auth/confirm_email", `{"user_id":1,"confirmation_code":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "confirmation code does not match", decodeBody(t, rec).Error)

	rec = f.do(http.MethodPost, "/auth/confirm_email", `{"user_id":1,"confirmation_code":"c1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.get(1).EmailVerified)
}

func TestHandleConfirmEmailUnknownUser(t *testing.T) {
	f := newHandlerFixture(t, "")
	rec := f.do(http.MethodPost, "/auth/confirm_email", `{"user_id":77,"confirmation_code":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "confirmation code does not match", decodeBody(t, rec).Error)
}

func TestHandleApprove(t *testing.T) {
	f := newHandlerFixture(t, "")
	_, err := f.store.Create(context.Background(), users.NewUser{Email: "a@b.com"})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/users/1/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.get(1).Active)
	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, "activated", f.dispatcher.calls[0].Kind)
}

func TestHandleApproveUnknown(t *testing.T) {
	f := newHandlerFixture(t, "")
	rec := f.do(http.MethodPost, "/users/5/approve", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown user", decodeBody(t, rec).Error)
	assert.Empty(t, f.dispatcher.calls)
}

func TestHandleApproveBadID(t *testing.T) {
	f := newHandlerFixture(t, "")
	rec := f.do(http.MethodPost, "/users/abc/approve", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
