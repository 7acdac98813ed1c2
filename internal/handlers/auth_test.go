package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/minauth/apiserver/internal/logging"
	"github.com/minauth/apiserver/internal/services"
	"github.com/minauth/apiserver/internal/store"
	"github.com/minauth/apiserver/internal/token"
	"github.com/minauth/apiserver/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	users  map[string]types.User
	nextID int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[string]types.User), nextID: 1}
}

func (m *memoryRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memoryRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	u, ok := m.users[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memoryRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := m.users[user.Email]; ok {
		return types.User{}, store.ErrDuplicateEmail
	}
	user.ID = m.nextID
	m.nextID++
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.Email] = user
	return user, nil
}

func (m *memoryRepo) List(ctx context.Context) ([]types.User, error) {
	out := make([]types.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memoryRepo) count() int { return len(m.users) }

type authFixture struct {
	router *chi.Mux
	repo   *memoryRepo
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newMemoryRepo()
	userService := services.NewUserService(repo, rdb, time.Minute)
	tokens := token.NewService("handler-test-secret", time.Hour, rdb)
	log := logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, userService, tokens, log)
	})

	return &authFixture{router: router, repo: repo}
}

func (f *authFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *authFixture) register(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"firstname":        "Jo",
		"lastname":         "Do",
		"email":            email,
		"password":         password,
		"confirm_password": password,
	})
}

func (f *authFixture) login(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRegister_InvalidPayloadsCreateNothing(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]string
	}{
		{
			name:    "empty",
			payload: map[string]string{},
		},
		{
			name: "short firstname",
			payload: map[string]string{
				"firstname": "J", "lastname": "Do", "email": "a@b.com",
				"password": "secret1", "confirm_password": "secret1",
			},
		},
		{
			name: "bad email",
			payload: map[string]string{
				"firstname": "Jo", "lastname": "Do", "email": "nope",
				"password": "secret1", "confirm_password": "secret1",
			},
		},
		{
			name: "short password",
			payload: map[string]string{
				"firstname": "Jo", "lastname": "Do", "email": "a@b.com",
				"password": "12345", "confirm_password": "12345",
			},
		},
		{
			name: "confirmation mismatch",
			payload: map[string]string{
				"firstname": "Jo", "lastname": "Do", "email": "a@b.com",
				"password": "secret1", "confirm_password": "secret2",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newAuthFixture(t)
			rec := f.do(t, http.MethodPost, "/auth/register", "", tc.payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, f.repo.count(), "no user may be created on validation failure")
		})
	}
}

func TestRegister_Success(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.register(t, "a@b.com", "secret1")
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "User successfully registered", body["message"])

	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", user["email"])
	assert.NotContains(t, user, "password_hash")
	assert.NotContains(t, rec.Body.String(), "secret1")

	stored, err := f.repo.GetByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash, "password must never be stored in plaintext")
	assert.Equal(t, 1, f.repo.count())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)

	require.Equal(t, http.StatusCreated, f.register(t, "a@b.com", "secret1").Code)

	rec := f.register(t, "a@b.com", "another1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "The email has already been taken", decodeBody(t, rec)["message"])
	assert.Equal(t, 1, f.repo.count(), "duplicate registration must not add a user")
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.login(t, "nobody@b.com", "secret1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "we can not find the user with that e-mail address", body["message"])
	assert.NotContains(t, body, "access_token")
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	require.Equal(t, http.StatusCreated, f.register(t, "a@b.com", "secret1").Code)

	rec := f.login(t, "a@b.com", "wrong!!")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Incorrect Password", body["error"])
	assert.NotContains(t, body, "access_token")
}

func TestLogin_ValidationFailure(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "not-an-email",
		"password": "123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body, "email")
	assert.Contains(t, body, "password")
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	require.Equal(t, http.StatusCreated, f.register(t, "a@b.com", "secret1").Code)

	first := f.login(t, "a@b.com", "secret1")
	require.Equal(t, http.StatusOK, first.Code)
	firstBody := decodeBody(t, first)
	assert.Equal(t, "Login successfull", firstBody["message"])
	firstToken, _ := firstBody["access_token"].(string)
	require.NotEmpty(t, firstToken)

	second := f.login(t, "a@b.com", "secret1")
	require.Equal(t, http.StatusOK, second.Code)
	secondToken, _ := decodeBody(t, second)["access_token"].(string)
	assert.NotEqual(t, firstToken, secondToken, "each login must issue a distinguishable token")
}

func TestProfile_RequiresToken(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/user-profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/user-profile", "garbage.token.here", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfile_ReturnsAuthenticatedUserRedacted(t *testing.T) {
	f := newAuthFixture(t)
	require.Equal(t, http.StatusCreated, f.register(t, "a@b.com", "secret1").Code)
	require.Equal(t, http.StatusCreated, f.register(t, "c@d.com", "secret2").Code)

	login := f.login(t, "a@b.com", "secret1")
	require.Equal(t, http.StatusOK, login.Code)
	tok, _ := decodeBody(t, login)["access_token"].(string)

	rec := f.do(t, http.MethodGet, "/auth/user-profile", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "a@b.com", body["email"])
	assert.Equal(t, "Jo", body["firstname"])
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "password")
}

func TestLogout_InvalidatesToken(t *testing.T) {
	f := newAuthFixture(t)
	require.Equal(t, http.StatusCreated, f.register(t, "a@b.com", "secret1").Code)

	login := f.login(t, "a@b.com", "secret1")
	tok, _ := decodeBody(t, login)["access_token"].(string)

	rec := f.do(t, http.MethodPost, "/auth/logout", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User successfully signed out", decodeBody(t, rec)["message"])

	rec = f.do(t, http.MethodGet, "/auth/user-profile", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "token must be unusable after logout")
}

func TestRefresh_IssuesNewTokenAndRevokesOld(t *testing.T) {
	f := newAuthFixture(t)
	require.Equal(t, http.StatusCreated, f.register(t, "a@b.com", "secret1").Code)

	login := f.login(t, "a@b.com", "secret1")
	oldToken, _ := decodeBody(t, login)["access_token"].(string)

	rec := f.do(t, http.MethodPost, "/auth/refresh", oldToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	newToken, _ := decodeBody(t, rec)["access_token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, oldToken, newToken)

	// New token resolves to the same identity.
	rec = f.do(t, http.MethodGet, "/auth/user-profile", newToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@b.com", decodeBody(t, rec)["email"])

	// Old token is no longer accepted.
	rec = f.do(t, http.MethodGet, "/auth/user-profile", oldToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthLifecycleScenario(t *testing.T) {
	f := newAuthFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"firstname":        "Jo",
		"lastname":         "Do",
		"email":            "a@b.com",
		"password":         "secret1",
		"confirm_password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	user, ok := decodeBody(t, rec)["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", user["email"])

	rec = f.login(t, "a@b.com", "secret1")
	require.Equal(t, http.StatusOK, rec.Code)
	tok, _ := decodeBody(t, rec)["access_token"].(string)
	assert.NotEmpty(t, tok)

	rec = f.login(t, "a@b.com", "wrong!!")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegister_MalformedJSON(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.repo.count())
}
