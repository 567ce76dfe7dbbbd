package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep-go/internal/crypto"
	"github.com/gatekeep/gatekeep-go/internal/metrics"
	"github.com/gatekeep/gatekeep-go/internal/model"
	"github.com/gatekeep/gatekeep-go/internal/repository"
	"github.com/gatekeep/gatekeep-go/internal/service"
)

type linkCatcher struct {
	mu    sync.Mutex
	links []string
}

func (c *linkCatcher) SendPasswordReset(_ context.Context, _, resetURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links = append(c.links, resetURL)
	return nil
}

func (c *linkCatcher) lastToken(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.links)
	link := c.links[len(c.links)-1]
	return link[strings.LastIndex(link, "/")+1:]
}

type testServer struct {
	handler http.Handler
	store   repository.Store
	links   *linkCatcher
	logs    *bytes.Buffer
}

func newTestServer(t *testing.T, store repository.Store) *testServer {
	t.Helper()
	if store == nil {
		store = repository.NewMemoryStore()
	}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	links := &linkCatcher{}
	issuer := crypto.NewTokenIssuer("test-secret", time.Hour)
	m := metrics.New()

	svc, err := service.NewAuthService(
		store,
		crypto.NewArgon2idHasher(crypto.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}),
		issuer,
		service.NewResetTokenManager(time.Hour),
		links,
		service.Options{PublicBaseURL: "http://localhost:8080", Logger: logger, Metrics: m},
	)
	require.NoError(t, err)

	return &testServer{
		handler: NewRouter(NewAuthHandler(svc, logger), RouterConfig{
			Verifier: issuer,
			Metrics:  m.Handler(),
			Logger:   logger,
		}),
		store: store,
		links: links,
		logs:  logs,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) register(t *testing.T, username, email, password string) model.RegisterResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[model.RegisterResponse](t, rec)
}

func (s *testServer) login(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
}

func (s *testServer) token(t *testing.T, email, password string) string {
	t.Helper()
	rec := s.login(t, email, password)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[model.LoginResponse](t, rec).Token
}

func TestScenario_ForgotAndResetPassword(t *testing.T) {
	srv := newTestServer(t, nil)

	reg := srv.register(t, "alice", "a@x.com", "Pw1!")
	assert.Equal(t, "User registered successfully", reg.Message)
	assert.Equal(t, "alice", reg.Username)
	assert.Equal(t, "a@x.com", reg.Email)
	assert.NotZero(t, reg.UserID)

	srv.token(t, "a@x.com", "Pw1!")

	rec := srv.do(t, http.MethodPost, "/api/auth/forgetPassword", "", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := srv.links.lastToken(t)

	rec = srv.do(t, http.MethodPost, "/api/auth/resetPassword/"+token, "", map[string]string{"newPassword": "Pw2!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, srv.login(t, "a@x.com", "Pw1!").Code)
	assert.Equal(t, http.StatusOK, srv.login(t, "a@x.com", "Pw2!").Code)

	rec = srv.do(t, http.MethodPost, "/api/auth/resetPassword/"+token, "", map[string]string{"newPassword": "Pw3!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"token is invalid or expired"}`, rec.Body.String())
}

func TestRegister_Errors(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.register(t, "alice", "alice@example.com", "pw")

	rec := srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "again", "email": "alice@example.com", "password": "pw",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"email already in use"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}](t, rec)
	assert.Equal(t, "invalid request", body.Error)
	assert.Contains(t, body.Fields, "username")
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "password")

	rec = srv.do(t, http.MethodPost, "/api/auth/register", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"`+strings.Repeat("a", maxBodyBytes)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

type fieldErrors struct {
	Fields map[string]string `json:"fields"`
}

func TestFieldLengthsMatchSchema(t *testing.T) {
	srv := newTestServer(t, nil)
	long := strings.Repeat("a", maxUsernameLen+1)

	rec := srv.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": long, "email": "alice@example.com", "password": "pw",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[fieldErrors](t, rec).Fields, "username")

	srv.register(t, strings.Repeat("a", maxUsernameLen), "alice@example.com", "pw")
	token := srv.token(t, "alice@example.com", "pw")

	rec = srv.do(t, http.MethodPut, "/api/auth/updateProfile", token, map[string]string{"username": long})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[fieldErrors](t, rec).Fields, "username")

	email := strings.Repeat("b", maxEmailLen) + "@example.com"
	rec = srv.do(t, http.MethodPut, "/api/auth/updateProfile", token, map[string]string{"email": email})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[fieldErrors](t, rec).Fields, "email")
}

func TestLogin_UniformFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.register(t, "alice", "alice@example.com", "right")

	wrong := srv.login(t, "alice@example.com", "wrong")
	unknown := srv.login(t, "nobody@example.com", "right")
	empty := srv.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{})

	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown, empty} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid email or password"}`, rec.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/auth/profile"},
		{http.MethodPut, "/api/auth/updateProfile"},
		{http.MethodPut, "/api/auth/changePassword"},
		{http.MethodDelete, "/api/auth/deleteAccount"},
		{http.MethodPost, "/api/auth/logout"},
	}
	for _, rt := range routes {
		for _, token := range []string{"", "garbage"} {
			rec := srv.do(t, rt.method, rt.path, token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", rt.method, rt.path)
			assert.JSONEq(t, `{"error":"not authorized"}`, rec.Body.String())
		}
	}
}

func TestProfileLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	reg := srv.register(t, "alice", "alice@example.com", "pw")
	srv.register(t, "bob", "bob@example.com", "pw")
	token := srv.token(t, "alice@example.com", "pw")

	rec := srv.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "$argon2id$")
	profile := decodeBody[model.ProfileResponse](t, rec)
	assert.Equal(t, reg.UserID, profile.User.ID)
	assert.Equal(t, "alice", profile.User.Username)
	assert.False(t, profile.User.CreatedAt.IsZero())

	rec = srv.do(t, http.MethodPut, "/api/auth/updateProfile", token, map[string]string{"username": "alicia"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPut, "/api/auth/updateProfile", token, map[string]string{"email": "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"email already in use"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPut, "/api/auth/updateProfile", token, map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPut, "/api/auth/changePassword", token, map[string]string{"oldPassword": "bad", "newPassword": "pw2"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPut, "/api/auth/changePassword", token, map[string]string{"oldPassword": "pw", "newPassword": "pw2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusOK, srv.login(t, "alice@example.com", "pw2").Code)

	rec = srv.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/auth/deleteAccount", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The token is still valid but the account is gone.
	rec = srv.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = srv.do(t, http.MethodDelete, "/api/auth/deleteAccount", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForgotPassword_Errors(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/auth/forgetPassword", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"user not found"}`, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/auth/forgetPassword", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetPassword_MalformedToken(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, token := range []string{"short", strings.Repeat("z", 64)} {
		rec := srv.do(t, http.MethodPost, "/api/auth/resetPassword/"+token, "", map[string]string{"newPassword": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"token is invalid or expired"}`, rec.Body.String())
	}

	rec := srv.do(t, http.MethodPost, "/api/auth/resetPassword/"+strings.Repeat("a", 64), "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type unavailableStore struct {
	*repository.MemoryStore
}

func (unavailableStore) GetByEmail(context.Context, string) (*model.User, error) {
	return nil, errors.New("dial tcp 127.0.0.1:3306: connection refused")
}

func TestServerErrorsHideDetails(t *testing.T) {
	srv := newTestServer(t, unavailableStore{repository.NewMemoryStore()})

	rec := srv.login(t, "alice@example.com", "pw")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "3306")

	assert.Contains(t, srv.logs.String(), "request failed")
	assert.Contains(t, srv.logs.String(), "AUTH_OPERATION_FAILED")
}

func TestRootHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "API is running", rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.login(t, "nobody@example.com", "pw")
	rec = srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gatekeep_auth_operations_total{operation="login",outcome="rejected"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
