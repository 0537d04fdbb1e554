package users

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mmverma/dmchat/backend/internal/auth"
	"github.com/mmverma/dmchat/backend/internal/config"
	"github.com/mmverma/dmchat/backend/internal/presence"
	"github.com/mmverma/dmchat/backend/internal/storage"
	"github.com/mmverma/dmchat/backend/internal/storage/sqlite"
)

const testSecret = "test-secret"

type testEnv struct {
	router *gin.Engine
	store  *storage.Store
	dir    *presence.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	conn, err := sqlite.New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Db.Close() })
	require.NoError(t, conn.Migrate("../../sql/schema.sql"))

	store := storage.New(conn.Db, "sqlite")
	dir := presence.NewDirectory()

	cfg := config.Config{JWTSecret: testSecret, JWTTTLMin: 60}

	r := gin.New()
	api := r.Group("/api")
	RegisterPublic(api.Group("/auth"), store, cfg)
	Register(api.Group("", auth.JWTMiddleware(testSecret)), store, dir)

	return &testEnv{router: r, store: store, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", "",
		gin.H{"username": "alice", "email": "alice@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, w.Code)

	var reg struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	require.NotEmpty(t, reg.Token)

	claims, err := auth.ParseToken(testSecret, reg.Token)
	require.NoError(t, err)
	require.NotZero(t, claims.UserId)

	// Duplicate username or email is rejected.
	w = env.do(t, http.MethodPost, "/api/auth/register", "",
		gin.H{"username": "alice", "email": "other@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "",
		gin.H{"email": "alice@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "",
		gin.H{"email": "alice@example.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "",
		gin.H{"email": "nobody@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", "",
		gin.H{"username": "alice", "email": "not-an-email", "password": "hunter22"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/register", "",
		gin.H{"username": "alice", "email": "alice@example.com", "password": "abc"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

type handleStub struct{}

func (handleStub) Send(payload []byte) bool { return true }

func TestContactListExcludesSelfAndResolvesPresence(t *testing.T) {
	env := newTestEnv(t)

	aliceID, err := env.store.CreateUser("alice", "alice@example.com", "x")
	require.NoError(t, err)
	bobID, err := env.store.CreateUser("bob", "bob@example.com", "x")
	require.NoError(t, err)
	_, err = env.store.CreateUser("carol", "carol@example.com", "x")
	require.NoError(t, err)

	env.dir.Register(bobID, handleStub{})

	tok, err := auth.NewToken(testSecret, aliceID, 60)
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/users", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Users []storage.UserSummary `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)
	require.Equal(t, "bob", resp.Users[0].Username)
	require.True(t, resp.Users[0].Online)
	require.Equal(t, "carol", resp.Users[1].Username)
	require.False(t, resp.Users[1].Online)

	// Substring search narrows the list.
	w = env.do(t, http.MethodGet, "/api/users?q=car", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp.Users = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 1)
	require.Equal(t, "carol", resp.Users[0].Username)
}
