package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mmverma/dmchat/backend/internal/auth"
	"github.com/mmverma/dmchat/backend/internal/presence"
	"github.com/mmverma/dmchat/backend/internal/relay"
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
	hub := relay.NewHub(store, dir)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	r := gin.New()
	api := r.Group("/api", auth.JWTMiddleware(testSecret))
	Register(api, store, hub, dir)

	return &testEnv{router: r, store: store, dir: dir}
}

func (e *testEnv) user(t *testing.T, username string) (int64, string) {
	t.Helper()
	id, err := e.store.CreateUser(username, username+"@example.com", "x")
	require.NoError(t, err)
	tok, err := auth.NewToken(testSecret, id, 60)
	require.NoError(t, err)
	return id, tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestSendPersistsMessageAndAggregate(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTok := env.user(t, "alice")
	bob, _ := env.user(t, "bob")

	w := env.do(t, http.MethodPost, "/api/messages", aliceTok,
		gin.H{"recipient_id": bob, "content": "hi"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data storage.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, alice, resp.Data.SenderID)
	require.Equal(t, bob, resp.Data.RecipientID)
	require.Equal(t, storage.StatusSent, resp.Data.Status)

	n, err := env.store.UnreadCount(bob, alice)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTok := env.user(t, "alice")
	bob, _ := env.user(t, "bob")

	// Self-send rejected.
	w := env.do(t, http.MethodPost, "/api/messages", aliceTok,
		gin.H{"recipient_id": alice, "content": "hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown recipient rejected.
	w = env.do(t, http.MethodPost, "/api/messages", aliceTok,
		gin.H{"recipient_id": int64(9999), "content": "hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Empty message rejected; media-only allowed.
	w = env.do(t, http.MethodPost, "/api/messages", aliceTok,
		gin.H{"recipient_id": bob})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/messages", aliceTok,
		gin.H{"recipient_id": bob, "media_url": "https://cdn/a.png", "media_type": "image"})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestInterleavedSendsShareOneConversation(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTok := env.user(t, "alice")
	bob, bobTok := env.user(t, "bob")

	env.do(t, http.MethodPost, "/api/messages", aliceTok, gin.H{"recipient_id": bob, "content": "a1"})
	env.do(t, http.MethodPost, "/api/messages", bobTok, gin.H{"recipient_id": alice, "content": "b1"})
	env.do(t, http.MethodPost, "/api/messages", aliceTok, gin.H{"recipient_id": bob, "content": "a2"})

	n, err := env.store.ConversationCount(alice, bob)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// Offline catch-up: the fetch is the sole path that moves an offline
// recipient's messages to read and clears the unread counter.
func TestOfflineRecipientCatchesUpOnFetch(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTok := env.user(t, "alice")
	bob, bobTok := env.user(t, "bob")

	w := env.do(t, http.MethodPost, "/api/messages", aliceTok,
		gin.H{"recipient_id": bob, "content": "hi"})
	require.Equal(t, http.StatusCreated, w.Code)
	var sent struct {
		Data storage.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	require.Equal(t, storage.StatusSent, sent.Data.Status)

	n, err := env.store.UnreadCount(bob, alice)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	w = env.do(t, http.MethodGet, "/api/messages/conversation/"+itoa(alice), bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched struct {
		Messages []storage.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	require.Len(t, fetched.Messages, 1)
	require.Equal(t, "hi", fetched.Messages[0].Content)

	n, err = env.store.UnreadCount(bob, alice)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	got, err := env.store.MessageByID(sent.Data.ID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusRead, got.Status)
}

func TestMarkReadIdempotentAndMissing(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTok := env.user(t, "alice")
	bob, bobTok := env.user(t, "bob")
	_ = alice

	w := env.do(t, http.MethodPost, "/api/messages", aliceTok,
		gin.H{"recipient_id": bob, "content": "hi"})
	var sent struct {
		Data storage.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))

	w = env.do(t, http.MethodPatch, "/api/messages/"+itoa(sent.Data.ID)+"/read", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPatch, "/api/messages/"+itoa(sent.Data.ID)+"/read", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := env.store.MessageByID(sent.Data.ID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusRead, got.Status)

	w = env.do(t, http.MethodPatch, "/api/messages/99999/read", bobTok, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListConversationsInbox(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTok := env.user(t, "alice")
	bob, bobTok := env.user(t, "bob")
	_ = alice

	env.do(t, http.MethodPost, "/api/messages", aliceTok, gin.H{"recipient_id": bob, "content": "first"})
	env.do(t, http.MethodPost, "/api/messages", aliceTok, gin.H{"recipient_id": bob, "content": "second"})

	w := env.do(t, http.MethodGet, "/api/messages/conversations", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []storage.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	require.Equal(t, "alice", resp.Conversations[0].Contact.Username)
	require.Equal(t, "second", resp.Conversations[0].LastMessage.Content)
	require.Equal(t, 2, resp.Conversations[0].UnreadCount)
	require.False(t, resp.Conversations[0].Contact.Online)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
