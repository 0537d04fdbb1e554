package messages

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mmverma/dmchat/backend/internal/auth"
	"github.com/mmverma/dmchat/backend/internal/httpx"
	"github.com/mmverma/dmchat/backend/internal/presence"
	"github.com/mmverma/dmchat/backend/internal/relay"
	"github.com/mmverma/dmchat/backend/internal/storage"
)

type Service struct {
	Store     *storage.Store
	Hub       *relay.Hub
	Directory *presence.Directory
}

type sendReq struct {
	RecipientID int64  `json:"recipient_id" binding:"required"`
	Content     string `json:"content"`
	MediaURL    string `json:"media_url"`
	MediaType   string `json:"media_type" binding:"omitempty,oneof=image audio video document"`
}

type pageReq struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func Register(rg *gin.RouterGroup, store *storage.Store, hub *relay.Hub, dir *presence.Directory) {
	s := Service{
		Store:     store,
		Hub:       hub,
		Directory: dir,
	}
	rg.POST("/messages", s.send)
	rg.GET("/messages/conversation/:userId", s.fetchConversation)
	rg.GET("/messages/conversations", s.listConversations)
	rg.PATCH("/messages/:id/read", s.markRead)
}

// send durably records the message, updates the conversation
// aggregate, answers the sender with the canonical record, then
// relays to the recipient if connected.
func (s Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	if req.RecipientID == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot message yourself")
		return
	}
	if req.Content == "" && req.MediaURL == "" {
		httpx.Err(c, http.StatusBadRequest, "empty message")
		return
	}
	if ok, err := s.Store.UserExists(req.RecipientID); err != nil || !ok {
		httpx.Err(c, http.StatusBadRequest, "invalid recipient")
		return
	}

	m, err := s.Store.CreateMessage(uid, req.RecipientID, req.Content, req.MediaURL, req.MediaType)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "send failed")
		return
	}
	if err := s.Store.BumpConversation(uid, req.RecipientID, m.ID, m.CreatedAt); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "send failed")
		return
	}

	sender, err := s.Store.User(uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "send failed")
		return
	}

	httpx.Created(c, gin.H{"data": m})

	// Best effort; the recipient catches up on next fetch if offline.
	s.Hub.PushMessage(m, sender)
}

// fetchConversation pages the pair's history oldest to newest and, as
// a side effect, bulk-marks the peer's messages read and resets the
// caller's unread counter. This is how an offline recipient catches
// up.
func (s Service) fetchConversation(c *gin.Context) {
	uid := auth.MustUserID(c)
	peerID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}

	var q pageReq
	_ = c.BindQuery(&q)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}

	msgs, err := s.Store.ConversationPage(uid, peerID, q.Page, q.Limit)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	if err := s.Store.MarkConversationRead(uid, peerID); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	httpx.OK(c, gin.H{"messages": msgs})
}

// markRead transitions a single message to read (live-view case) and
// pushes a receipt to the original sender if online.
func (s Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid message id")
		return
	}

	m, err := s.Store.MarkMessageRead(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.Err(c, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	httpx.OK(c, gin.H{"data": m})

	s.Hub.PushReadReceipt(m.SenderID, m.ID, uid)
}

func (s Service) listConversations(c *gin.Context) {
	uid := auth.MustUserID(c)

	list, err := s.Store.ListConversations(uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	for i := range list {
		list[i].Contact.Online = s.Directory.IsOnline(list[i].Contact.ID)
	}

	httpx.OK(c, gin.H{"conversations": list})
}
