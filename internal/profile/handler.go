package profile

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mmverma/dmchat/backend/internal/auth"
	"github.com/mmverma/dmchat/backend/internal/httpx"
	"github.com/mmverma/dmchat/backend/internal/storage"
)

type Service struct {
	Store *storage.Store
}

type updateReq struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func Register(rg *gin.RouterGroup, store *storage.Store) {
	s := Service{Store: store}
	rg.GET("/me", s.getMe)
	rg.PUT("/me", s.updateMe)
}

func (s Service) getMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	if uid == 0 {
		httpx.Err(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := s.Store.User(uid)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.Err(c, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "database error")
		return
	}

	httpx.OK(c, gin.H{"user": u})
}

func (s Service) updateMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	if req.Username != "" {
		taken, err := s.Store.UsernameTaken(req.Username, uid)
		if err != nil {
			httpx.Err(c, http.StatusInternalServerError, "db error")
			return
		}
		if taken {
			httpx.Err(c, http.StatusConflict, "username already taken")
			return
		}
	}

	if err := s.Store.UpdateProfile(uid, req.Username, req.Avatar); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "update failed")
		return
	}

	u, err := s.Store.User(uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"user": u})
}
