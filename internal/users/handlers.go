package users

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mmverma/dmchat/backend/internal/auth"
	"github.com/mmverma/dmchat/backend/internal/config"
	"github.com/mmverma/dmchat/backend/internal/httpx"
	"github.com/mmverma/dmchat/backend/internal/presence"
	"github.com/mmverma/dmchat/backend/internal/storage"
)

type Service struct {
	Store     *storage.Store
	Directory *presence.Directory
	JWTSecret string
	JWTTTLMin int
}

type registerReq struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func RegisterPublic(rg *gin.RouterGroup, store *storage.Store, cfg config.Config) {
	s := Service{
		Store:     store,
		JWTSecret: cfg.JWTSecret,
		JWTTTLMin: cfg.JWTTTLMin,
	}
	rg.POST("/register", s.register)
	rg.POST("/login", s.login)
}

func Register(rg *gin.RouterGroup, store *storage.Store, dir *presence.Directory) {
	s := Service{
		Store:     store,
		Directory: dir,
	}
	rg.POST("/auth/logout", s.logout)
	rg.GET("/users", s.list)
	rg.GET("/users/:id", s.get)
}

func (s Service) register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	taken, err := s.Store.UsernameOrEmailTaken(req.Username, req.Email)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	if taken {
		httpx.Err(c, http.StatusConflict, "username or email already in use")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "create user failed")
		return
	}

	uid, err := s.Store.CreateUser(req.Username, req.Email, hash)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "create user failed")
		return
	}

	tok, err := auth.NewToken(s.JWTSecret, uid, s.JWTTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "token generation failed")
		return
	}

	httpx.Created(c, gin.H{
		"token": tok,
		"user":  gin.H{"id": uid, "username": req.Username, "email": req.Email},
	})
}

func (s Service) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	u, hash, err := s.Store.UserByEmail(req.Email)
	if err != nil {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.Store.TouchLastSeen(u.ID)

	tok, err := auth.NewToken(s.JWTSecret, u.ID, s.JWTTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "token generation failed")
		return
	}

	httpx.OK(c, gin.H{"token": tok, "user": u})
}

// logout only records last-seen; presence itself is connection-scoped
// and clears when the relay connection drops.
func (s Service) logout(c *gin.Context) {
	uid := auth.MustUserID(c)
	if err := s.Store.TouchLastSeen(uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"message": "logged out"})
}

// list returns the contact list: everyone but the caller, with the
// online flag resolved against the presence directory. ?q= filters by
// username substring.
func (s Service) list(c *gin.Context) {
	uid := auth.MustUserID(c)

	users, err := s.Store.ListUsers(uid, c.Query("q"))
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	for i := range users {
		users[i].Online = s.Directory.IsOnline(users[i].ID)
	}

	httpx.OK(c, gin.H{"users": users})
}

func (s Service) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}

	u, err := s.Store.User(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.Err(c, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	u.Online = s.Directory.IsOnline(u.ID)

	httpx.OK(c, gin.H{"user": u})
}
