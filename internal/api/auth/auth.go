package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"preptracker/internal/api/middleware"
	"preptracker/internal/model"
	"preptracker/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// UserStore 是认证流程所需的用户持久化接口。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

// Options 描述会话令牌与 Cookie 的签发参数。
type Options struct {
	JWTSecret    string
	SessionTTL   time.Duration
	CookieName   string
	CookieSecure bool
}

// Handler 提供注册、登录、登出与会话查询接口。
type Handler struct {
	users        UserStore
	jwtSecret    []byte
	ttl          time.Duration
	cookieName   string
	cookieSecure bool
	logger       *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, opts Options, logger *slog.Logger) *Handler {
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Handler{
		users:        users,
		jwtSecret:    []byte(opts.JWTSecret),
		ttl:          ttl,
		cookieName:   opts.CookieName,
		cookieSecure: opts.CookieSecure,
		logger:       logger,
	}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserView 是对外暴露的用户信息。
type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type loginResponse struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

func toUserView(u *model.User) UserView {
	return UserView{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Signup 创建新用户。
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	ctx := c.Request.Context()
	_, err := h.users.FindUserByEmail(ctx, email)
	if err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.internalError(c, "query user failed", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internalError(c, "hash password failed", err)
		return
	}

	user := model.User{
		Name:     name,
		Email:    email,
		Password: string(hash),
	}
	if err := h.users.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists"})
			return
		}
		h.internalError(c, "create user failed", err)
		return
	}

	if h.logger != nil {
		h.logger.Info("user signed up", slog.String("user_id", user.ID))
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User created", "userId": user.ID})
}

// Login 校验凭据，签发 JWT 并写入 HttpOnly Cookie。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	user, err := h.users.FindUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		h.internalError(c, "query user failed", err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := middleware.IssueToken(h.jwtSecret, user.ID, user.Email, h.ttl)
	if err != nil {
		h.internalError(c, "sign token failed", err)
		return
	}

	h.setCookie(c, token, int(h.ttl.Seconds()))
	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("user_id", user.ID))
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, User: toUserView(user)})
}

// Logout 清除会话 Cookie。令牌本身无状态，过期前仍可通过 Bearer 使用。
func (h *Handler) Logout(c *gin.Context) {
	h.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Session 返回当前登录用户。
func (h *Handler) Session(c *gin.Context) {
	session, ok := middleware.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	user, err := h.users.FindUserByID(c.Request.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		h.internalError(c, "query user failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(user)})
}

func (h *Handler) setCookie(c *gin.Context, value string, maxAge int) {
	if h.cookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, value, maxAge, "/", "", h.cookieSecure, true)
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, slog.String("error", err.Error()))
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
