package api

import (
	"errors"
	"log/slog"
	"net/http"

	"preptracker/internal/api/middleware"
	"preptracker/internal/store"

	"github.com/gin-gonic/gin"
)

// 统一错误响应文案。
const (
	msgUnauthorized     = "Unauthorized"
	msgValidationFailed = "Validation failed"
	msgCompanyReference = "Company not found or not permitted"
	msgNotFound         = "Not found"
	msgInternal         = "Internal server error"
)

type errorResponse struct {
	Error   string              `json:"error"`
	Details map[string][]string `json:"details,omitempty"`
}

func respondUnauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, errorResponse{Error: msgUnauthorized})
}

func respondValidation(c *gin.Context, details map[string][]string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msgValidationFailed, Details: details})
}

func respondNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, errorResponse{Error: msgNotFound})
}

// respondStoreError 把存储层错误映射为 HTTP 响应；未知错误只记录日志，不回显细节。
func (s *Server) respondStoreError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondNotFound(c)
	case errors.Is(err, store.ErrCompanyReference):
		c.JSON(http.StatusBadRequest, errorResponse{Error: msgCompanyReference})
	default:
		attrs := []any{slog.String("op", op), slog.String("error", err.Error())}
		if sess, ok := middleware.CurrentSession(c); ok {
			attrs = append(attrs, slog.String("user_id", sess.UserID))
		}
		if s.logger != nil {
			s.logger.Error("request failed", attrs...)
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: msgInternal})
	}
}

// currentUserID 读取会话中的用户 ID；缺失时直接返回 401。
func currentUserID(c *gin.Context) (string, bool) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		respondUnauthorized(c)
		return "", false
	}
	return sess.UserID, true
}
