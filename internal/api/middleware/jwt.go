package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const sessionKey = "session"

// Session 是当前请求的已认证用户。
type Session struct {
	UserID string
	Email  string
}

// Claims 是会话令牌携带的 JWT 声明。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

var errInvalidToken = errors.New("invalid token")

// IssueToken 为用户签发 HS256 会话令牌。
func IssueToken(secret []byte, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken 校验令牌并返回其中的声明。
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// AuthMiddleware 从会话 Cookie 或 Bearer 令牌中解析会话。
// 任何失败都返回 401 {"error":"Unauthorized"}。
func AuthMiddleware(jwtSecret, cookieName string) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		tokenStr := tokenFromRequest(c, cookieName)
		if tokenStr == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := ParseToken(secret, tokenStr)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(sessionKey, Session{UserID: claims.Subject, Email: claims.Email})
		c.Next()
	}
}

// SetSession 把会话挂到请求上下文。
func SetSession(c *gin.Context, s Session) {
	c.Set(sessionKey, s)
}

// CurrentSession 返回 AuthMiddleware 写入的会话。
func CurrentSession(c *gin.Context) (Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	if !ok || s.UserID == "" {
		return Session{}, false
	}
	return s, true
}

func tokenFromRequest(c *gin.Context, cookieName string) string {
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v
		}
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
}
