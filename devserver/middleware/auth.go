package middleware

import (
	"net/http"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/gin-gonic/gin"
	"github.com/joshyvodetaene/chatual-sub002/devserver/token"
)

const (
	// UsernameKey 是上下文中存储用户名的键
	UsernameKey = "username"
)

// AuthConfig 认证中间件配置
type AuthConfig struct {
	tokens *token.Manager
	logger clog.Logger
}

// NewAuthConfig 创建认证配置
func NewAuthConfig(tokens *token.Manager, logger clog.Logger) *AuthConfig {
	return &AuthConfig{
		tokens: tokens,
		logger: logger,
	}
}

// RequireAuth 返回一个需要认证的中间件
// 从请求头或查询参数中获取 token 并验证
func (a *AuthConfig) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, err := a.extractAndValidate(c)
		if err != nil {
			a.logger.Warn("authentication failed",
				clog.String("client_ip", c.ClientIP()),
				clog.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized: " + err.Error(),
			})
			return
		}

		// 将用户名存入上下文
		c.Set(UsernameKey, username)
		c.Next()
	}
}

// extractAndValidate 从请求中提取并验证 token
func (a *AuthConfig) extractAndValidate(c *gin.Context) (string, error) {
	// 从请求头获取 token，支持 "Bearer <token>" 格式
	raw := c.GetHeader("Authorization")
	if raw != "" {
		if strings.HasPrefix(raw, "Bearer ") {
			raw = strings.TrimPrefix(raw, "Bearer ")
		}
	} else {
		// WebSocket 握手无法携带自定义请求头，从查询参数取
		raw = c.Query("token")
	}

	if raw == "" {
		return "", ErrMissingToken
	}

	username, err := a.tokens.Parse(raw)
	if err != nil {
		return "", ErrInvalidToken
	}
	return username, nil
}

// GetUsername 从上下文获取用户名
func GetUsername(c *gin.Context) (string, bool) {
	username, exists := c.Get(UsernameKey)
	if !exists {
		return "", false
	}
	return username.(string), true
}

// MustGetUsername 从上下文获取用户名，如果不存在则 panic
func MustGetUsername(c *gin.Context) string {
	username, exists := GetUsername(c)
	if !exists {
		panic("username not found in context")
	}
	return username
}

// 错误定义
var (
	ErrMissingToken = &AuthError{Message: "missing authentication token"}
	ErrInvalidToken = &AuthError{Message: "invalid authentication token"}
)

// AuthError 认证错误
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}
