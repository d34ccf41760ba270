package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ditmail/backend/internal/auth/jwt"
)

// 上下文键
const (
	ContextUserID  = "userID"
	ContextOrgID   = "orgID"
	ContextAddress = "address"
)

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        log,
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		// 将用户信息存储到上下文
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextOrgID, claims.OrgID)
		c.Set(ContextAddress, strings.ToLower(claims.Address))

		c.Next()
	}
}

// ExtractToken 从请求中提取JWT token。
// WebSocket 握手无法设置请求头，因此也接受 token 查询参数。
func ExtractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}

	// 3. 从查询参数提取
	return c.Query("token")
}

// UserID 当前请求的用户 ID
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}
