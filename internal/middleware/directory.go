package middleware

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
)

// UserDirectorySync 将令牌中的用户同步到用户目录，供投递时按地址查找收件人。
// 必须放在 RequireAuth 之后。
func UserDirectorySync(users domain.UserRepository, log *zap.Logger) gin.HandlerFunc {
	// userID -> address，已同步过的用户不再访问存储
	var known sync.Map

	return func(c *gin.Context) {
		userID := c.GetString(ContextUserID)
		address := c.GetString(ContextAddress)
		if userID == "" || address == "" {
			c.Next()
			return
		}
		if v, ok := known.Load(userID); ok && v.(string) == address {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		user, err := users.GetUser(ctx, userID)
		switch {
		case err == nil && user.Address == address && user.OrgID == c.GetString(ContextOrgID):
		case err == nil || errors.Is(err, domain.ErrNotFound):
			if user == nil {
				user = &domain.User{ID: userID}
			}
			user.Address = address
			user.OrgID = c.GetString(ContextOrgID)
			if err := users.SaveUser(ctx, user); err != nil {
				if errors.Is(err, domain.ErrDuplicate) {
					log.Warn("address owned by another user", zap.String("user", userID), zap.String("address", address))
					abort(c, http.StatusConflict, "address already in use")
					return
				}
				log.Error("failed to sync user", zap.String("user", userID), zap.Error(err))
				c.Next()
				return
			}
		default:
			log.Error("failed to load user", zap.String("user", userID), zap.Error(err))
			c.Next()
			return
		}

		known.Store(userID, address)
		c.Next()
	}
}
