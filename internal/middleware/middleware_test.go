package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ditmail/backend/internal/auth/jwt"
	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/storage/memory"
)

const testSecret = "middleware-test-secret-long-enough-for-hs256"

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthedRouter(t *testing.T, store *memory.Store, extra ...gin.HandlerFunc) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	manager := jwt.NewManager(testSecret, "ditmail", time.Hour)
	auth := NewJWTAuth(manager, zap.NewNop())

	r := gin.New()
	handlers := append([]gin.HandlerFunc{auth.RequireAuth()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	r.GET("/me", handlers...)
	return r, manager
}

func TestRequireAuth(t *testing.T) {
	r, manager := newAuthedRouter(t, memory.NewStore())
	token, err := manager.GenerateAccessToken("u1", "org1", "Alice@Ditmail.local")
	require.NoError(t, err)

	t.Run("缺少令牌", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Bearer 令牌", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", w.Body.String())
	})

	t.Run("查询参数令牌", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("无效令牌", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUserDirectorySync(t *testing.T) {
	store := memory.NewStore()
	r, manager := newAuthedRouter(t, store, UserDirectorySync(store, zap.NewNop()))

	call := func(userID, address string) int {
		token, err := manager.GenerateAccessToken(userID, "org1", address)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("首次访问写入目录", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, call("u1", "Alice@Ditmail.local"))
		user, err := store.GetUserByAddress(context.Background(), "alice@ditmail.local")
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, "org1", user.OrgID)
	})

	t.Run("地址变化时更新", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, call("u1", "alice2@ditmail.local"))
		user, err := store.GetUser(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice2@ditmail.local", user.Address)
	})

	t.Run("地址已被占用", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, call("u2", "alice2@ditmail.local"))
		_, err := store.GetUser(context.Background(), "u2")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter("test", 60, 2, nil)
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodySizeLimit(8))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPanicRecovery(t *testing.T) {
	mm := NewMonitoringMiddleware(nil, zap.NewNop())
	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
