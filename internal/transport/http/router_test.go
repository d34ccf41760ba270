package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "ditmail/backend/internal/auth/jwt"
	"ditmail/backend/internal/cache"
	"ditmail/backend/internal/config"
	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/security"
	"ditmail/backend/internal/service"
	"ditmail/backend/internal/storage/memory"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, domain.Event) error { return nil }

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *memory.Store
	tokens *jwtpkg.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	lists := cache.NewMemoryListCache()
	resources := cache.NewTagCache(100, time.Minute)
	t.Cleanup(func() {
		lists.Close()
		resources.Close()
	})
	fabric := cache.NewFabric(lists, resources, zap.NewNop())
	log := zap.NewNop()
	coord := service.NewMutationCoordinator(store, fabric, nopDispatcher{}, log)
	tokens := jwtpkg.NewManager("test-secret-test-secret-test-secret", "ditmail", time.Hour)

	router := NewRouter(RouterDependencies{
		Config:         &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		Coordinator:    coord,
		MessageService: service.NewMessageService(store, fabric),
		Counts:         service.NewCountsProjection(store, fabric),
		DraftService:   service.NewDraftService(store, coord, security.NewContentFilter(), nopDispatcher{}, "ditmail.local", log),
		DraftResolver:  service.NewDraftResolver(store),
		FolderService:  service.NewFolderService(store, coord, fabric, nopDispatcher{}, log),
		LabelService:   service.NewLabelService(store, coord, fabric, nopDispatcher{}, log),
		Users:          store,
		JWTManager:     tokens,
		Logger:         log,
	})
	return &testServer{t: t, router: router, store: store, tokens: tokens}
}

func (s *testServer) seed(userID string, folder domain.Folder) *domain.Message {
	s.t.Helper()
	id := uuid.NewString()
	msg := &domain.Message{
		ID:        id,
		UserID:    userID,
		MessageID: "<" + id + "@example.com>",
		ThreadID:  "thread-" + id,
		Folder:    folder,
		From:      "sender@example.com",
		Subject:   "hello",
	}
	require.NoError(s.t, s.store.SaveMessage(context.Background(), msg))
	return msg
}

func (s *testServer) do(userID, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := s.tokens.GenerateAccessToken(userID, "org1", userID+"@ditmail.local")
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// decode 将响应中的 data 转成目标类型
func decode(t *testing.T, resp Response, out interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func reasonIn(t *testing.T, resp Response) domain.Reason {
	var data errorData
	decode(t, resp, &data)
	return data.Reason
}

func TestRouterAuth(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do("", http.MethodGet, "/v1/messages", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do("u1", http.MethodGet, "/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkUpdateEndpoint(t *testing.T) {
	s := newTestServer(t)
	mine := s.seed("u1", domain.FolderInbox)
	theirs := s.seed("u2", domain.FolderInbox)

	t.Run("部分成功", func(t *testing.T) {
		w, resp := s.do("u1", http.MethodPost, "/v1/bulk-update", map[string]interface{}{
			"action":        "archive",
			"messageIds":    []string{mine.ID, theirs.ID, "missing"},
			"currentFolder": "inbox",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1 of 3 updated", resp.Msg)

		var result domain.BulkResult
		decode(t, resp, &result)
		assert.Equal(t, []string{mine.ID}, result.Updated)
		require.Len(t, result.Failed, 2)
		assert.Equal(t, domain.BulkFailure{ID: theirs.ID, Reason: domain.ReasonNotOwner}, result.Failed[0])
		assert.Equal(t, domain.BulkFailure{ID: "missing", Reason: domain.ReasonNotFound}, result.Failed[1])

		got, err := s.store.GetMessage(context.Background(), mine.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.FolderArchive, got.Folder)
	})

	t.Run("空 ID 列表", func(t *testing.T) {
		w, resp := s.do("u1", http.MethodPost, "/v1/bulk-update", map[string]interface{}{
			"action":     "read",
			"messageIds": []string{},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, domain.ReasonInvalidInput, reasonIn(t, resp))
	})

	t.Run("缺少 action", func(t *testing.T) {
		w, _ := s.do("u1", http.MethodPost, "/v1/bulk-update", map[string]interface{}{
			"messageIds": []string{mine.ID},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMessageEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("修改已读状态", func(t *testing.T) {
		msg := s.seed("u1", domain.FolderInbox)
		w, resp := s.do("u1", http.MethodPatch, "/v1/messages/"+msg.ID, map[string]interface{}{"read": true})
		require.Equal(t, http.StatusOK, w.Code)

		var got domain.Message
		decode(t, resp, &got)
		assert.True(t, got.Read)
	})

	t.Run("同时设置多个字段", func(t *testing.T) {
		msg := s.seed("u1", domain.FolderInbox)
		w, resp := s.do("u1", http.MethodPatch, "/v1/messages/"+msg.ID, map[string]interface{}{"read": true, "starred": true})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, domain.ReasonInvalidInput, reasonIn(t, resp))
	})

	t.Run("不允许的文件夹移动", func(t *testing.T) {
		msg := s.seed("u1", domain.FolderTrash)
		w, resp := s.do("u1", http.MethodPatch, "/v1/messages/"+msg.ID, map[string]interface{}{"folder": "spam"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, domain.ReasonTransitionNotAllowed, reasonIn(t, resp))
	})

	t.Run("彻底删除", func(t *testing.T) {
		inbox := s.seed("u1", domain.FolderInbox)
		w, resp := s.do("u1", http.MethodDelete, "/v1/messages/"+inbox.ID, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, domain.ReasonDeleteNotAllowed, reasonIn(t, resp))

		trash := s.seed("u1", domain.FolderTrash)
		w, _ = s.do("u1", http.MethodDelete, "/v1/messages/"+trash.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w, resp = s.do("u1", http.MethodDelete, "/v1/messages/"+trash.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, MsgMessageNotFound, resp.Msg)
	})

	t.Run("其他用户的邮件按不存在处理", func(t *testing.T) {
		msg := s.seed("u2", domain.FolderInbox)
		w, _ := s.do("u1", http.MethodGet, "/v1/messages/"+msg.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("文件夹计数", func(t *testing.T) {
		s := newTestServer(t)
		s.seed("u1", domain.FolderInbox)
		s.seed("u1", domain.FolderInbox)
		s.seed("u1", domain.FolderSpam)

		w, resp := s.do("u1", http.MethodGet, "/v1/messages/counts", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var counts domain.FolderCounts
		decode(t, resp, &counts)
		assert.Equal(t, 2, counts[domain.FolderInbox].Total)
		assert.Equal(t, 2, counts[domain.FolderInbox].Unread)
		assert.Equal(t, 1, counts[domain.FolderSpam].Total)
		assert.Equal(t, 0, counts[domain.FolderTrash].Total)
	})

	t.Run("列表", func(t *testing.T) {
		s := newTestServer(t)
		s.seed("u1", domain.FolderInbox)
		s.seed("u1", domain.FolderArchive)

		w, resp := s.do("u1", http.MethodGet, "/v1/messages?folder=archive", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var page domain.MessagePage
		decode(t, resp, &page)
		assert.Equal(t, 1, page.Total)

		w, _ = s.do("u1", http.MethodGet, "/v1/messages?folder=*bad", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestDraftAndFolderEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("会话没有草稿", func(t *testing.T) {
		w, resp := s.do("u1", http.MethodGet, "/v1/drafts/by-thread/T1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, MsgDraftNotFound, resp.Msg)
	})

	t.Run("草稿生命周期", func(t *testing.T) {
		w, resp := s.do("u1", http.MethodPost, "/v1/drafts", map[string]interface{}{"subject": "v1"})
		require.Equal(t, http.StatusCreated, w.Code)
		var d domain.Draft
		decode(t, resp, &d)

		w, resp = s.do("u1", http.MethodPatch, "/v1/drafts/"+d.ID, map[string]interface{}{"subject": "v2"})
		require.Equal(t, http.StatusOK, w.Code)
		decode(t, resp, &d)
		assert.Equal(t, "v2", d.Subject)

		w, _ = s.do("u1", http.MethodDelete, "/v1/drafts/"+d.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w, _ = s.do("u1", http.MethodGet, "/v1/drafts/"+d.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("文件夹重名", func(t *testing.T) {
		w, _ := s.do("u1", http.MethodPost, "/v1/folders", map[string]string{"name": "Work"})
		require.Equal(t, http.StatusCreated, w.Code)

		w, resp := s.do("u1", http.MethodPost, "/v1/folders", map[string]string{"name": "Work"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, domain.ReasonDuplicateName, reasonIn(t, resp))

		w, _ = s.do("u1", http.MethodPost, "/v1/folders", map[string]string{"name": "Inbox"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
