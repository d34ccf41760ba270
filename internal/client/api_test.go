package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ditmail/backend/internal/domain"
)

func TestAPI(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bulk-update", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req domain.BulkRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"code": 200,
			"msg":  "1 of 2 updated",
			"data": domain.BulkResult{
				Updated: req.MessageIDs[:1],
				Failed:  []domain.BulkFailure{{ID: req.MessageIDs[1], Reason: domain.ReasonNotOwner}},
			},
		})
	})
	mux.HandleFunc("/v1/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"code": 422,
				"msg":  "不允许移动到该文件夹",
				"data": map[string]string{"reason": "transition_not_allowed"},
			})
		}
	})
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "archive", r.URL.Query().Get("folder"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"code": 200,
			"data": domain.MessagePage{Items: []domain.Message{{ID: "m1"}}, Total: 1, Page: 2, PageSize: 50},
		})
	})
	mux.HandleFunc("/v1/drafts/by-thread/T1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"code": 404, "msg": "草稿不存在"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	api := NewAPI(srv.URL+"/v1/", "tok")

	t.Run("批量操作", func(t *testing.T) {
		result, err := api.BulkUpdate(ctx, domain.BulkRequest{Action: "archive", MessageIDs: []string{"a", "b"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, result.Updated)
		assert.Equal(t, domain.ReasonNotOwner, result.Failed[0].Reason)
	})

	t.Run("校验错误带原因代码", func(t *testing.T) {
		folder := domain.FolderSpam
		_, err := api.PatchMessage(ctx, "m1", domain.MessagePatch{Folder: &folder})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
		assert.Equal(t, domain.ReasonTransitionNotAllowed, apiErr.Reason)
		assert.False(t, IsNotFound(err))
	})

	t.Run("删除无响应体", func(t *testing.T) {
		assert.NoError(t, api.DeleteMessage(ctx, "m1"))
	})

	t.Run("列表查询参数", func(t *testing.T) {
		page, err := api.ListMessages(ctx, domain.MessageQuery{Folder: domain.FolderArchive, Page: 2})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, "m1", page.Items[0].ID)
	})

	t.Run("不存在", func(t *testing.T) {
		_, err := api.DraftForThread(ctx, "T1")
		assert.True(t, IsNotFound(err))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
