// Package client 邮箱前端使用的 Go 客户端：类型化的 HTTP API 与乐观更新状态。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ditmail/backend/internal/domain"
)

const defaultTimeout = 15 * time.Second

// APIError 服务端返回的非 2xx 响应
type APIError struct {
	Status int
	Msg    string
	Reason domain.Reason
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Reason, e.Msg)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Msg)
}

// IsNotFound 资源已不存在。客户端视为已完成的状态，而不是失败。
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// envelope 服务端统一响应结构
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// API 邮箱 HTTP 接口客户端
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIOption 客户端选项
type APIOption func(*API)

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *API) { a.httpClient = c }
}

// NewAPI 创建客户端，baseURL 形如 http://localhost:8080/v1
func NewAPI(baseURL, token string, opts ...APIOption) *API {
	a := &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BulkUpdate POST /bulk-update
func (a *API) BulkUpdate(ctx context.Context, req domain.BulkRequest) (*domain.BulkResult, error) {
	var result domain.BulkResult
	if err := a.do(ctx, http.MethodPost, "/bulk-update", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PatchMessage PATCH /messages/{id}
func (a *API) PatchMessage(ctx context.Context, id string, patch domain.MessagePatch) (*domain.Message, error) {
	var msg domain.Message
	if err := a.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(id), patch, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage DELETE /messages/{id}
func (a *API) DeleteMessage(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil)
}

// ListMessages GET /messages
func (a *API) ListMessages(ctx context.Context, q domain.MessageQuery) (*domain.MessagePage, error) {
	params := url.Values{}
	if q.Folder != "" {
		params.Set("folder", string(q.Folder))
	}
	if q.Label != "" {
		params.Set("label", q.Label)
	}
	if q.Text != "" {
		params.Set("q", q.Text)
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	path := "/messages"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page domain.MessagePage
	if err := a.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FolderCounts GET /messages/counts
func (a *API) FolderCounts(ctx context.Context) (domain.FolderCounts, error) {
	counts := domain.FolderCounts{}
	if err := a.do(ctx, http.MethodGet, "/messages/counts", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// DraftForThread GET /drafts/by-thread/{threadId}
func (a *API) DraftForThread(ctx context.Context, threadID string) (*domain.Draft, error) {
	var d domain.Draft
	if err := a.do(ctx, http.MethodGet, "/drafts/by-thread/"+url.PathEscape(threadID), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDraft POST /drafts
func (a *API) CreateDraft(ctx context.Context, in domain.DraftInput) (*domain.Draft, error) {
	var d domain.Draft
	if err := a.do(ctx, http.MethodPost, "/drafts", in, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDraft PATCH /drafts/{id}，自动保存
func (a *API) UpdateDraft(ctx context.Context, id string, in domain.DraftInput) (*domain.Draft, error) {
	var d domain.Draft
	if err := a.do(ctx, http.MethodPatch, "/drafts/"+url.PathEscape(id), in, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDraft DELETE /drafts/{id}
func (a *API) DeleteDraft(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/drafts/"+url.PathEscape(id), nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Msg: env.Msg}
		if len(env.Data) > 0 {
			var data struct {
				Reason domain.Reason `json:"reason"`
			}
			if json.Unmarshal(env.Data, &data) == nil {
				apiErr.Reason = data.Reason
			}
		}
		if apiErr.Msg == "" {
			apiErr.Msg = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
