package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeStore struct{ err error }

func (f *fakeStore) Health(context.Context) error { return f.err }

func TestHealthChecker(t *testing.T) {
	store := &fakeStore{}
	hc := NewHealthChecker(store, nil, zap.NewNop())

	t.Run("存储正常", func(t *testing.T) {
		w := httptest.NewRecorder()
		hc.ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		results := hc.CheckHealth(context.Background())
		assert.Equal(t, "OK", results["store"])
		assert.Equal(t, "NOT_CONFIGURED", results["redis"])
	})

	t.Run("存储不可用", func(t *testing.T) {
		store.err = errors.New("connection refused")
		w := httptest.NewRecorder()
		hc.LiveHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, hc.CheckHealth(context.Background())["store"], "ERROR")
	})
}
