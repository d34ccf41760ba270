package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ditmail/backend/internal/cache"
	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/storage/memory"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return d.err
}

func (d *recordingDispatcher) types() []domain.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.EventType, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	d.events = nil
	d.mu.Unlock()
}

// brokenLists 列表缓存读写正常，失效总是失败
type brokenLists struct {
	*cache.MemoryListCache
}

func (b brokenLists) InvalidateUser(context.Context, string) (int, error) {
	return 0, errors.New("redis unavailable")
}

// failingStore 邮件更新返回 updateErr。failIDs 非空时只有其中的邮件失败。
type failingStore struct {
	*memory.Store
	updateErr error
	failIDs   map[string]bool
}

func (s *failingStore) UpdateMessage(ctx context.Context, id string, change domain.MessageChange) (*domain.Message, error) {
	if s.failIDs != nil && !s.failIDs[id] {
		return s.Store.UpdateMessage(ctx, id, change)
	}
	return nil, s.updateErr
}

type fixture struct {
	ctx       context.Context
	store     *memory.Store
	lists     *cache.MemoryListCache
	resources *cache.TagCache
	fabric    *cache.Fabric
	events    *recordingDispatcher
	coord     *MutationCoordinator
	messages  *MessageService
	counts    *CountsProjection
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, memory.NewStore(), nil)
}

func newFixtureWith(t *testing.T, store *memory.Store, wrap func(*memory.Store) domain.Store) *fixture {
	t.Helper()

	lists := cache.NewMemoryListCache()
	resources := cache.NewTagCache(1000, time.Minute)
	t.Cleanup(func() {
		lists.Close()
		resources.Close()
	})

	f := &fixture{
		ctx:       context.Background(),
		store:     store,
		lists:     lists,
		resources: resources,
		fabric:    cache.NewFabric(lists, resources, zap.NewNop()),
		events:    &recordingDispatcher{},
	}

	var backend domain.Store = store
	if wrap != nil {
		backend = wrap(store)
	}
	f.coord = NewMutationCoordinator(backend, f.fabric, f.events, zap.NewNop(), WithBulkParallelism(4))
	f.messages = NewMessageService(backend, f.fabric)
	f.counts = NewCountsProjection(backend, f.fabric)
	return f
}

func (f *fixture) seed(t *testing.T, userID string, folder domain.Folder, opts ...func(*domain.Message)) *domain.Message {
	t.Helper()
	id := uuid.NewString()
	msg := &domain.Message{
		ID:        id,
		UserID:    userID,
		MessageID: "<" + id + "@example.com>",
		ThreadID:  "thread-" + id,
		Folder:    folder,
		From:      "sender@example.com",
		To:        []string{"user@ditmail.local"},
		Subject:   "hello",
	}
	for _, opt := range opts {
		opt(msg)
	}
	require.NoError(t, f.store.SaveMessage(f.ctx, msg))
	return msg
}

func inThread(threadID string) func(*domain.Message) {
	return func(m *domain.Message) { m.ThreadID = threadID }
}

func asRead(m *domain.Message) { m.Read = true }

func reasonOf(err error) domain.Reason {
	return domain.FailureReason(err)
}
