package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
)

// ErrOverlayClosed 视图已卸载
var ErrOverlayClosed = errors.New("overlay closed")

// State 单封邮件在客户端的展示状态
type State int

const (
	// Confirmed 与服务端列表一致，没有乐观修改
	Confirmed State = iota
	// OptimisticRead 已显示为已读，等待服务端确认或下一次刷新
	OptimisticRead
	// OptimisticPendingRemoval 已从当前文件夹列表中隐藏
	OptimisticPendingRemoval
)

func (s State) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case OptimisticRead:
		return "optimistic_read"
	case OptimisticPendingRemoval:
		return "optimistic_pending_removal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action 触发状态迁移的用户操作
type Action int

const (
	ActionMarkRead Action = iota
	ActionRemove
)

// transitions 乐观状态迁移表。回滚不在表中，失败的操作被移除后重新推导。
var transitions = map[State]map[Action]State{
	Confirmed: {
		ActionMarkRead: OptimisticRead,
		ActionRemove:   OptimisticPendingRemoval,
	},
	OptimisticRead: {
		ActionMarkRead: OptimisticRead,
		ActionRemove:   OptimisticPendingRemoval,
	},
	OptimisticPendingRemoval: {
		ActionMarkRead: OptimisticPendingRemoval,
		ActionRemove:   OptimisticPendingRemoval,
	},
}

// Next 返回 from 状态执行 action 后的状态
func Next(from State, action Action) State {
	return transitions[from][action]
}

// Mutator 乐观操作依赖的服务端接口，*API 实现了它
type Mutator interface {
	BulkUpdate(ctx context.Context, req domain.BulkRequest) (*domain.BulkResult, error)
	PatchMessage(ctx context.Context, id string, patch domain.MessagePatch) (*domain.Message, error)
}

// Notifier 向用户展示短暂提示
type Notifier interface {
	Toast(msg string)
}

// Navigator 当被移除的邮件正在详情页打开时离开该页面
type Navigator interface {
	LeaveMessages(ids []string)
}

// pendingOp 某封邮件上一次尚未被撤销的操作
type pendingOp struct {
	seq    uint64
	action Action
	// folder 移除操作发起时所在的文件夹
	folder domain.Folder
	done   bool
}

// entry 按发起顺序保存一封邮件的乐观操作。失败的操作直接从列表中删除，
// 展示状态始终由剩余操作从 Confirmed 依次推导。
type entry struct {
	ops       []pendingOp
	settledAt time.Time
}

// view 推导展示状态、隐藏所在的文件夹以及是否显示为已读
func (e *entry) view() (state State, folder domain.Folder, read bool) {
	state = Confirmed
	for _, op := range e.ops {
		state = Next(state, op.action)
		switch op.action {
		case ActionRemove:
			folder = op.folder
		case ActionMarkRead:
			read = true
		}
	}
	return state, folder, read
}

func (e *entry) inFlight() bool {
	for _, op := range e.ops {
		if !op.done {
			return true
		}
	}
	return false
}

func (e *entry) find(seq uint64) int {
	for i, op := range e.ops {
		if op.seq == seq {
			return i
		}
	}
	return -1
}

// Overlay 叠加在服务端列表之上的乐观状态。
// 失败只撤销对应操作本身，被后续操作覆盖的失败不提示。
type Overlay struct {
	api      Mutator
	notifier Notifier
	nav      Navigator
	log      *zap.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	seq        uint64
	closed     bool
	settledTTL time.Duration
	now        func() time.Time
}

// OverlayOption Overlay 选项
type OverlayOption func(*Overlay)

// WithSettledTTL 已确认的条目最长保留时间，超过后即使列表仍是旧数据也会丢弃
func WithSettledTTL(d time.Duration) OverlayOption {
	return func(o *Overlay) { o.settledTTL = d }
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) OverlayOption {
	return func(o *Overlay) { o.now = now }
}

// NewOverlay 创建乐观状态层，notifier 与 nav 可以为空
func NewOverlay(api Mutator, notifier Notifier, nav Navigator, log *zap.Logger, opts ...OverlayOption) *Overlay {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Overlay{
		api:        api,
		notifier:   notifier,
		nav:        nav,
		log:        log,
		entries:    make(map[string]*entry),
		settledTTL: 5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State 邮件当前的展示状态
func (o *Overlay) State(id string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[id]; ok {
		state, _, _ := e.view()
		return state
	}
	return Confirmed
}

// MarkRead 立即显示为已读，再请求服务端。失败时恢复原状态并提示。
func (o *Overlay) MarkRead(ctx context.Context, id string) error {
	seqs, err := o.begin(ActionMarkRead, "", []string{id})
	if err != nil {
		return err
	}

	read := true
	_, err = o.api.PatchMessage(ctx, id, domain.MessagePatch{Read: &read})
	if err != nil && !IsNotFound(err) {
		if o.revert(id, seqs[id]) {
			o.toast("标记已读失败")
		}
		return err
	}
	o.settle(id, seqs[id])
	return nil
}

// Remove 对 ids 执行移出当前文件夹的批量操作（archive、spam、delete）。
// 邮件立即从列表中隐藏；服务端拒绝的邮件恢复显示，部分失败提示 "N of M updated"。
func (o *Overlay) Remove(ctx context.Context, action domain.BulkAction, folder domain.Folder, ids []string) (*domain.BulkResult, error) {
	if !action.ChangesFolder() {
		return nil, domain.NewValidationError(domain.ReasonUnknownAction, string(action))
	}
	ids = domain.DedupeIDs(ids)
	seqs, err := o.begin(ActionRemove, folder, ids)
	if err != nil {
		return nil, err
	}
	if o.nav != nil {
		o.nav.LeaveMessages(ids)
	}

	result, err := o.api.BulkUpdate(ctx, domain.BulkRequest{
		Action:        string(action),
		MessageIDs:    ids,
		CurrentFolder: folder,
	})
	if err != nil {
		reverted := 0
		for _, id := range ids {
			if o.revert(id, seqs[id]) {
				reverted++
			}
		}
		if reverted > 0 {
			o.toast("操作失败，邮件已恢复")
		}
		return nil, err
	}

	for _, id := range result.Updated {
		o.settle(id, seqs[id])
	}
	failed := 0
	for _, f := range result.Failed {
		// 邮件已不存在，视为已完成
		if f.Reason == domain.ReasonNotFound {
			o.settle(f.ID, seqs[f.ID])
			continue
		}
		if o.revert(f.ID, seqs[f.ID]) {
			failed++
		}
	}
	if failed > 0 {
		o.toast(result.Summary())
	}
	return result, nil
}

// Apply 将乐观状态叠加到 folder 的服务端列表上：只在发起移除的文件夹中隐藏待移除的邮件，
// 乐观已读的邮件显示为已读
func (o *Overlay) Apply(folder domain.Folder, list []domain.Message) []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.Message, 0, len(list))
	for _, m := range list {
		if e, ok := o.entries[m.ID]; ok {
			state, from, read := e.view()
			if state == OptimisticPendingRemoval && from == folder {
				continue
			}
			if read {
				m.Read = true
			}
		}
		out = append(out, m)
	}
	return out
}

// Reconcile 每次拿到 folder 的权威列表后调用，丢弃已经没有意义的条目。
// 仍在等待响应的条目保留。已确认的已读以服务端列表为准。
func (o *Overlay) Reconcile(folder domain.Folder, list []domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	present := make(map[string]struct{}, len(list))
	for i := range list {
		present[list[i].ID] = struct{}{}
	}

	now := o.now()
	for id, e := range o.entries {
		if e.inFlight() {
			continue
		}
		if o.settledTTL > 0 && now.Sub(e.settledAt) > o.settledTTL {
			delete(o.entries, id)
			continue
		}
		_, listed := present[id]
		state, from, _ := e.view()
		switch state {
		case OptimisticPendingRemoval:
			// 原文件夹已不再列出，或者已经出现在其他文件夹
			if (from == folder && !listed) || (from != folder && listed) {
				delete(o.entries, id)
			}
		case OptimisticRead:
			delete(o.entries, id)
		}
	}
}

// Len 当前保留的条目数
func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Close 视图卸载。之后到达的响应不再修改状态，也不再提示。
func (o *Overlay) Close() {
	o.mu.Lock()
	o.closed = true
	o.entries = make(map[string]*entry)
	o.mu.Unlock()
}

func (o *Overlay) begin(action Action, folder domain.Folder, ids []string) (map[string]uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOverlayClosed
	}

	o.seq++
	seqs := make(map[string]uint64, len(ids))
	for _, id := range ids {
		e, ok := o.entries[id]
		if !ok {
			e = &entry{}
			o.entries[id] = e
		}
		op := pendingOp{seq: o.seq, action: action}
		if action == ActionRemove {
			op.folder = folder
		}
		e.ops = append(e.ops, op)
		seqs[id] = o.seq
	}
	return seqs, nil
}

// settle 服务端已接受该操作
func (o *Overlay) settle(id string, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	e, ok := o.entries[id]
	if !ok {
		return
	}
	i := e.find(seq)
	if i < 0 {
		return
	}
	e.ops[i].done = true
	if !e.inFlight() {
		e.settledAt = o.now()
	}
}

// revert 撤销该操作的乐观效果，其余操作不受影响。
// 只有展示状态因此改变时返回 true，调用方据此决定是否提示。
func (o *Overlay) revert(id string, seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	e, ok := o.entries[id]
	if !ok {
		return false
	}
	i := e.find(seq)
	if i < 0 {
		return false
	}

	before, _, _ := e.view()
	e.ops = append(e.ops[:i], e.ops[i+1:]...)
	if len(e.ops) == 0 {
		delete(o.entries, id)
		return before != Confirmed
	}
	if !e.inFlight() {
		e.settledAt = o.now()
	}
	after, _, _ := e.view()
	if after == before {
		o.log.Debug("failed action superseded", zap.String("id", id), zap.Uint64("seq", seq))
		return false
	}
	return true
}

func (o *Overlay) toast(msg string) {
	if o.notifier == nil {
		return
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if !closed {
		o.notifier.Toast(msg)
	}
}
