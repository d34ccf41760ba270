package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound 所有"资源不存在"错误的根错误，可通过 errors.Is 判断
var ErrNotFound = errors.New("not found")

// 资源不存在
var (
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrDraftNotFound   = fmt.Errorf("draft %w", ErrNotFound)
	ErrThreadNotFound  = fmt.Errorf("thread %w", ErrNotFound)
	ErrFolderNotFound  = fmt.Errorf("folder %w", ErrNotFound)
	ErrLabelNotFound   = fmt.Errorf("label %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrWebhookNotFound = fmt.Errorf("webhook %w", ErrNotFound)
)

// ErrConflict 条件写入失败：记录在读取之后被并发修改
var ErrConflict = errors.New("concurrent modification")

// ErrDuplicate 唯一约束冲突
var ErrDuplicate = errors.New("already exists")

// Reason 校验失败的原因代码，批量操作中逐条返回给客户端
type Reason string

const (
	ReasonUnknownAction        Reason = "unknown_action"
	ReasonInvalidFolder        Reason = "invalid_folder"
	ReasonAlreadyInFolder      Reason = "already_in_folder"
	ReasonTransitionNotAllowed Reason = "transition_not_allowed"
	ReasonNotInOriginFolder    Reason = "not_in_origin_folder"
	ReasonNotOwner             Reason = "not_owner"
	ReasonDeleteNotAllowed     Reason = "delete_forever_not_allowed"
	ReasonConcurrentUpdate     Reason = "concurrent_update"
	ReasonInvalidReference     Reason = "invalid_reply_reference"
	ReasonInvalidLabel         Reason = "invalid_label"
	ReasonInvalidInput         Reason = "invalid_input"
	ReasonTooManyIDs           Reason = "too_many_ids"
	ReasonDuplicateName        Reason = "duplicate_name"
	ReasonNotFound             Reason = "not_found"
	ReasonStoreWrite           Reason = "store_write_failed"
	ReasonInternal             Reason = "internal_error"
)

// ValidationError 请求在写入前被拒绝
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + string(e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// NewValidationError 创建校验错误
func NewValidationError(reason Reason, detail string) error {
	return &ValidationError{Reason: reason, Detail: detail}
}

// StoreWriteError 持久化写入失败，调用方不得对缓存或事件做任何处理
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// CacheInvalidationError 缓存失效失败。写入已提交，只记录日志，不向客户端报错。
type CacheInvalidationError struct {
	Tier string
	Err  error
}

func (e *CacheInvalidationError) Error() string {
	return fmt.Sprintf("cache invalidation (%s): %v", e.Tier, e.Err)
}

func (e *CacheInvalidationError) Unwrap() error { return e.Err }

// DispatchError 事件投递失败，只记录日志
type DispatchError struct {
	Event EventType
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Event, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// FailureReason 将错误归类为客户端可见的原因代码
func FailureReason(err error) Reason {
	var ve *ValidationError
	var we *StoreWriteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Reason
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.As(err, &we):
		return ReasonStoreWrite
	default:
		return ReasonInternal
	}
}

// IsValidation 是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
