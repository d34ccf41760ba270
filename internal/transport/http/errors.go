package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ditmail/backend/internal/domain"
)

// 原因代码 -> 中文消息
var reasonMessages = map[domain.Reason]string{
	domain.ReasonUnknownAction:        "不支持的操作",
	domain.ReasonInvalidFolder:        "文件夹无效",
	domain.ReasonAlreadyInFolder:      "邮件已在目标文件夹中",
	domain.ReasonTransitionNotAllowed: "不允许移动到该文件夹",
	domain.ReasonNotInOriginFolder:    "邮件已不在当前文件夹",
	domain.ReasonNotOwner:             "无权操作该邮件",
	domain.ReasonDeleteNotAllowed:     "只能彻底删除垃圾邮件或已删除邮件",
	domain.ReasonConcurrentUpdate:     "邮件已被其他操作修改，请刷新后重试",
	domain.ReasonInvalidReference:     "回复的邮件不存在",
	domain.ReasonInvalidLabel:         "标签无效",
	domain.ReasonInvalidInput:         MsgInvalidRequest,
	domain.ReasonTooManyIDs:           "一次最多操作 500 封邮件",
	domain.ReasonDuplicateName:        "名称已存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		if msg, ok := reasonMessages[ve.Reason]; ok {
			return msg
		}
		return string(ve.Reason)
	case errors.Is(err, domain.ErrMessageNotFound):
		return MsgMessageNotFound
	case errors.Is(err, domain.ErrDraftNotFound):
		return MsgDraftNotFound
	case errors.Is(err, domain.ErrThreadNotFound):
		return MsgThreadNotFound
	case errors.Is(err, domain.ErrFolderNotFound):
		return MsgFolderNotFound
	case errors.Is(err, domain.ErrLabelNotFound):
		return MsgLabelNotFound
	case errors.Is(err, domain.ErrWebhookNotFound):
		return MsgWebhookNotFound
	case errors.Is(err, domain.ErrNotFound):
		return MsgResourceNotFound
	case errors.Is(err, domain.ErrDuplicate):
		return MsgDuplicate
	default:
		return MsgInternalError
	}
}

// StatusFor 错误对应的 HTTP 状态码
func StatusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		if ve.Reason == domain.ReasonDuplicateName {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorData 错误响应的数据部分，客户端按 reason 区分处理
type errorData struct {
	Reason domain.Reason `json:"reason"`
}

// respondError 将业务错误写成统一响应
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, Response{
		Code: status,
		Msg:  GetErrorMessage(err),
		Data: errorData{Reason: domain.FailureReason(err)},
	})
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidJSON    = "JSON格式错误"
	MsgInternalError  = "服务器内部错误"
	MsgDuplicate      = "资源已存在"

	// 认证相关
	MsgAuthRequired = "需要登录认证"

	// 资源不存在
	MsgResourceNotFound = "资源不存在"
	MsgMessageNotFound  = "邮件不存在"
	MsgDraftNotFound    = "草稿不存在"
	MsgThreadNotFound   = "会话不存在"
	MsgFolderNotFound   = "文件夹不存在"
	MsgLabelNotFound    = "标签不存在"
	MsgWebhookNotFound  = "Webhook 不存在"

	// 操作结果
	MsgDraftSent      = "邮件已发送"
	MsgFolderDeleted  = "文件夹已删除"
	MsgLabelDeleted   = "标签已删除"
	MsgWebhookCreated = "Webhook 创建成功，请妥善保存密钥"
)
