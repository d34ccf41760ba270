package httptransport

import (
	"github.com/gin-gonic/gin"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/middleware"
)

// currentUser 从认证上下文构造当前用户
func currentUser(c *gin.Context) *domain.User {
	return &domain.User{
		ID:      c.GetString(middleware.ContextUserID),
		OrgID:   c.GetString(middleware.ContextOrgID),
		Address: c.GetString(middleware.ContextAddress),
	}
}

// bulkUpdate godoc
// @Summary 批量操作邮件
// @Description 对多封邮件执行同一操作，逐条返回结果，部分失败不影响其他邮件
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body domain.BulkRequest true "批量操作"
// @Success 200 {object} Response{data=domain.BulkResult}
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /v1/bulk-update [post]
func (h *Handler) bulkUpdate(c *gin.Context) {
	var req domain.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	result, err := h.coordinator.ApplyBulk(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	SuccessWithMsg(c, result.Summary(), result)
}

// patchMessage godoc
// @Summary 修改邮件状态
// @Description 请求体只能包含 read、starred、folder 中的一个字段
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path string true "邮件 ID"
// @Param patch body domain.MessagePatch true "变更"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /v1/messages/{id} [patch]
func (h *Handler) patchMessage(c *gin.Context) {
	var patch domain.MessagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	cmd, err := patch.Command()
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	msg, err := h.coordinator.ApplySingle(c.Request.Context(), middleware.UserID(c), c.Param("id"), cmd)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, msg)
}

// deleteMessage godoc
// @Summary 彻底删除邮件
// @Description 只允许删除垃圾邮件和已删除文件夹中的邮件
// @Tags Messages
// @Param id path string true "邮件 ID"
// @Success 204
// @Failure 404 {object} Response
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /v1/messages/{id} [delete]
func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.coordinator.DeleteForever(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	NoContent(c)
}

// patchMessageLabels godoc
// @Summary 修改邮件标签
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path string true "邮件 ID"
// @Param patch body domain.LabelPatch true "添加/移除的标签 ID"
// @Success 200 {object} Response{data=domain.Message}
// @Security BearerAuth
// @Router /v1/messages/{id}/labels [patch]
func (h *Handler) patchMessageLabels(c *gin.Context) {
	var patch domain.LabelPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	msg, err := h.coordinator.SetLabels(c.Request.Context(), middleware.UserID(c), c.Param("id"), patch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, msg)
}

// listMessages godoc
// @Summary 邮件列表
// @Tags Messages
// @Produce json
// @Param folder query string false "文件夹，默认 inbox"
// @Param label query string false "标签 ID"
// @Param q query string false "搜索关键字"
// @Param page query int false "页码"
// @Param pageSize query int false "每页数量"
// @Success 200 {object} Response{data=domain.MessagePage}
// @Security BearerAuth
// @Router /v1/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	var q domain.MessageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	page, err := h.messages.List(c.Request.Context(), middleware.UserID(c), q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, page)
}

// folderCounts godoc
// @Summary 各文件夹邮件数
// @Tags Messages
// @Produce json
// @Success 200 {object} Response{data=domain.FolderCounts}
// @Security BearerAuth
// @Router /v1/messages/counts [get]
func (h *Handler) folderCounts(c *gin.Context) {
	counts, err := h.counts.GetFolderCounts(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, counts)
}

// getMessage godoc
// @Summary 邮件详情
// @Tags Messages
// @Produce json
// @Param id path string true "邮件 ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/messages/{id} [get]
func (h *Handler) getMessage(c *gin.Context) {
	msg, err := h.messages.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, msg)
}

// getThread godoc
// @Summary 会话中的全部邮件
// @Tags Messages
// @Produce json
// @Param threadId path string true "会话 ID"
// @Success 200 {object} Response{data=[]domain.Message}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/threads/{threadId} [get]
func (h *Handler) getThread(c *gin.Context) {
	messages, err := h.messages.Thread(c.Request.Context(), middleware.UserID(c), c.Param("threadId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, messages)
}
