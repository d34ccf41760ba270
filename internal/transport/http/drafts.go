package httptransport

import (
	"github.com/gin-gonic/gin"

	"ditmail/backend/internal/domain"
	"ditmail/backend/internal/middleware"
)

// ========== Draft Handlers ==========

// listDrafts godoc
// @Summary 草稿列表
// @Tags Drafts
// @Produce json
// @Success 200 {object} Response{data=[]domain.Draft}
// @Security BearerAuth
// @Router /v1/drafts [get]
func (h *Handler) listDrafts(c *gin.Context) {
	drafts, err := h.drafts.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, drafts)
}

// draftForThread godoc
// @Summary 会话对应的回复草稿
// @Description 有多份草稿时返回最近修改的一份
// @Tags Drafts
// @Produce json
// @Param threadId path string true "会话 ID"
// @Success 200 {object} Response{data=domain.Draft}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/drafts/by-thread/{threadId} [get]
func (h *Handler) draftForThread(c *gin.Context) {
	draft, err := h.resolver.FindDraftForThread(c.Request.Context(), middleware.UserID(c), c.Param("threadId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, draft)
}

// getDraft godoc
// @Summary 草稿详情
// @Tags Drafts
// @Produce json
// @Param id path string true "草稿 ID"
// @Success 200 {object} Response{data=domain.Draft}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/drafts/{id} [get]
func (h *Handler) getDraft(c *gin.Context) {
	draft, err := h.drafts.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, draft)
}

// createDraft godoc
// @Summary 新建草稿
// @Tags Drafts
// @Accept json
// @Produce json
// @Param draft body domain.DraftInput true "草稿内容"
// @Success 201 {object} Response{data=domain.Draft}
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /v1/drafts [post]
func (h *Handler) createDraft(c *gin.Context) {
	var in domain.DraftInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	draft, err := h.drafts.Create(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, draft)
}

// updateDraft godoc
// @Summary 自动保存草稿
// @Tags Drafts
// @Accept json
// @Produce json
// @Param id path string true "草稿 ID"
// @Param draft body domain.DraftInput true "草稿内容"
// @Success 200 {object} Response{data=domain.Draft}
// @Failure 404 {object} Response
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /v1/drafts/{id} [patch]
func (h *Handler) updateDraft(c *gin.Context) {
	var in domain.DraftInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	draft, err := h.drafts.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, draft)
}

// deleteDraft godoc
// @Summary 删除草稿
// @Tags Drafts
// @Param id path string true "草稿 ID"
// @Success 204
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/drafts/{id} [delete]
func (h *Handler) deleteDraft(c *gin.Context) {
	if err := h.drafts.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	NoContent(c)
}

// sendDraft godoc
// @Summary 发送草稿
// @Description 草稿转为已发送邮件，本域收件人直接投递
// @Tags Drafts
// @Produce json
// @Param id path string true "草稿 ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /v1/drafts/{id}/send [post]
func (h *Handler) sendDraft(c *gin.Context) {
	msg, err := h.drafts.Send(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgDraftSent, msg)
}
