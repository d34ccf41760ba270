package httptransport

import (
	"github.com/gin-gonic/gin"

	"ditmail/backend/internal/middleware"
	"ditmail/backend/internal/service"
)

type createFolderRequest struct {
	Name string `json:"name" binding:"required"`
}

// reassignResult 删除文件夹/标签时受影响的邮件数
type reassignResult struct {
	Moved int `json:"moved"`
}

// listFolders godoc
// @Summary 自建文件夹列表
// @Tags Folders
// @Produce json
// @Success 200 {object} Response{data=[]domain.CustomFolder}
// @Security BearerAuth
// @Router /v1/folders [get]
func (h *Handler) listFolders(c *gin.Context) {
	folders, err := h.folders.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, folders)
}

// createFolder godoc
// @Summary 新建文件夹
// @Tags Folders
// @Accept json
// @Produce json
// @Param folder body createFolderRequest true "文件夹名称"
// @Success 201 {object} Response{data=domain.CustomFolder}
// @Failure 409 {object} Response
// @Security BearerAuth
// @Router /v1/folders [post]
func (h *Handler) createFolder(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	folder, err := h.folders.Create(c.Request.Context(), middleware.UserID(c), req.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, folder)
}

// deleteFolder godoc
// @Summary 删除文件夹
// @Description 文件夹中的邮件移回收件箱
// @Tags Folders
// @Produce json
// @Param id path string true "文件夹 ID"
// @Success 200 {object} Response{data=reassignResult}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/folders/{id} [delete]
func (h *Handler) deleteFolder(c *gin.Context) {
	moved, err := h.folders.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgFolderDeleted, reassignResult{Moved: moved})
}

// ========== Label Handlers ==========

// listLabels godoc
// @Summary 标签列表
// @Tags Labels
// @Produce json
// @Success 200 {object} Response{data=[]domain.Label}
// @Security BearerAuth
// @Router /v1/labels [get]
func (h *Handler) listLabels(c *gin.Context) {
	labels, err := h.labels.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, labels)
}

// createLabel godoc
// @Summary 新建标签
// @Tags Labels
// @Accept json
// @Produce json
// @Param label body service.LabelInput true "标签"
// @Success 201 {object} Response{data=domain.Label}
// @Failure 409 {object} Response
// @Security BearerAuth
// @Router /v1/labels [post]
func (h *Handler) createLabel(c *gin.Context) {
	var in service.LabelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	label, err := h.labels.Create(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, label)
}

// updateLabel godoc
// @Summary 修改标签
// @Tags Labels
// @Accept json
// @Produce json
// @Param id path string true "标签 ID"
// @Param label body service.LabelInput true "标签"
// @Success 200 {object} Response{data=domain.Label}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/labels/{id} [patch]
func (h *Handler) updateLabel(c *gin.Context) {
	var in service.LabelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	label, err := h.labels.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, label)
}

// deleteLabel godoc
// @Summary 删除标签
// @Description 同时从所有邮件上移除该标签
// @Tags Labels
// @Produce json
// @Param id path string true "标签 ID"
// @Success 200 {object} Response{data=reassignResult}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/labels/{id} [delete]
func (h *Handler) deleteLabel(c *gin.Context) {
	n, err := h.labels.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, MsgLabelDeleted, reassignResult{Moved: n})
}
