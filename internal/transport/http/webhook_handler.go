package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"ditmail/backend/internal/middleware"
	"ditmail/backend/internal/service"
)

const defaultDeliveryLimit = 50

// ========== Webhook Handlers ==========

// createWebhook godoc
// @Summary 创建 Webhook
// @Description 创建一个新的 Webhook 订阅，密钥只在创建时返回一次
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param webhook body service.CreateWebhookInput true "Webhook 信息"
// @Success 201 {object} Response{data=service.CreatedWebhook}
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Security BearerAuth
// @Router /v1/webhooks [post]
func (h *Handler) createWebhook(c *gin.Context) {
	var input service.CreateWebhookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "无效的请求参数")
		return
	}

	webhook, err := h.webhooks.CreateWebhook(c.Request.Context(), middleware.UserID(c), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	CreatedWithMsg(c, MsgWebhookCreated, webhook)
}

// listWebhooks godoc
// @Summary 列出 Webhooks
// @Description 列出当前用户的所有 Webhooks
// @Tags Webhooks
// @Produce json
// @Success 200 {object} Response{data=[]domain.Webhook}
// @Security BearerAuth
// @Router /v1/webhooks [get]
func (h *Handler) listWebhooks(c *gin.Context) {
	webhooks, err := h.webhooks.ListWebhooks(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, webhooks)
}

// updateWebhook godoc
// @Summary 更新 Webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param id path string true "Webhook ID"
// @Param webhook body service.UpdateWebhookInput true "更新信息"
// @Success 200 {object} Response{data=domain.Webhook}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/webhooks/{id} [patch]
func (h *Handler) updateWebhook(c *gin.Context) {
	var input service.UpdateWebhookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "无效的请求参数")
		return
	}

	webhook, err := h.webhooks.UpdateWebhook(c.Request.Context(), middleware.UserID(c), c.Param("id"), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, webhook)
}

// deleteWebhook godoc
// @Summary 删除 Webhook
// @Tags Webhooks
// @Param id path string true "Webhook ID"
// @Success 204
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/webhooks/{id} [delete]
func (h *Handler) deleteWebhook(c *gin.Context) {
	if err := h.webhooks.DeleteWebhook(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}

	NoContent(c)
}

// getWebhookDeliveries godoc
// @Summary 获取 Webhook 投递记录
// @Tags Webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Param limit query int false "返回数量限制" default(50)
// @Success 200 {object} Response{data=[]domain.WebhookDelivery}
// @Failure 404 {object} Response
// @Security BearerAuth
// @Router /v1/webhooks/{id}/deliveries [get]
func (h *Handler) getWebhookDeliveries(c *gin.Context) {
	limit := defaultDeliveryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(c, "无效的 limit 参数")
			return
		}
		limit = n
	}

	deliveries, err := h.webhooks.GetDeliveries(c.Request.Context(), middleware.UserID(c), c.Param("id"), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, deliveries)
}
