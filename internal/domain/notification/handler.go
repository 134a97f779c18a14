package notification

import (
	"log/slog"
	"net/http"

	"dispatchly/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the notification domain.
type Handler struct {
	service *Service
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Send handles POST /api/v1/notifications
// Validates the request, persists it and queues it for dispatch, returning
// 202 Accepted. Delivery outcomes are read back via GetNotification.
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.service.Notify(c.Request.Context(), &req)
	if err != nil {
		slog.Error("notification request rejected",
			"error", err,
			"recipient", req.RecipientID,
			"template", req.Template,
		)
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusAccepted, resp)
}

// GetNotification handles GET /api/v1/notifications/:id
func (h *Handler) GetNotification(c *gin.Context) {
	id := c.Param("id")

	notifLog, err := h.service.GetNotification(c.Request.Context(), id)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, notifLog)
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	var filter ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	resp, err := h.service.ListNotifications(c.Request.Context(), filter)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, resp)
}

// Cancel handles POST /api/v1/notifications/:id/cancel
// Cancels a queued or processing notification. Settled ones return 409.
func (h *Handler) Cancel(c *gin.Context) {
	id := c.Param("id")

	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{"id": id, "status": string(StatusCancelled)})
}

// RegisterTemplate handles POST /api/v1/templates
// Adds a template to the live registry. Duplicate names return 409.
func (h *Handler) RegisterTemplate(c *gin.Context) {
	var tmpl Template
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.service.RegisterTemplate(&tmpl); err != nil {
		common.HandleError(c, err)
		return
	}

	slog.Info("template registered", "template", tmpl.Name, "category", tmpl.Category)
	common.Success(c, http.StatusCreated, gin.H{"name": tmpl.Name})
}

// ListTemplates handles GET /api/v1/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	common.Success(c, http.StatusOK, h.service.Templates())
}

// RegisterRoutes registers notification routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/notifications", h.Send)
	rg.GET("/notifications", h.ListNotifications)
	rg.GET("/notifications/:id", h.GetNotification)
	rg.POST("/notifications/:id/cancel", h.Cancel)
	rg.POST("/templates", h.RegisterTemplate)
	rg.GET("/templates", h.ListTemplates)
}
