package handlers

import (
	"net/http"
	"strconv"
	"time"

	"wa-bot-go/internal/api/middleware"
	"wa-bot-go/internal/bot"
	"wa-bot-go/internal/errlog"
	"wa-bot-go/internal/logger"
	"wa-bot-go/internal/store"
	"wa-bot-go/internal/utils"

	"github.com/gin-gonic/gin"
)

const maxErrorRows = 500

// adminActions change the session and need the admin role.
var adminActions = map[string]bool{
	bot.ActionConnect:    true,
	bot.ActionDisconnect: true,
	bot.ActionReconnect:  true,
	bot.ActionQRCode:     true,
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	Dispatcher *bot.Dispatcher
	Connection store.ConnectionStore
	Errors     store.ErrorLogStore
}

func NewHandler(d *bot.Dispatcher, conn store.ConnectionStore, errs store.ErrorLogStore) *Handler {
	return &Handler{Dispatcher: d, Connection: conn, Errors: errs}
}

// HealthCheck handles GET /
func (h *Handler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "WhatsApp bot is running")
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"whatsapp":  h.Dispatcher.Status(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// WhatsAppAction handles POST /api/whatsapp
func (h *Handler) WhatsAppAction(c *gin.Context) {
	var req bot.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bot.Response{Success: false, Message: "Invalid request body"})
		return
	}

	if adminActions[req.Action] && !middleware.HasRole(c, utils.RoleAdmin) {
		c.JSON(http.StatusForbidden, bot.Response{Success: false, Message: "Administrator role required"})
		return
	}
	if req.Action == bot.ActionSendMessage && req.UserID == "" {
		req.UserID = c.GetString(middleware.KeyStaffID)
	}

	logger.Info("WhatsApp action", "action", req.Action, "staffId", c.GetString(middleware.KeyStaffID))
	c.JSON(http.StatusOK, h.Dispatcher.Dispatch(c.Request.Context(), req))
}

// GetConnection handles GET /api/whatsapp/connection
func (h *Handler) GetConnection(c *gin.Context) {
	rec, err := h.Connection.GetConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to read connection"})
		return
	}
	if rec == nil {
		rec = &store.ConnectionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "connection": rec})
}

// GetErrors handles GET /api/whatsapp/errors
func (h *Handler) GetErrors(c *gin.Context) {
	rows, ok := h.recentErrors(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "errors": rows})
}

// ExportErrors handles GET /api/whatsapp/errors/export
func (h *Handler) ExportErrors(c *gin.Context) {
	rows, ok := h.recentErrors(c)
	if !ok {
		return
	}
	data, err := errlog.Export(rows)
	if err != nil {
		logger.Error("Failed to build error export", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to build export"})
		return
	}

	filename := "whatsapp-errors-" + time.Now().Format("20060102-150405") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *Handler) recentErrors(c *gin.Context) ([]store.ErrorLog, bool) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "limit must be a positive integer"})
			return nil, false
		}
		limit = min(n, maxErrorRows)
	}

	rows, err := h.Errors.RecentErrors(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to read error log"})
		return nil, false
	}
	return rows, true
}
