package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/middleware"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
	"github.com/grigta/hotspot/services/billing-service/internal/service"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PaymentProcessor interface {
	ProcessConfirmation(ctx context.Context, payload models.MpesaConfirmation) service.WebhookResult
	Validate(ctx context.Context, payload models.MpesaConfirmation) service.WebhookResult
}

type VoucherManager interface {
	Get(ctx context.Context, id primitive.ObjectID, actor service.Actor) (*models.Voucher, error)
	List(ctx context.Context, filter models.VoucherFilter, actor service.Actor) ([]*models.Voucher, int64, error)
	Cancel(ctx context.Context, id primitive.ObjectID, actor service.Actor) (*models.Voucher, error)
}

type HTTPHandler struct {
	payments PaymentProcessor
	vouchers VoucherManager
	sweeper  service.Sweeper
	logger   logger.Logger
}

func NewHTTPHandler(payments PaymentProcessor, vouchers VoucherManager, sweeper service.Sweeper, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		payments: payments,
		vouchers: vouchers,
		sweeper:  sweeper,
		logger:   log,
	}
}

// RegisterWebhookRoutes mounts the unauthenticated payment provider callbacks.
func (h *HTTPHandler) RegisterWebhookRoutes(router gin.IRouter) {
	webhooks := router.Group("/api/v1/webhooks/mpesa")
	{
		webhooks.POST("/confirmation", h.MpesaConfirmation)
		webhooks.POST("/validation", h.MpesaValidation)
	}
}

// RegisterAdminRoutes mounts the operator API behind JWT auth.
func (h *HTTPHandler) RegisterAdminRoutes(router gin.IRouter, auth *middleware.AuthMiddleware, extra ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(auth.Authenticate())
	api.Use(extra...)
	{
		api.GET("/vouchers", h.ListVouchers)
		api.GET("/vouchers/:id", h.GetVoucher)
		api.POST("/vouchers/:id/cancel", h.CancelVoucher)
	}

	admin := api.Group("/admin")
	admin.Use(auth.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/sweep", h.RunSweep)
	}
}

func (h *HTTPHandler) MpesaConfirmation(c *gin.Context) {
	h.handleWebhook(c, h.payments.ProcessConfirmation)
}

func (h *HTTPHandler) MpesaValidation(c *gin.Context) {
	h.handleWebhook(c, h.payments.Validate)
}

// handleWebhook always answers 200 with a provider-shaped body.
func (h *HTTPHandler) handleWebhook(c *gin.Context, process func(context.Context, models.MpesaConfirmation) service.WebhookResult) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Webhook handler panicked",
				logger.Field{Key: "path", Value: c.FullPath()},
				logger.Field{Key: "panic", Value: rec},
			)
			c.JSON(http.StatusOK, models.Rejected(""))
		}
	}()

	var payload models.MpesaConfirmation
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("Malformed webhook payload",
			logger.Field{Key: "path", Value: c.FullPath()},
			logger.Err(err),
		)
		// An unparseable amount counts as missing.
		payload.TransAmount = decimal.NullDecimal{}
	}

	result := process(c.Request.Context(), payload)
	c.JSON(http.StatusOK, result.Response)
}

func (h *HTTPHandler) ListVouchers(c *gin.Context) {
	filter := models.VoucherFilter{
		Status: c.Query("status"),
	}

	if routerID := c.Query("router_id"); routerID != "" {
		id, err := primitive.ObjectIDFromHex(routerID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid router_id format"})
			return
		}
		filter.RouterID = &id
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	vouchers, total, err := h.vouchers.List(c.Request.Context(), filter, actorFrom(c))
	if err != nil {
		h.respondError(c, "Failed to list vouchers", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vouchers": vouchers,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *HTTPHandler) GetVoucher(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher id format"})
		return
	}

	voucher, err := h.vouchers.Get(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.respondError(c, "Failed to get voucher", err)
		return
	}

	c.JSON(http.StatusOK, voucher)
}

func (h *HTTPHandler) CancelVoucher(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid voucher id format"})
		return
	}

	voucher, err := h.vouchers.Cancel(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.respondError(c, "Failed to cancel voucher", err)
		return
	}

	c.JSON(http.StatusOK, voucher)
}

func (h *HTTPHandler) RunSweep(c *gin.Context) {
	result, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		h.respondError(c, "Manual sweep failed", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *HTTPHandler) respondError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrVoucherNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrVoucherTerminal), errors.Is(err, service.ErrSweepInProgress):
		status = http.StatusConflict
	case errors.Is(err, database.ErrInvalidID):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg, logger.Err(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: c.GetString(middleware.ContextUserIDKey),
		Role:   c.GetString(middleware.ContextRoleKey),
	}
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
