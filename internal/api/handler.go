package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookstore-service/internal/models"
	"bookstore-service/internal/service"
	"bookstore-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserHeader carries the caller's user id or username
const UserHeader = "X-User"

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	adminService *service.AdminService
	db           Pinger
}

// NewHandler creates a new HTTP handler. db may be nil.
func NewHandler(orderService *service.OrderService, adminService *service.AdminService, db Pinger) *Handler {
	return &Handler{
		orderService: orderService,
		adminService: adminService,
		db:           db,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listMyOrders)
		v1.GET("/orders/:id", h.getMyOrder)

		admin := v1.Group("/admin")
		admin.GET("/orders", h.listOrders)
		admin.GET("/orders/:id", h.getOrder)
		admin.PATCH("/orders/:id/payment", h.setPaymentStatus)
		admin.PATCH("/orders/:id/status", h.setOrderStatus)
		admin.POST("/orders/:id/resend-email", h.resendEmail)
		admin.GET("/orders/:id/email-attempts", h.listEmailAttempts)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"details": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order placement
func (h *Handler) createOrder(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orderService.PlaceOrder(c.Request.Context(), user, &req)
	if err != nil {
		writeError(c, "Failed to place order", err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listMyOrders(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	orders, err := h.orderService.ListOrdersForUser(c.Request.Context(), user)
	if err != nil {
		writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) getMyOrder(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrderForUser(c.Request.Context(), orderID, user)
	if err != nil {
		writeError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) setPaymentStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	status := models.PaymentStatus(strings.ToUpper(c.Query("status")))

	order, err := h.adminService.SetPaymentStatus(c.Request.Context(), orderID, status)
	if err != nil {
		writeError(c, "Failed to update payment status", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) setOrderStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	status := models.OrderStatus(strings.ToUpper(c.Query("status")))

	order, err := h.adminService.SetOrderStatus(c.Request.Context(), orderID, status)
	if err != nil {
		writeError(c, "Failed to update order status", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) resendEmail(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.adminService.ResendEmail(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, "Failed to resend email", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listEmailAttempts(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	attempts, err := h.adminService.ListEmailAttempts(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, "Failed to list email attempts", err)
		return
	}
	c.JSON(http.StatusOK, attempts)
}

func requireUser(c *gin.Context) (string, bool) {
	user := strings.TrimSpace(c.GetHeader(UserHeader))
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing " + UserHeader + " header",
		})
		return "", false
	}
	return user, true
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return 0, false
	}
	return orderID, true
}

// statusFor maps a service error to its HTTP status
func statusFor(err error) int {
	var stockErr *service.InsufficientStockError
	var sendErr *service.NotificationSendError
	switch {
	case errors.As(err, &stockErr):
		return http.StatusConflict
	case errors.As(err, &sendErr):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyOrder),
		errors.Is(err, service.ErrUnknownUser),
		errors.Is(err, service.ErrUnknownBook),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.GetLogger().Error(message, zap.String("path", c.FullPath()), zap.Error(err))
		message = "Internal server error"
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// requestLogger logs each request through zap
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		util.GetLogger().Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
