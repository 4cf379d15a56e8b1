package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/ksred/klear-ramp/pkg/response"
)

// GinHandlers contains HTTP handlers for the order ingest and read endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	useJSONFieldNames()
	return &GinHandlers{service: service}
}

// CreateOrderHandler handles POST /orders: the provider's first event for
// an order, or a repeat of it
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		if ownerID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.OrderError(c, http.StatusBadRequest, "invalid order payload", bindingDetails(err), req.ID)
			return
		}

		rec, err := h.service.CreateOrder(c.Request.Context(), ownerID, &req)
		if err != nil {
			orderFailure(c, err, req.ID)
			return
		}
		response.Success(c, rec)
	}
}

// UpdateOrderHandler handles PUT /orders: later lifecycle events and polls
func (h *GinHandlers) UpdateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		if ownerID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var req UpdateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.OrderError(c, http.StatusBadRequest, "invalid order payload", bindingDetails(err), req.ID)
			return
		}

		rec, err := h.service.UpdateOrder(c.Request.Context(), ownerID, &req)
		if err != nil {
			orderFailure(c, err, req.ID)
			return
		}
		response.Success(c, rec)
	}
}

// GetOrderHandler handles GET /orders/:order_id for the order's owner
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		if ownerID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		rec, err := h.service.GetOrder(c.Request.Context(), ownerID, orderID)
		if errors.Is(err, orders.ErrOrderNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, rec, err)
	}
}

// ListHoldingsHandler handles GET /holdings for the authenticated owner
func (h *GinHandlers) ListHoldingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetString("clientID")
		if ownerID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		hs, err := h.service.ListHoldings(c.Request.Context(), ownerID)
		response.Handle(c, hs, err)
	}
}

// orderFailure maps ingest errors onto status codes. Storage failures are
// retryable, so the caller is told to retry without internal detail.
func orderFailure(c *gin.Context, err error, orderID string) {
	switch {
	case errors.Is(err, orders.ErrInvalidSnapshot):
		response.OrderError(c, http.StatusBadRequest, "invalid order payload", err.Error(), orderID)
	case errors.Is(err, orders.ErrOwnerMismatch):
		response.OrderError(c, http.StatusForbidden, "order belongs to a different owner", "", orderID)
	default:
		response.OrderError(c, http.StatusInternalServerError, "failed to store order", "the order could not be stored, retry the request", orderID)
	}
}
