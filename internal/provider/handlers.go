package provider

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the provider API key on every request
const APIKeyHeader = "X-API-Key"

// GinHandlers exposes the mock provider's partner API
type GinHandlers struct {
	provider *MockProvider
}

func NewGinHandlers(provider *MockProvider) *GinHandlers {
	return &GinHandlers{provider: provider}
}

// RegisterRoutes mounts the partner API under /v1
func (h *GinHandlers) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1", h.requireAPIKey())
	v1.GET("/orders/:order_id", h.GetOrderHandler())
}

func (h *GinHandlers) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.provider.APIKey == "" || c.GetHeader(APIKeyHeader) != h.provider.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid api key"})
			return
		}
		c.Next()
	}
}

// GetOrderHandler returns the provider's authoritative order view
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.provider.Lookup(c.Request.Context(), c.Param("order_id"))
		switch {
		case errors.Is(err, ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		case errors.Is(err, ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
		case err != nil:
			c.JSON(http.StatusGatewayTimeout, gin.H{"message": err.Error()})
		default:
			c.JSON(http.StatusOK, order)
		}
	}
}
