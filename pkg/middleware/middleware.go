package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-ramp/internal/auth"
	"github.com/ksred/klear-ramp/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RequestIDHeader is echoed back on every response
const RequestIDHeader = "X-Request-ID"

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type pathLimit struct {
	prefix string
	limit  rate.Limit
	burst  int
}

// Configure limits per endpoint type
var pathLimits = []pathLimit{
	{prefix: "/api/v1/auth", limit: rate.Limit(10.0 / 60.0), burst: 1},       // 10 requests per minute
	{prefix: "/api/v1/orders", limit: rate.Limit(600.0 / 60.0), burst: 20},   // webhooks arrive in bursts
	{prefix: "/api/v1/holdings", limit: rate.Limit(1000.0 / 60.0), burst: 5}, // client polling
}

type visitors struct {
	mu   sync.Mutex
	seen map[string]*visitor
}

func (v *visitors) limiter(path, clientID string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := clientID + ":" + path
	vis, exists := v.seen[key]
	if !exists {
		limit, burst := rate.Inf, 1 // No limit for other paths
		for _, pl := range pathLimits {
			if strings.HasPrefix(path, pl.prefix) {
				limit, burst = pl.limit, pl.burst
				break
			}
		}
		vis = &visitor{limiter: rate.NewLimiter(limit, burst)}
		v.seen[key] = vis
	}

	vis.lastSeen = time.Now()
	return vis.limiter
}

func (v *visitors) cleanup(idle time.Duration) {
	for {
		time.Sleep(time.Minute)

		v.mu.Lock()
		for key, vis := range v.seen {
			if time.Since(vis.lastSeen) > idle {
				delete(v.seen, key)
			}
		}
		v.mu.Unlock()
	}
}

// RateLimit limits requests per client and route. Clients are identified by
// the authenticated client id, or the remote address before authentication.
func RateLimit() gin.HandlerFunc {
	v := &visitors{seen: make(map[string]*visitor)}
	go v.cleanup(3 * time.Minute)

	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		if !v.limiter(c.FullPath(), clientID).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenValidator verifies bearer tokens
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// JWTAuth rejects requests without a valid bearer token and stores the
// token's client id under "clientID"
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("clientID", claims.ClientID)
		c.Next()
	}
}

// RequestLogger assigns a request id and logs every request once it has
// been served
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("requestID", requestID)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_id", c.GetString("clientID")).
			Msg("request served")
	}
}
