package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-ramp/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewService("test-secret")
	svc.RegisterAPICredentials("client-1", "secret-1")
	token, err := svc.GenerateToken(auth.Credentials{APIKey: "client-1", APISecret: "secret-1"})
	require.NoError(t, err)

	foreign, err := func() (*auth.TokenResponse, error) {
		other := auth.NewService("other-secret")
		other.RegisterAPICredentials("client-1", "secret-1")
		return other.GenerateToken(auth.Credentials{APIKey: "client-1", APISecret: "secret-1"})
	}()
	require.NoError(t, err)

	router := gin.New()
	router.GET("/protected", JWTAuth(svc), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("clientID"))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "wrong signing key", header: "Bearer " + foreign.Token, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token.Token, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "client-1", w.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit())
	router.POST("/api/v1/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve := func(method, path string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "/api/v1/auth/token"))
	assert.Equal(t, http.StatusTooManyRequests, serve(http.MethodPost, "/api/v1/auth/token"))

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, serve(http.MethodGet, "/healthz"))
	}
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("requestID")) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}
