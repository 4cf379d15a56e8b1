package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func serve(method string, h gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Handle(method, "/", h)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, "/", nil))
	return w
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name   string
		method string
		err    error
		code   int
		errMsg string
	}{
		{name: "get ok", method: http.MethodGet, code: http.StatusOK},
		{name: "post ok", method: http.MethodPost, code: http.StatusCreated},
		{name: "not found", method: http.MethodGet, err: fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound), code: http.StatusNotFound, errMsg: ErrCodeNotFound},
		{name: "other", method: http.MethodGet, err: errors.New("connection reset by peer"), code: http.StatusInternalServerError, errMsg: ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(tt.method, func(c *gin.Context) { Handle(c, gin.H{"ok": true}, tt.err) })
			assert.Equal(t, tt.code, w.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			if tt.errMsg == "" {
				assert.True(t, resp.Success)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.errMsg, resp.Error.Code)
			assert.NotContains(t, w.Body.String(), "connection reset")
		})
	}
}

func TestOrderError(t *testing.T) {
	w := serve(http.MethodPut, func(c *gin.Context) {
		OrderError(c, http.StatusForbidden, "order belongs to a different owner", "", "o-1")
	})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"order belongs to a different owner","orderId":"o-1"}`, w.Body.String())
}
