package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/risk/investments/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"assessment": nil})
	})

	req := httptest.NewRequest(method, "/v1/risk/investments/inv_1", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), http.MethodGet, "")

	for header, want := range map[string]string{
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Cache-Control":           "no-store",
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	} {
		assert.Equal(t, want, w.Header().Get(header), header)
	}
}

func TestCORSMiddleware_AllowsAdminHeaders(t *testing.T) {
	w := serve(CORSMiddleware([]string{"https://app.blockvest.io"}), http.MethodGet, "https://app.blockvest.io")

	assert.Equal(t, "https://app.blockvest.io", w.Header().Get("Access-Control-Allow-Origin"))
	allowed := w.Header().Get("Access-Control-Allow-Headers")
	assert.Contains(t, allowed, AdminSecretHeader)
	assert.Contains(t, allowed, ActorHeader)
	assert.Contains(t, allowed, "X-Request-ID")
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddleware_Origins(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantAllowed bool
		wantCreds   bool
	}{
		{"listed origin", []string{"https://app.blockvest.io"}, "https://app.blockvest.io", true, true},
		{"wildcard never sends credentials", []string{"*"}, "https://anything.io", true, false},
		{"unlisted origin", []string{"https://app.blockvest.io"}, "https://evil.io", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORSMiddleware(tc.allowed), http.MethodGet, tc.origin)
			assert.Equal(t, tc.wantAllowed, w.Header().Get("Access-Control-Allow-Origin") != "")
			assert.Equal(t, tc.wantCreds, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	w := serve(CORSMiddleware([]string{"*"}), http.MethodOptions, "https://app.blockvest.io")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
}
