package validation

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"inv_42", true},
		{"rsk_0123456789abcdef01234567", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"", false},
		{"inv 42", false},
		{"../etc", false},
		{"inv;drop", false},
		{strings.Repeat("a", MaxIDLength+1), false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.valid, IsValidID(tc.id), "IsValidID(%q)", tc.id)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"  hello  ", 100, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, SanitizeString(tc.input, tc.maxLen))
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("reason", "chargeback"),
		ValidID("id", "inv_1"),
	)
	assert.Empty(t, errs)

	errs = Validate(
		Required("reason", "   "),
		ValidID("id", "bad id"),
	)
	assert.Len(t, errs, 2)
	assert.Equal(t, "reason: is required", errs.Error())
}

func TestMaxLength(t *testing.T) {
	assert.Nil(t, MaxLength("field", "hello", 10)())
	assert.Nil(t, MaxLength("field", "hello", 5)())
	assert.NotNil(t, MaxLength("field", "hello world", 5)())
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/investments/:id", IDParamMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/investments/inv_1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/investments/inv%3B1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("tiny")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
