package ui

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	h, err := Handler()
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		code     int
		contains string
	}{
		{"root", "/", http.StatusOK, "<title>opsdesk</title>"},
		{"static asset", "/app.js", http.StatusOK, "X-Session-ID"},
		{"client route", "/review", http.StatusOK, "<title>opsdesk</title>"},
		{"missing asset", "/missing.png", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
			if tt.contains != "" {
				assert.Contains(t, w.Body.String(), tt.contains)
			}
		})
	}
}
