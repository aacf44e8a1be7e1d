package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiate(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Negotiate(ok)

	tests := []struct {
		name        string
		method      string
		accept      string
		contentType string
		want        int
	}{
		{"no accept", http.MethodGet, "", "", http.StatusOK},
		{"json:api", http.MethodGet, "application/vnd.api+json", "", http.StatusOK},
		{"wildcard", http.MethodGet, "*/*", "", http.StatusOK},
		{"one of many", http.MethodGet, "text/html, application/vnd.api+json;q=0.9", "", http.StatusOK},
		{"html", http.MethodGet, "text/html", "", http.StatusNotAcceptable},
		{"plain json", http.MethodGet, "application/json", "", http.StatusNotAcceptable},
		{"with ext param", http.MethodGet, `application/vnd.api+json; ext="bulk"`, "", http.StatusNotAcceptable},
		{"post json:api", http.MethodPost, "application/vnd.api+json", "application/vnd.api+json", http.StatusOK},
		{"post with charset", http.MethodPost, "", "application/vnd.api+json; charset=utf-8", http.StatusUnsupportedMediaType},
		{"post json", http.MethodPost, "application/vnd.api+json", "application/json", http.StatusUnsupportedMediaType},
		{"patch missing type", http.MethodPatch, "", "", http.StatusUnsupportedMediaType},
		{"delete without type", http.MethodDelete, "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/posts", strings.NewReader("{}"))
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
