package broadcast

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	appURL := "https://reno.example.com/app"

	tests := []struct {
		name          string
		origin        string
		isDevelopment bool
		want          bool
	}{
		{"no origin header", "", false, true},
		{"app origin", "https://reno.example.com", false, true},

		{"foreign host", "https://evil.example.org", false, false},
		{"different port", "https://reno.example.com:9443", false, false},
		{"downgraded scheme", "http://reno.example.com", false, false},
		{"subdomain", "https://ws.reno.example.com", false, false},

		{"localhost in development", "http://localhost:5173", true, true},
		{"loopback ip in development", "http://127.0.0.1:3000", true, true},
		{"ipv6 loopback in development", "http://[::1]:3000", true, true},
		{"localhost in production", "http://localhost:5173", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewCheckOrigin(appURL, tt.isDevelopment)
			r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/api/notifications/p-1/websocket", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, check(r))
		})
	}
}

func TestNewCheckOrigin_InvalidAppURL(t *testing.T) {
	check := NewCheckOrigin("not a url", false)

	r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://reno.example.com")
	assert.False(t, check(r))
}
