package broadcast

import (
	"net/http"
	"net/url"

	"github.com/pscheid92/renopulse/internal/platform/logging"
)

// NewCheckOrigin returns the origin check used when upgrading sessions.
// Requests without an Origin header (CLI clients, peer instances forwarding an upgrade) and
// requests from the app's own origin are accepted. Development additionally accepts localhost.
func NewCheckOrigin(appURL string, isDevelopment bool) func(r *http.Request) bool {
	appOrigin := extractOrigin(appURL)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
			return true
		case appOrigin != "" && origin == appOrigin:
			return true
		case isDevelopment && isLocalhostOrigin(origin):
			return true
		}

		logging.Logger.WarnContext(r.Context(), "WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
