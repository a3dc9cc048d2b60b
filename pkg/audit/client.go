package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/taskguard/pkg/contextkeys"
)

const unknownClient = "unknown"

// Client identifies the caller's connection for audit entries.
type Client struct {
	IP        string
	UserAgent string
}

// ClientFromRequest reads the caller address and user agent. The first
// X-Forwarded-For hop wins, then X-Real-IP, then the remote address.
func ClientFromRequest(r *http.Request) Client {
	return Client{IP: clientIP(r), UserAgent: orUnknown(r.UserAgent())}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return unknownClient
}

func orUnknown(s string) string {
	if s == "" {
		return unknownClient
	}
	return s
}

// WithClient stores c in ctx.
func WithClient(ctx context.Context, c Client) context.Context {
	return contextkeys.WithClient(ctx, c)
}

// ClientFromContext returns the stored Client, with "unknown" for any
// missing part.
func ClientFromContext(ctx context.Context) Client {
	c, _ := ctx.Value(contextkeys.ClientKey).(Client)
	return Client{IP: orUnknown(c.IP), UserAgent: orUnknown(c.UserAgent)}
}

// ClientMiddleware captures the caller's connection details for the audit
// trail.
func ClientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), ClientFromRequest(r))))
	})
}
