package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		wantIP  string
		wantUA  string
	}{
		{
			name:    "first forwarded hop",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.2", "X-Real-IP": "10.0.0.9", "User-Agent": "Mozilla"},
			remote:  "10.0.0.1:5555",
			wantIP:  "198.51.100.4",
			wantUA:  "Mozilla",
		},
		{
			name:    "real ip",
			headers: map[string]string{"X-Real-IP": "10.0.0.9"},
			remote:  "10.0.0.1:5555",
			wantIP:  "10.0.0.9",
			wantUA:  "unknown",
		},
		{
			name:   "remote address",
			remote: "192.0.2.10:443",
			wantIP: "192.0.2.10",
			wantUA: "unknown",
		},
		{
			name:   "remote without port",
			remote: "192.0.2.11",
			wantIP: "192.0.2.11",
			wantUA: "unknown",
		},
		{
			name:   "nothing",
			wantIP: "unknown",
			wantUA: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Del("User-Agent")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			c := ClientFromRequest(req)
			assert.Equal(t, tt.wantIP, c.IP)
			assert.Equal(t, tt.wantUA, c.UserAgent)
		})
	}
}

func TestClientMiddleware(t *testing.T) {
	var got Client
	h := ClientMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("User-Agent", "taskguard-test")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, Client{IP: "192.0.2.1", UserAgent: "taskguard-test"}, got)
}

func TestClientFromContextDefaults(t *testing.T) {
	assert.Equal(t, Client{IP: "unknown", UserAgent: "unknown"}, ClientFromContext(context.Background()))
}
