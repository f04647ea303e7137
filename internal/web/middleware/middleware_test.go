package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/JonMunkholm/rosterimport/internal/core"
)

func okHandler(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.SecurityConfig
		key    string
		status int
	}{
		{"disabled passes", config.SecurityConfig{}, "", http.StatusOK},
		{"missing key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, "", http.StatusUnauthorized},
		{"wrong key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, "nope", http.StatusForbidden},
		{"second key accepted", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}, "k2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			h := APIKeyAuth(&cfg)(http.HandlerFunc(okHandler))
			req := httptest.NewRequest(http.MethodGet, "/api/fields", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestTeacher(t *testing.T) {
	var got string
	h := Teacher(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = core.TeacherIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/imports", nil)
	req.Header.Set(TeacherHeader, "  teacher-9 ")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got != "teacher-9" {
		t.Errorf("teacher in context = %q, want %q", got, "teacher-9")
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		realIP     string
		xff        string
		want       string
	}{
		{"untrusted source ignores header", []string{"10.0.0.0/8"}, "203.0.113.5:1234", "1.2.3.4", "", "203.0.113.5"},
		{"trusted proxy X-Real-IP", []string{"10.0.0.0/8"}, "10.1.2.3:5555", "198.51.100.7", "", "198.51.100.7"},
		{"trusted proxy X-Forwarded-For first hop", []string{"10.0.0.0/8"}, "10.1.2.3:5555", "", "198.51.100.8, 10.0.0.1", "198.51.100.8"},
		{"single host entry", []string{"127.0.0.1"}, "127.0.0.1:80", "198.51.100.9", "", "198.51.100.9"},
		{"invalid header kept out", []string{"10.0.0.0/8"}, "10.1.2.3:5555", "not-an-ip", "", "10.1.2.3"},
		{"no trusted proxies", nil, "192.0.2.1:9999", "1.1.1.1", "", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxIP, remote string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxIP = core.GetIPAddressFromContext(r.Context())
				remote = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if ctxIP != tt.want {
				t.Errorf("context IP = %q, want %q", ctxIP, tt.want)
			}
			if remote != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", remote, tt.want)
			}
		})
	}
}

func TestLogger_CapturesStatusAndFlushes(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		if _, ok := w.(http.Flusher); !ok {
			t.Error("wrapped writer does not implement http.Flusher")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/imports", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}
