package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSOrigins(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"listed", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com"},
		{"unlisted", []string{"https://app.example.com"}, "https://evil.example", ""},
		{"wildcard", []string{" * "}, "https://any.example", "https://any.example"},
		{"no origin", []string{"*"}, "", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/providers/p/slots", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		rec := httptest.NewRecorder()
		CORS(tc.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status %d, got %d", tc.name, http.StatusOK, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Fatalf("%s: expected allow origin %q, got %q", tc.name, tc.want, got)
		}
		if tc.want != "" && rec.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Fatalf("%s: expected allow methods header", tc.name)
		}
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodOptions, "/v1/holds", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected handler to not be called on preflight")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
}
