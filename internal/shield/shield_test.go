package shield

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(APIHeaders())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s: %q, want %q", k, got, v)
		}
	}
	if rec.Header().Get("Permissions-Policy") != "" {
		t.Error("unset header must not be written")
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	if readErr != nil {
		t.Errorf("small body: %v", readErr)
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too large")))
	if readErr == nil {
		t.Error("large body should fail")
	}
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1:5555": "10.0.0.1",
		"[::1]:8080":    "::1",
		"10.0.0.2":      "10.0.0.2",
		"2001:db8::1":   "2001:db8::1",
	}
	for addr, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		if got := ClientIP(r); got != want {
			t.Errorf("%s: %q, want %q", addr, got, want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(map[string]Rule{"POST /v1/dismiss": {Requests: 2, Window: time.Minute}}, quiet)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(ok)

	do := func(method, path, ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, nil)
		r.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do(http.MethodPost, "/v1/dismiss", "1.1.1.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := do(http.MethodPost, "/v1/dismiss", "1.1.1.1")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Errorf("third request: %d retry-after=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if rec := do(http.MethodPost, "/v1/dismiss", "2.2.2.2"); rec.Code != http.StatusOK {
		t.Errorf("other client limited: %d", rec.Code)
	}
	if rec := do(http.MethodPost, "/v1/inspect", "1.1.1.1"); rec.Code != http.StatusOK {
		t.Errorf("unruled endpoint limited: %d", rec.Code)
	}

	now = now.Add(61 * time.Second)
	if rec := do(http.MethodPost, "/v1/dismiss", "1.1.1.1"); rec.Code != http.StatusOK {
		t.Errorf("after window: %d", rec.Code)
	}
	rl.gc()
	now = now.Add(2 * time.Minute)
	rl.gc()
	if len(rl.buckets) != 0 {
		t.Errorf("buckets after gc: %d", len(rl.buckets))
	}
}

func TestCheckURL(t *testing.T) {
	cases := []struct {
		url  string
		want error
	}{
		{"https://93.184.216.34/page", nil},
		{"ftp://93.184.216.34/", ErrUnsafeScheme},
		{"javascript:alert(1)", ErrUnsafeScheme},
		{"http://127.0.0.1:8080/", ErrPrivateTarget},
		{"http://10.1.2.3/", ErrPrivateTarget},
		{"http://192.168.0.10/", ErrPrivateTarget},
		{"http://169.254.169.254/latest/meta-data", ErrPrivateTarget},
		{"http://[::1]/", ErrPrivateTarget},
		{"http://0.0.0.0/", ErrPrivateTarget},
		{"http://localhost:9222/json", ErrPrivateTarget},
		{"http://api.localhost/", ErrPrivateTarget},
	}
	for _, c := range cases {
		err := CheckURL(context.Background(), c.url)
		if !errors.Is(err, c.want) && !(c.want == nil && err == nil) {
			t.Errorf("%s: %v, want %v", c.url, err, c.want)
		}
	}
	if err := CheckURL(context.Background(), "http:///nohost"); err == nil {
		t.Error("missing host should fail")
	}
}
