package shapeengine

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shapefinder/internal/logger"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.TraceID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 || id != seen {
		t.Errorf("generated id %q, context %q", id, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") != "abc" || seen != "abc" {
		t.Errorf("caller id not kept: %q", seen)
	}
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.allow("1.1.1.1") || !l.allow("1.1.1.1") || l.allow("1.1.1.1") {
		t.Error("burst of 2 not enforced")
	}
	if !l.allow("2.2.2.2") {
		t.Error("second client shares the first client's bucket")
	}
	now = now.Add(time.Second)
	if !l.allow("1.1.1.1") {
		t.Error("bucket did not refill")
	}

	now = now.Add(2 * idleTTL)
	l.allow("3.3.3.3")
	if len(l.buckets) != 1 {
		t.Errorf("idle buckets kept: %d", len(l.buckets))
	}
}

func TestAnalyzeEndpoint_RateLimited(t *testing.T) {
	svc, _ := newTestService(t)
	svc.cfg.AnalyzeRPS, svc.cfg.AnalyzeBurst = 0.001, 1
	h := svc.router()

	body := `{"series":[1,2,3]}`
	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body)))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestResetEndpoint_RequiresToken(t *testing.T) {
	svc, _ := newTestService(t)
	svc.cfg.ControlSecret = "s3cret"
	h := svc.router()

	post := func(auth string) int {
		req := httptest.NewRequest(http.MethodPost, "/detectors/reset", strings.NewReader(`{"key":"NSE:A"}`))
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := post(""); code != http.StatusUnauthorized {
		t.Errorf("no token: %d", code)
	}
	other, _ := IssueControlToken("other", "ops", time.Minute)
	if code := post("Bearer " + other); code != http.StatusUnauthorized {
		t.Errorf("wrong key: %d", code)
	}
	expired, _ := IssueControlToken("s3cret", "ops", -time.Minute)
	if code := post("Bearer " + expired); code != http.StatusUnauthorized {
		t.Errorf("expired token: %d", code)
	}
	good, err := IssueControlToken("s3cret", "ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if code := post("Bearer " + good); code != http.StatusOK {
		t.Errorf("valid token: %d", code)
	}

	if _, err := IssueControlToken("", "ops", time.Minute); err == nil {
		t.Error("token issued without a secret")
	}
}
