package shapeengine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"shapefinder/internal/shape"
)

func serve(svc *Service, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	svc.router().ServeHTTP(w, httptest.NewRequest(method, target, &buf))
	return w
}

type analyzeReply struct {
	Config    shape.Config     `json:"config"`
	Lag       int              `json:"lag"`
	Guard     int              `json:"guard"`
	KeyPoints []shape.KeyPoint `json:"key_points"`
	Breakouts []shape.Breakout `json:"breakouts"`
}

func TestAnalyzeEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	series := highs(swingCandles("X", 60, 600))

	w := serve(svc, http.MethodPost, "/analyze", map[string]interface{}{"series": series})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var got analyzeReply
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want, _ := shape.Analyze(series, shape.DefaultConfig())
	if len(got.Breakouts) != len(want.Breakouts) || len(got.KeyPoints) != len(want.KeyPoints) {
		t.Errorf("breakouts %d/%d, key points %d/%d",
			len(got.Breakouts), len(want.Breakouts), len(got.KeyPoints), len(want.KeyPoints))
	}
	if got.Lag != 4 || got.Guard != 17 {
		t.Errorf("lag %d guard %d, want 4 and 17", got.Lag, got.Guard)
	}

	w = serve(svc, http.MethodPost, "/analyze", map[string]interface{}{
		"series": series,
		"config": map[string]interface{}{"half_width_up": 10, "tie_policy": "prefer-up"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("override status %d: %s", w.Code, w.Body)
	}
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Config.HalfWidthUp != 10 || got.Config.TiePolicy != shape.TiePreferUp || got.Config.HalfWidthDown != 6 {
		t.Errorf("effective config = %+v", got.Config)
	}
}

func TestAnalyzeEndpoint_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	cases := []struct {
		name   string
		method string
		body   interface{}
		want   int
	}{
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"empty", http.MethodPost, map[string]interface{}{"series": []float64{}}, http.StatusBadRequest},
		{"bad config", http.MethodPost, map[string]interface{}{
			"series": []float64{1, 2, 3},
			"config": map[string]interface{}{"smooth_width": 0},
		}, http.StatusBadRequest},
		{"not json", http.MethodPost, "[", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := serve(svc, tc.method, "/analyze", tc.body); w.Code != tc.want {
				t.Errorf("status %d, want %d: %s", w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestDetectorsEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, tok := range []string{"A", "B"} {
		for _, c := range swingCandles(tok, 60, 80) {
			svc.handleCandle(ctx, c)
		}
	}

	var body struct {
		Count     int `json:"count"`
		Detectors []struct {
			Token string `json:"token"`
			TF    int    `json:"tf"`
			Next  int    `json:"next"`
		} `json:"detectors"`
	}
	w := serve(svc, http.MethodGet, "/detectors", nil)
	json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusOK || body.Count != 2 {
		t.Fatalf("status %d count %d", w.Code, body.Count)
	}

	w = serve(svc, http.MethodGet, "/detectors?key=NSE:B", nil)
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Count != 1 || body.Detectors[0].Token != "B" || body.Detectors[0].Next != 80 {
		t.Errorf("filtered = %+v", body)
	}

	w = serve(svc, http.MethodGet, "/detectors?tf=300", nil)
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Count != 0 {
		t.Errorf("tf=300 count = %d", body.Count)
	}
}

func TestResetEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	for _, c := range swingCandles("A", 60, 50) {
		svc.handleCandle(context.Background(), c)
	}

	w := serve(svc, http.MethodPost, "/detectors/reset", controlCommand{Key: "NSE:A"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var res controlResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Status != "ok" || res.Reset != 1 || svc.engine.Count() != 0 {
		t.Errorf("reset = %+v, detectors left %d", res, svc.engine.Count())
	}

	if w := serve(svc, http.MethodPost, "/detectors/reset", controlCommand{Action: "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("bogus action status %d", w.Code)
	}
	if w := serve(svc, http.MethodGet, "/detectors/reset", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status %d", w.Code)
	}
}
