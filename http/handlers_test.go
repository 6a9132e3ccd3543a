package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"scorecard/db"
	"scorecard/ml"
	"scorecard/monitoring"
	"scorecard/risk"
)

func intRateBundle() *ml.Bundle {
	return &ml.Bundle{
		Version:    ml.BundleVersion,
		Name:       "int_rate_only",
		RiskScheme: ml.SchemeFourTier,
		Features:   []string{"int_rate_woe"},
		Mappings:   map[string]*ml.FeatureMapping{"int_rate": ml.NotebookBundle().Mappings["int_rate"]},
		Model:      ml.LinearModel{Coefficients: map[string]float64{"int_rate_woe": -0.9463}},
		Scoring:    ml.DefaultScoringParams(),
	}
}

type fakeStore struct {
	runs []db.TrainingRun
	err  error
	got  int
}

func (f *fakeStore) LoadTrainingLog(_ context.Context, limit int) ([]db.TrainingRun, error) {
	f.got = limit
	return f.runs, f.err
}

func newTestServer(t *testing.T, holder *risk.Holder, cfg HandlerConfig) *httptest.Server {
	t.Helper()
	if holder == nil {
		svc, err := risk.NewService(intRateBundle())
		if err != nil {
			t.Fatalf("NewService failed: %v", err)
		}
		holder = risk.NewHolder(svc)
	}
	h, err := NewHandler(holder, cfg)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	srv := httptest.NewServer(NewRouter(DefaultServerConfig(), h, nil))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

const application = `{"annual_inc": 50000, "int_rate": 5.0, "purpose": "car"}`

func checkScore(t *testing.T, got CreditScoreResponse) {
	t.Helper()
	if math.Abs(got.CreditScore-538.05) > 1e-9 {
		t.Fatalf("credit_score = %v, want 538.05", got.CreditScore)
	}
	if got.DefaultProbability != 0.1462 {
		t.Fatalf("default_probability = %v, want 0.1462", got.DefaultProbability)
	}
	if got.LogOdds == nil || *got.LogOdds != -1.765 {
		t.Fatalf("log_odds = %v, want -1.765", got.LogOdds)
	}
	if got.RiskLevel != "High Risk" {
		t.Fatalf("risk_level = %q, want High Risk", got.RiskLevel)
	}
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})
	resp, body := get(t, srv.URL+"/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", resp.StatusCode, http.StatusOK)
	}
	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "healthy" || !health.ModelLoaded || health.Version != APIVersion {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestNoModelLoaded(t *testing.T) {
	srv := newTestServer(t, risk.NewHolder(nil), HandlerConfig{})
	resp, body := get(t, srv.URL+"/api/v1/health")
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "unhealthy") {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, body)
	}
	resp, _ = post(t, srv.URL+"/api/v1/predict", application)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("predict without model = %d, want 503", resp.StatusCode)
	}
}

func TestPredictHandler(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})
	resp, body := post(t, srv.URL+"/api/v1/predict", application)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	var got CreditScoreResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	checkScore(t, got)
	if !strings.HasPrefix(got.Message, "Prediction completed in ") {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestPredictHandlerErrors(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})
	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"malformed", `{"annual_inc":`, http.StatusBadRequest, "invalid request body"},
		{"not an object", `[1, 2]`, http.StatusBadRequest, "invalid request body"},
		{"null", `null`, http.StatusBadRequest, "JSON object"},
		{"validation", `{"annual_inc": -5, "int_rate": 75, "purpose": "car"}`, http.StatusUnprocessableEntity, "int_rate must be between"},
		{"missing purpose", `{"annual_inc": 50000, "int_rate": 5}`, http.StatusUnprocessableEntity, "purpose is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+"/api/v1/predict", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Fatalf("expected %q in %s", tt.want, body)
			}
		})
	}
}

func TestPredictMissingFeatureIs422(t *testing.T) {
	b := intRateBundle()
	b.Features = append(b.Features, "open_acc_woe")
	b.Model.Coefficients["open_acc_woe"] = 0.1
	svc, err := risk.NewService(b)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	srv := newTestServer(t, risk.NewHolder(svc), HandlerConfig{})
	resp, body := post(t, srv.URL+"/api/v1/predict", application)
	if resp.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(string(body), "open_acc") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestPredictCache(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{CacheSize: 8})
	before := testutil.ToFloat64(monitoring.CacheHitsTotal)

	for i := 0; i < 3; i++ {
		resp, body := post(t, srv.URL+"/api/v1/predict", application)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
		}
		var got CreditScoreResponse
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		checkScore(t, got)
	}
	if hits := testutil.ToFloat64(monitoring.CacheHitsTotal) - before; hits != 2 {
		t.Fatalf("expected 2 cache hits, got %v", hits)
	}
}

func TestPredictBatchHandler(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})
	body := `{"applications": [` + application + `, {"annual_inc": 50000, "int_rate": 99, "purpose": "car"}, ` + application + `]}`
	resp, data := post(t, srv.URL+"/api/v1/predict/batch", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, data)
	}
	var got BatchPredictionResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalApplications != 3 || len(got.Predictions) != 3 {
		t.Fatalf("unexpected batch %+v", got)
	}
	checkScore(t, got.Predictions[0])
	checkScore(t, got.Predictions[2])

	failed := got.Predictions[1]
	if failed.RiskLevel != ml.RiskLevelError || failed.CreditScore != 0 || failed.DefaultProbability != 1 || failed.LogOdds != nil {
		t.Fatalf("unexpected failed item %+v", failed)
	}
	if len(failed.Errors) == 0 {
		t.Fatal("expected validation messages on the failed item")
	}

	resp, _ = post(t, srv.URL+"/api/v1/predict/batch", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing applications = %d, want 400", resp.StatusCode)
	}
	resp, data = post(t, srv.URL+"/api/v1/predict/batch", `{"applications": []}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"total_applications":0`) {
		t.Fatalf("empty batch = %d %s", resp.StatusCode, data)
	}
}

func TestValidateHandler(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})

	_, body := post(t, srv.URL+"/api/v1/validate", application)
	var ok ValidationResponse
	if err := json.Unmarshal(body, &ok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok.Valid || ok.Errors == nil || len(ok.Errors) != 0 {
		t.Fatalf("unexpected validation %+v (%s)", ok, body)
	}

	_, body = post(t, srv.URL+"/api/v1/validate", `{"int_rate": "high"}`)
	var bad ValidationResponse
	if err := json.Unmarshal(body, &bad); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bad.Valid || len(bad.Errors) != 3 {
		t.Fatalf("unexpected validation %+v", bad)
	}
}

func TestModelEndpoints(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})

	resp, body := get(t, srv.URL+"/api/v1/model/info")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var info risk.ModelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ModelType != risk.ModelType || info.Name != "int_rate_only" || len(info.FeaturesUsed) != 1 {
		t.Fatalf("unexpected info %+v", info)
	}

	_, body = get(t, srv.URL+"/api/v1/model/importance")
	var importance struct {
		FeatureImportance map[string]float64 `json:"feature_importance"`
		TotalFeatures     int                `json:"total_features"`
	}
	if err := json.Unmarshal(body, &importance); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if importance.TotalFeatures != 1 || importance.FeatureImportance["int_rate_woe"] != 0.9463 {
		t.Fatalf("unexpected importance %+v", importance)
	}

	resp, body = get(t, srv.URL+"/info")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/api/v1/predict") {
		t.Fatalf("unexpected info response %d %s", resp.StatusCode, body)
	}
}

func TestHistoryHandler(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})
	if resp, _ := get(t, srv.URL+"/api/v1/model/history"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("history without store = %d, want 503", resp.StatusCode)
	}

	store := &fakeStore{runs: []db.TrainingRun{{ID: 1, ModelName: "woe", AUC: 0.7}}}
	srv = newTestServer(t, nil, HandlerConfig{Store: store})
	resp, body := get(t, srv.URL+"/api/v1/model/history?limit=5")
	if resp.StatusCode != http.StatusOK || store.got != 5 {
		t.Fatalf("unexpected response %d (limit %d)", resp.StatusCode, store.got)
	}
	var got struct {
		Runs  []db.TrainingRun `json:"runs"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 1 || got.Runs[0].ModelName != "woe" {
		t.Fatalf("unexpected history %+v", got)
	}

	if resp, _ := get(t, srv.URL+"/api/v1/model/history?limit=zero"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", resp.StatusCode)
	}
	store.err = errors.New("disk on fire")
	if resp, _ := get(t, srv.URL+"/api/v1/model/history"); resp.StatusCode != http.StatusInternalServerError || store.got != 20 {
		t.Fatalf("store failure = %d (limit %d)", resp.StatusCode, store.got)
	}
}

func TestPredictStream(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/predict"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(application)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var got CreditScoreResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	checkScore(t, got)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"int_rate": 5}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var failed ErrorResponse
	if err := conn.ReadJSON(&failed); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if failed.StatusCode != http.StatusUnprocessableEntity || len(failed.Errors) == 0 {
		t.Fatalf("unexpected error reply %+v", failed)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.ReadJSON(&failed); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if failed.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected error reply %+v", failed)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})
	post(t, srv.URL+"/api/v1/predict", application)
	get(t, srv.URL+"/does/not/exist")

	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	for _, want := range []string{
		`scorecard_http_requests_total{method="POST",path="POST /api/v1/predict",status="200"}`,
		`path="unmatched"`,
		`scorecard_predictions_total{risk_level="High Risk"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in metrics output", want)
		}
	}
}

func TestRequestIDAndHeaders(t *testing.T) {
	srv := newTestServer(t, nil, HandlerConfig{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("request id not echoed: %q", resp.Header.Get(RequestIDHeader))
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}

	resp, _ = get(t, srv.URL+"/api/v1/health")
	if len(resp.Header.Get(RequestIDHeader)) != 36 {
		t.Fatalf("expected generated uuid, got %q", resp.Header.Get(RequestIDHeader))
	}

	req, _ = http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/predict", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Fatalf("unexpected preflight %d %v", resp.StatusCode, resp.Header)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), "internal server error") {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})
	rr := httptest.NewRecorder()
	TimeoutMiddleware(20*time.Millisecond)(slow).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "request timeout") {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}

func TestRequestSizeLimit(t *testing.T) {
	svc, _ := risk.NewService(intRateBundle())
	h, _ := NewHandler(risk.NewHolder(svc), HandlerConfig{})
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 16
	srv := httptest.NewServer(NewRouter(cfg, h, nil))
	defer srv.Close()

	resp, _ := post(t, srv.URL+"/api/v1/predict", application)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized body = %d, want 400", resp.StatusCode)
	}
}
