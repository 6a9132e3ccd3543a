package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"scorecard/db"
	"scorecard/monitoring"
	"scorecard/risk"
)

// APIVersion 接口版本
const APIVersion = "1.0.0"

// Store 训练历史的只读接口
type Store interface {
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingRun, error)
}

// HandlerConfig 处理器配置
type HandlerConfig struct {
	Store          Store
	CacheSize      int
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Handler 评分接口处理器，模型通过 Holder 注入
type Handler struct {
	holder   *risk.Holder
	store    Store
	cache    *lru.Cache[string, risk.Result]
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(holder *risk.Holder, cfg HandlerConfig) (*Handler, error) {
	if holder == nil {
		return nil, errors.New("nil model holder")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{holder: holder, store: cfg.Store, logger: logger}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, risk.Result](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		h.cache = cache
	}
	origins := cfg.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origins, origin)
		},
	}
	return h, nil
}

// Register 注册全部路由
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("POST /api/v1/predict", h.handlePredict)
	mux.HandleFunc("POST /api/v1/predict/batch", h.handlePredictBatch)
	mux.HandleFunc("POST /api/v1/validate", h.handleValidate)
	mux.HandleFunc("GET /api/v1/model/info", h.handleModelInfo)
	mux.HandleFunc("GET /api/v1/model/importance", h.handleImportance)
	mux.HandleFunc("GET /api/v1/model/history", h.handleHistory)
	mux.HandleFunc("GET /api/v1/ws/predict", h.handleStream)
	mux.HandleFunc("GET /info", handleInfo)
	mux.Handle("GET /metrics", monitoring.Handler())
}

// CreditScoreResponse 单笔评分结果
type CreditScoreResponse struct {
	CreditScore        float64  `json:"credit_score"`
	DefaultProbability float64  `json:"default_probability"`
	RiskLevel          string   `json:"risk_level"`
	LogOdds            *float64 `json:"log_odds"`
	Message            string   `json:"message,omitempty"`
	Errors             []string `json:"errors,omitempty"`
}

// BatchPredictionRequest 批量评分请求
type BatchPredictionRequest struct {
	Applications []map[string]any `json:"applications"`
}

// BatchPredictionResponse 批量评分结果
type BatchPredictionResponse struct {
	Predictions       []CreditScoreResponse `json:"predictions"`
	TotalApplications int                   `json:"total_applications"`
	ProcessingTime    float64               `json:"processing_time"`
}

// HealthResponse 健康检查结果
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
	Timestamp   string `json:"timestamp"`
}

// ValidationResponse 输入校验结果
type ValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error      string   `json:"error"`
	Detail     string   `json:"detail,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	StatusCode int      `json:"status_code"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   APIVersion,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if h.holder.Load() == nil {
		resp.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.ModelLoaded = true
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	svc := h.service(w)
	if svc == nil {
		return
	}
	start := time.Now()

	raw, err := decodeApplication(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	resp, status := h.score(r.Context(), svc, raw)
	if status == http.StatusOK {
		resp.Message = fmt.Sprintf("Prediction completed in %.3fs", time.Since(start).Seconds())
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: resp.Message, Errors: resp.Errors, StatusCode: status})
}

// score 校验并评分；非200时 Message 为错误原因
func (h *Handler) score(ctx context.Context, svc *risk.Service, raw map[string]any) (CreditScoreResponse, int) {
	if ok, problems := svc.Validate(raw); !ok {
		monitoring.RecordPredictionError("validation")
		return CreditScoreResponse{Message: "validation failed", Errors: problems}, http.StatusUnprocessableEntity
	}

	key := h.cacheKey(svc, raw)
	if key != "" {
		if result, ok := h.cache.Get(key); ok {
			monitoring.RecordCacheHit()
			return toResponse(result), http.StatusOK
		}
	}

	result, err := svc.Predict(raw)
	if err != nil {
		h.logger.Warn("prediction failed", zap.String("request_id", GetRequestID(ctx)), zap.Error(err))
		if risk.IsInputError(err) {
			return CreditScoreResponse{Message: err.Error()}, http.StatusUnprocessableEntity
		}
		return CreditScoreResponse{Message: "prediction failed: " + err.Error()}, http.StatusInternalServerError
	}
	if key != "" {
		h.cache.Add(key, result)
	}
	return toResponse(result), http.StatusOK
}

// cacheKey 由模型指纹和规范化的输入JSON组成
func (h *Handler) cacheKey(svc *risk.Service, raw map[string]any) string {
	if h.cache == nil {
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return svc.Fingerprint() + ":" + string(data)
}

func (h *Handler) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	svc := h.service(w)
	if svc == nil {
		return
	}
	start := time.Now()

	var req BatchPredictionRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Applications == nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "applications is required")
		return
	}

	items := svc.PredictBatch(req.Applications)
	resp := BatchPredictionResponse{
		Predictions:       make([]CreditScoreResponse, len(items)),
		TotalApplications: len(req.Applications),
	}
	for i, item := range items {
		if item.Error != "" {
			resp.Predictions[i] = CreditScoreResponse{
				CreditScore:        item.CreditScore,
				DefaultProbability: item.DefaultProbability,
				RiskLevel:          item.RiskLevel,
				Message:            item.Error,
				Errors:             item.Errors,
			}
			continue
		}
		resp.Predictions[i] = toResponse(item.Result)
		resp.Predictions[i].Message = "Batch prediction completed"
	}
	resp.ProcessingTime = round(time.Since(start).Seconds(), 4)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	svc := h.service(w)
	if svc == nil {
		return
	}
	raw, err := decodeApplication(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ok, problems := svc.Validate(raw)
	if problems == nil {
		problems = []string{}
	}
	writeJSON(w, http.StatusOK, ValidationResponse{Valid: ok, Errors: problems})
}

func (h *Handler) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	svc := h.service(w)
	if svc == nil {
		return
	}
	writeJSON(w, http.StatusOK, svc.Info())
}

func (h *Handler) handleImportance(w http.ResponseWriter, r *http.Request) {
	svc := h.service(w)
	if svc == nil {
		return
	}
	importance := svc.Importance()
	writeJSON(w, http.StatusOK, map[string]any{
		"feature_importance": importance,
		"total_features":     len(importance),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "training history is not configured", "")
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = l
	}
	runs, err := h.store.LoadTrainingLog(r.Context(), limit)
	if err != nil {
		h.logger.Error("load training log failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load training history", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": len(runs)})
}

// streamIdleTimeout 评分流空闲超时
const streamIdleTimeout = 5 * time.Minute

// handleStream 每条文本消息是一份申请JSON，逐条返回评分结果
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	monitoring.ActiveWebSocketClients.Inc()
	defer monitoring.ActiveWebSocketClients.Dec()

	requestID := GetRequestID(r.Context())
	h.logger.Info("scoring stream opened", zap.String("request_id", requestID))
	conn.SetReadLimit(1 << 20)

	for {
		conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("scoring stream error", zap.String("request_id", requestID), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var reply any
		svc := h.holder.Load()
		raw, err := decodeApplication(bytes.NewReader(data))
		switch {
		case svc == nil:
			reply = ErrorResponse{Error: "model not loaded", StatusCode: http.StatusServiceUnavailable}
		case err != nil:
			reply = ErrorResponse{Error: "invalid message", Detail: err.Error(), StatusCode: http.StatusBadRequest}
		default:
			resp, status := h.score(r.Context(), svc, raw)
			if status == http.StatusOK {
				reply = resp
			} else {
				reply = ErrorResponse{Error: resp.Message, Errors: resp.Errors, StatusCode: status}
			}
		}

		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Warn("scoring stream write failed", zap.String("request_id", requestID), zap.Error(err))
			return
		}
	}
}

func handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "Credit Risk Scorecard API",
		"version":     APIVersion,
		"description": "Predict loan default probability and credit score using logistic regression + WOE pipeline",
		"endpoints": []string{
			"/api/v1/health",
			"/api/v1/predict",
			"/api/v1/predict/batch",
			"/api/v1/validate",
			"/api/v1/model/info",
			"/api/v1/model/importance",
			"/api/v1/model/history",
			"/api/v1/ws/predict",
			"/metrics",
		},
	})
}

// service 返回当前模型，未加载时写入503
func (h *Handler) service(w http.ResponseWriter) *risk.Service {
	svc := h.holder.Load()
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "model not loaded", "")
	}
	return svc
}

func toResponse(r risk.Result) CreditScoreResponse {
	logOdds := round(r.LogOdds, 4)
	return CreditScoreResponse{
		CreditScore:        round(r.CreditScore, 2),
		DefaultProbability: round(r.DefaultProbability, 4),
		RiskLevel:          r.RiskLevel,
		LogOdds:            &logOdds,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// decodeApplication 解析一份申请，数字保留为 json.Number
func decodeApplication(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("application must be a JSON object")
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Detail: detail, StatusCode: status})
}
