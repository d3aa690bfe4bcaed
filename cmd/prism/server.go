package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prismlabs/prism/agent"
	"github.com/prismlabs/prism/cache"
	"github.com/prismlabs/prism/config"
	"github.com/prismlabs/prism/embedding"
	"github.com/prismlabs/prism/internal/telemetry"
	"github.com/prismlabs/prism/llm"
	"github.com/prismlabs/prism/llm/providers"
	geminillm "github.com/prismlabs/prism/llm/providers/gemini"
	openaillm "github.com/prismlabs/prism/llm/providers/openai"
	"github.com/prismlabs/prism/rerank"
	"github.com/prismlabs/prism/retrieval"
	"github.com/prismlabs/prism/tools"
)

// =============================================================================
// 🖥️ App 结构
// =============================================================================

// App 持有全部依赖，显式构造、显式注入，无进程级单例。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	rdb          *redis.Client
	chunkCache   *cache.ChunkCache
	metrics      *telemetry.Collector
	indexManager *retrieval.IndexManager
	retrieveSvc  *retrieval.Service
	reactAgent   *agent.ReActAgent

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewApp 按配置构建整个依赖图。
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	// Redis（可选）
	if cfg.Redis.Enabled {
		app.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	}

	// 指标
	app.metrics = telemetry.NewCollector("prism", prometheus.DefaultRegisterer, logger)

	// 缓存
	app.chunkCache = cache.New(app.rdb, cache.Config{
		LocalMaxSize: cfg.Retrieval.CacheSize,
		TTL:          cfg.Retrieval.CacheTTL,
		EnableRedis:  app.rdb != nil,
		KeyPrefix:    "chunks:",
	}, logger)

	// 嵌入
	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	// 存储
	vectorStore := retrieval.NewInMemoryVectorStore(logger)
	bm25Store, err := buildBM25Store(cfg.Retrieval, app.rdb, logger)
	if err != nil {
		return nil, err
	}

	hybridCfg := retrieval.DefaultHybridConfig()
	hybridCfg.VectorWeight = cfg.Retrieval.VectorWeight
	hybridCfg.BM25Weight = cfg.Retrieval.BM25Weight
	hybridCfg.RRFConstant = cfg.Retrieval.RRFConstant
	hybrid := retrieval.NewHybridRetriever(vectorStore, bm25Store, hybridCfg, logger)

	app.indexManager = retrieval.NewIndexManager(vectorStore, bm25Store, hybridCfg.BM25, logger)

	// 重排序链：远程主 + 规则兜底
	reranker := buildReranker(cfg.Rerank, logger)

	app.retrieveSvc = retrieval.NewService(
		retrieval.ServiceConfig{
			DefaultTopK:   cfg.Retrieval.TopK,
			RerankEnabled: cfg.Rerank.Enabled,
			RerankTopN:    cfg.Rerank.TopN,
		},
		embedder, vectorStore, hybrid, reranker, app.chunkCache, app.metrics, logger,
	)

	// LLM Provider
	provider, err := buildLLMProvider(cfg.LLM, app.metrics, logger)
	if err != nil {
		return nil, err
	}

	// 工具
	registry := tools.NewRegistry(logger)
	if err := tools.RegisterDocumentSearch(registry, app.retrieveSvc, logger); err != nil {
		return nil, err
	}
	if cfg.WebSearch.Enabled && cfg.WebSearch.TavilyAPIKey != "" {
		webCfg := tools.WebSearchToolConfig{
			Provider:   tools.NewTavilyProvider(tools.TavilyConfig{APIKey: cfg.WebSearch.TavilyAPIKey}),
			MaxResults: cfg.WebSearch.MaxResults,
			RatePerMin: cfg.WebSearch.RatePerMin,
		}
		if err := tools.RegisterWebSearch(registry, webCfg, logger); err != nil {
			return nil, err
		}
	}
	if err := tools.RegisterFinish(registry); err != nil {
		return nil, err
	}

	// Agent
	model := cfg.LLM.OpenAIModel
	if cfg.LLM.Provider == "gemini" {
		model = cfg.LLM.GeminiModel
	}
	router := agent.NewIntentRouter(provider, model, logger)
	app.reactAgent = agent.NewReActAgent(provider, registry, router, agent.Config{
		Model:                model,
		MaxSteps:             cfg.Agent.MaxSteps,
		MaxTokens:            cfg.Agent.MaxTokens,
		Temperature:          float32(cfg.Agent.Temperature),
		MaxObservationTokens: cfg.Agent.MaxObservationTokens,
	}, app.metrics, logger)

	return app, nil
}

func buildEmbedder(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case "gemini":
		return embedding.NewGeminiProvider(embedding.GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

func buildBM25Store(cfg config.RetrievalConfig, rdb *redis.Client, logger *zap.Logger) (retrieval.BM25IndexStore, error) {
	switch cfg.BM25Store {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("bm25_store=redis requires redis.enabled=true")
		}
		return retrieval.NewRedisBM25Store(rdb, "bm25:", logger), nil
	default:
		return retrieval.NewFileBM25Store(cfg.BM25Dir, logger)
	}
}

func buildReranker(cfg config.RerankConfig, logger *zap.Logger) rerank.Reranker {
	ruleBased := rerank.NewRuleBasedReranker()
	if cfg.Provider == "jina" && cfg.JinaAPIKey != "" {
		primary := rerank.NewJinaReranker(rerank.JinaConfig{
			APIKey: cfg.JinaAPIKey,
			Model:  cfg.JinaModel,
		})
		return rerank.NewFallbackReranker(primary, ruleBased, logger)
	}
	if cfg.Provider == "jina" {
		logger.Warn("jina api key not configured, using rule-based reranker")
	}
	return ruleBased
}

func buildLLMProvider(cfg config.LLMConfig, metrics *telemetry.Collector, logger *zap.Logger) (llm.Provider, error) {
	retryCfg := providers.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryInitialDelay > 0 {
		retryCfg.InitialDelay = cfg.RetryInitialDelay
	}
	if cfg.RetryMaxDelay > 0 {
		retryCfg.MaxDelay = cfg.RetryMaxDelay
	}

	var provider llm.Provider
	switch cfg.Provider {
	case "openai":
		provider = openaillm.New(providers.OpenAIConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				APIKey:  cfg.OpenAIAPIKey,
				BaseURL: cfg.BaseURL,
				Model:   cfg.OpenAIModel,
				Timeout: cfg.Timeout,
			},
		}, logger)
	case "gemini":
		inner := geminillm.New(providers.GeminiConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				APIKey:  cfg.GeminiAPIKey,
				BaseURL: cfg.BaseURL,
				Model:   cfg.GeminiModel,
				Timeout: cfg.Timeout,
			},
		}, logger)
		// Gemini 免费额度限流频繁，带重试包装
		provider = providers.NewRetryableProvider(inner, retryCfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}

	// 指标包装在最外层，重试消耗的总时长记为一次请求
	return providers.NewInstrumentedProvider(provider, metrics), nil
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动 HTTP 与 Metrics 服务。
func (a *App) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /v1/retrieve", a.handleRetrieve)
	mux.HandleFunc("POST /v1/documents", a.handleIndexDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", a.handleDeleteDocument)
	mux.HandleFunc("POST /v1/agent/run", a.handleAgentRun)
	mux.HandleFunc("POST /v1/agent/stream", a.handleAgentStream)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		a.logger.Info("metrics server listening", zap.String("addr", a.metricsServer.Addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown 阻塞直到收到退出信号，然后优雅关闭。
func (a *App) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	a.logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.Teardown(shutdownCtx)
}

// Teardown 释放全部资源。测试可直接调用来重置状态。
func (a *App) Teardown(ctx context.Context) {
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown failed", zap.Error(err))
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.chunkCache != nil {
		a.chunkCache.Purge()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}

// =============================================================================
// 🌐 HTTP Handlers
// =============================================================================

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (a *App) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieval.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results, err := a.retrieveSvc.Retrieve(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type indexDocumentRequest struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	Chunks     []struct {
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata,omitempty"`
	} `json:"chunks"`
}

func (a *App) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var req indexDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DocumentID == "" || len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("document_id and chunks are required"))
		return
	}

	chunks := make([]retrieval.Chunk, len(req.Chunks))
	texts := make([]string, len(req.Chunks))
	for i, c := range req.Chunks {
		chunks[i] = retrieval.Chunk{
			ID:       retrieval.ChunkID(req.DocumentID, i),
			Text:     c.Text,
			Metadata: c.Metadata,
		}
		texts[i] = c.Text
	}

	embedResp, err := a.retrieveSvc.Embedder().Embed(r.Context(), &embedding.EmbeddingRequest{
		Input:     texts,
		InputType: embedding.InputTypeDocument,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("embed document: %w", err))
		return
	}
	embeddings := make([][]float64, len(embedResp.Embeddings))
	for _, d := range embedResp.Embeddings {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}

	start := time.Now()
	result, err := a.indexManager.IndexDocument(r.Context(), retrieval.IndexDocumentRequest{
		DocumentID: req.DocumentID,
		UserID:     req.UserID,
		Chunks:     chunks,
		Embeddings: embeddings,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordIndexOp("index", status, time.Since(start))
	if err != nil {
		if errors.Is(err, retrieval.ErrIndexInconsistent) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *App) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("document id is required"))
		return
	}

	start := time.Now()
	result, err := a.indexManager.DeleteDocument(r.Context(), documentID)
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordIndexOp("delete", status, time.Since(start))
	if err != nil {
		if errors.Is(err, retrieval.ErrIndexInconsistent) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *App) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	var req agent.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.reactAgent.Run(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAgentStream 以 SSE 推送 Agent 执行事件流。
func (a *App) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	var req agent.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for event := range a.reactAgent.Stream(r.Context(), req) {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	// 不把内部细节整段吐给客户端
	if status == http.StatusInternalServerError && len(msg) > 200 {
		msg = msg[:200]
	}
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
