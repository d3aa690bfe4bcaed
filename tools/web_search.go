package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prismlabs/prism/llm"
)

// WebSearchError 网络搜索后端错误。
type WebSearchError struct {
	Provider string
	Message  string
}

func (e *WebSearchError) Error() string {
	return fmt.Sprintf("web search failed (%s): %s", e.Provider, e.Message)
}

// WebSearchProvider 网络搜索后端接口。
// 可包装 Tavily、SerpAPI、Jina、Google Custom Search 等实现。
type WebSearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]WebSearchResult, error)
	Name() string
}

// WebSearchResult 单条搜索结果。
type WebSearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// TavilyConfig Tavily 搜索配置。
type TavilyConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// TavilyProvider Tavily 搜索实现。
type TavilyProvider struct {
	cfg    TavilyConfig
	client *http.Client
}

// NewTavilyProvider creates a Tavily web search backend.
func NewTavilyProvider(cfg TavilyConfig) *TavilyProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.tavily.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &TavilyProvider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *TavilyProvider) Name() string { return "tavily" }

type tavilySearchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilySearchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int) ([]WebSearchResult, error) {
	body := tavilySearchRequest{APIKey: p.cfg.APIKey, Query: query, MaxResults: maxResults}
	payload, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, &WebSearchError{Provider: p.Name(), Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &WebSearchError{Provider: p.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &WebSearchError{
			Provider: p.Name(),
			Message:  fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(raw)),
		}
	}

	var tResp tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&tResp); err != nil {
		return nil, &WebSearchError{Provider: p.Name(), Message: err.Error()}
	}

	results := make([]WebSearchResult, 0, len(tResp.Results))
	for _, item := range tResp.Results {
		results = append(results, WebSearchResult{
			Title:   item.Title,
			URL:     item.URL,
			Snippet: item.Content,
			Score:   item.Score,
		})
	}
	return results, nil
}

// WebSearchToolConfig web_search 工具配置。
type WebSearchToolConfig struct {
	Provider   WebSearchProvider
	MaxResults int
	// RatePerMin 每分钟最大调用数，防止 Agent 循环打爆搜索配额。
	RatePerMin int
}

// DefaultWebSearchToolConfig returns sensible defaults.
func DefaultWebSearchToolConfig(provider WebSearchProvider) WebSearchToolConfig {
	return WebSearchToolConfig{
		Provider:   provider,
		MaxResults: 5,
		RatePerMin: 30,
	}
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

var webSearchSchema = llm.ToolSchema{
	Name: "web_search",
	Description: "Search the web for up-to-date information. " +
		"Use this tool when the user's question requires current events, " +
		"public facts, or information not present in the uploaded document.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The web search query"},
			"max_results": {"type": "integer", "description": "Number of results to return (default: 5)", "default": 5}
		}
	}`),
	Required: []string{"query"},
}

// RegisterWebSearch 注册 web_search 工具，带每分钟限速。
func RegisterWebSearch(registry *Registry, config WebSearchToolConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("tool", "web_search"))

	ratePerMin := config.RatePerMin
	if ratePerMin <= 0 {
		ratePerMin = 30
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), ratePerMin)

	handler := func(ctx context.Context, args json.RawMessage) Result {
		var params webSearchArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return Failure("INVALID_ARGUMENTS", err.Error())
		}
		if params.Query == "" {
			return Failure("INVALID_ARGUMENTS", "query is required")
		}
		if config.Provider == nil {
			return Failure("PROVIDER_NOT_CONFIGURED", "web search provider not configured")
		}

		if !limiter.Allow() {
			log.Warn("web search rate limit exceeded")
			return Failure("RATE_LIMITED", "web search rate limit exceeded, try again later")
		}

		maxResults := params.MaxResults
		if maxResults <= 0 {
			maxResults = config.MaxResults
		}

		start := time.Now()
		results, err := config.Provider.Search(ctx, params.Query, maxResults)
		if err != nil {
			log.Error("web search failed", zap.Error(err))
			return Failure("SEARCH_FAILED", err.Error())
		}

		log.Info("web search completed",
			zap.String("provider", config.Provider.Name()),
			zap.Int("results", len(results)),
			zap.Duration("duration", time.Since(start)))
		return Success(results)
	}

	return registry.Register(webSearchSchema, handler)
}
