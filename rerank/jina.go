package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// JinaConfig Jina 重排序配置。
type JinaConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// JinaReranker implements reranking using Jina AI's API.
type JinaReranker struct {
	cfg    JinaConfig
	client *http.Client
}

// NewJinaReranker creates a new Jina reranker.
func NewJinaReranker(cfg JinaConfig) *JinaReranker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.jina.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "jina-reranker-v2-base-multilingual"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &JinaReranker{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *JinaReranker) Name() string { return "jina-rerank" }

type jinaRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type jinaRerankResponse struct {
	Model   string `json:"model"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Rerank reranks documents using Jina AI. 结果按相关性降序。
func (r *JinaReranker) Rerank(ctx context.Context, query string, documents []Document, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	topN = clampTopN(topN, len(documents))

	docs := make([]string, len(documents))
	for i, d := range documents {
		docs[i] = d.Text
	}

	body := jinaRerankRequest{
		Query:     query,
		Documents: docs,
		Model:     r.cfg.Model,
		TopN:      topN,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(r.cfg.BaseURL, "/")+"/v1/rerank",
		bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jina rerank request build failed: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jina rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jina rerank error: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var jResp jinaRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&jResp); err != nil {
		return nil, fmt.Errorf("failed to decode jina response: %w", err)
	}

	results := make([]RerankResult, 0, len(jResp.Results))
	for _, item := range jResp.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		results = append(results, RerankResult{
			Index:          item.Index,
			RelevanceScore: item.RelevanceScore,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
