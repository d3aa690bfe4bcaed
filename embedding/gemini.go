package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GeminiConfig 配置 Gemini 嵌入提供者.
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // text-embedding-004
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiProvider 使用 Google Gemini API 执行嵌入.
// 注: Gemini 使用不同的端点格式: /models/{model}:batchEmbedContents
type GeminiProvider struct {
	*BaseProvider
	cfg GeminiConfig
}

// NewGeminiProvider 创建新的 Gemini 嵌入提供者.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}

	return &GeminiProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       "gemini-embedding",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: 768,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

// Gemini TaskType 映射
type geminiTaskType string

const (
	geminiTaskRetrievalQuery    geminiTaskType = "RETRIEVAL_QUERY"
	geminiTaskRetrievalDocument geminiTaskType = "RETRIEVAL_DOCUMENT"
)

type geminiEmbedRequest struct {
	Model    string         `json:"model"`
	Content  geminiContent  `json:"content"`
	TaskType geminiTaskType `json:"taskType,omitempty"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

func mapTaskType(inputType InputType) geminiTaskType {
	if inputType == InputTypeQuery {
		return geminiTaskRetrievalQuery
	}
	return geminiTaskRetrievalDocument
}

// Embed 为给定输入生成嵌入.
func (p *GeminiProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	taskType := mapTaskType(req.InputType)

	requests := make([]geminiEmbedRequest, len(req.Input))
	for i, text := range req.Input {
		requests[i] = geminiEmbedRequest{
			Model:    "models/" + model,
			Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
			TaskType: taskType,
		}
	}

	endpoint := fmt.Sprintf("/models/%s:batchEmbedContents", model)
	respBody, err := p.DoRequest(ctx, "POST", endpoint, geminiBatchEmbedRequest{Requests: requests}, map[string]string{
		"x-goog-api-key": p.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var gResp geminiBatchEmbedResponse
	if err := json.Unmarshal(respBody, &gResp); err != nil {
		return nil, err
	}

	embeddings := make([]EmbeddingData, len(gResp.Embeddings))
	for i, e := range gResp.Embeddings {
		embeddings[i] = EmbeddingData{Index: i, Embedding: e.Values}
	}

	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      model,
		Embeddings: embeddings,
		CreatedAt:  time.Now(),
	}, nil
}

// EmbedQuery 嵌入单个查询.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}
