package tools

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/prismlabs/prism/llm"
	"github.com/prismlabs/prism/retrieval"
)

// documentSearchArgs document_search 工具入参。
type documentSearchArgs struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	K          int    `json:"k,omitempty"`
}

// documentSearchHit 供 Agent 消费的精简结果。
type documentSearchHit struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	Section        string  `json:"section"`
	Page           int     `json:"page,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

var documentSearchSchema = llm.ToolSchema{
	Name: "document_search",
	Description: "Search for relevant information in an uploaded document. " +
		"Use this tool when you need to find specific information, " +
		"facts, or context from the user's document.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query to find relevant content"},
			"document_id": {"type": "string", "description": "The ID of the document to search"},
			"user_id": {"type": "string", "description": "The ID of the user making the request"},
			"k": {"type": "integer", "description": "Number of results to return (default: 10)", "default": 10}
		}
	}`),
	Required: []string{"query", "document_id", "user_id"},
}

// RegisterDocumentSearch 注册 document_search 工具。
// 有 document_id 走混合检索，否则退化为向量检索由服务层处理。
func RegisterDocumentSearch(registry *Registry, svc *retrieval.Service, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("tool", "document_search"))

	handler := func(ctx context.Context, args json.RawMessage) Result {
		var params documentSearchArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return Failure("INVALID_ARGUMENTS", err.Error())
		}
		if params.Query == "" {
			return Failure("INVALID_ARGUMENTS", "query is required")
		}
		if params.K <= 0 {
			params.K = 10
		}

		mode := retrieval.ModeHybrid
		if params.DocumentID == "" {
			mode = retrieval.ModeVector
		}

		chunks, err := svc.Retrieve(ctx, retrieval.RetrieveRequest{
			Query:      params.Query,
			UserID:     params.UserID,
			DocumentID: params.DocumentID,
			Mode:       mode,
			TopK:       params.K,
			Rerank:     true,
		})
		if err != nil {
			log.Error("document search failed", zap.Error(err))
			return Failure("RETRIEVAL_FAILED", err.Error())
		}

		hits := make([]documentSearchHit, 0, len(chunks))
		for _, chunk := range chunks {
			hit := documentSearchHit{
				ID:             chunk.ID,
				Text:           chunk.Text,
				Section:        metaString(chunk.Metadata, "section_path", "unknown"),
				RelevanceScore: 1.0 - chunk.Distance,
			}
			if page, ok := chunk.Metadata["page_number"]; ok {
				switch v := page.(type) {
				case int:
					hit.Page = v
				case float64:
					hit.Page = int(v)
				}
			}
			hits = append(hits, hit)
		}

		log.Info("document search returned results",
			zap.String("document_id", params.DocumentID),
			zap.Int("results", len(hits)))
		return Success(hits)
	}

	return registry.Register(documentSearchSchema, handler)
}

func metaString(meta map[string]any, key, def string) string {
	if meta == nil {
		return def
	}
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return def
}
