package agent

import "encoding/json"

// IntentType 查询意图类别。
type IntentType string

const (
	IntentDirectAnswer     IntentType = "DIRECT_ANSWER"
	IntentDocumentQA       IntentType = "DOCUMENT_QA"
	IntentWebSearch        IntentType = "WEB_SEARCH"
	IntentComplexReasoning IntentType = "COMPLEX_REASONING"
)

// Intent 意图分类结果。
type Intent struct {
	Intent     IntentType `json:"intent"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// ThoughtStep 记录一次 思考→行动→观察 的循环。
type ThoughtStep struct {
	Thought     string          `json:"thought"`
	Action      string          `json:"action,omitempty"`
	ActionInput json.RawMessage `json:"action_input,omitempty"`
	Observation string          `json:"observation,omitempty"`
}

// Source 最终答案引用的来源，按插入顺序编号。
type Source struct {
	DocumentID  string `json:"documentId"`
	Title       string `json:"title"`
	TextSnippet string `json:"textSnippet"`
	URL         string `json:"url,omitempty"`
	SourceType  string `json:"sourceType"` // web | pdf
}

// RunRequest Agent 运行输入。
type RunRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

// Response Agent 运行输出。
type Response struct {
	RunID             string        `json:"run_id"`
	Answer            string        `json:"answer"`
	Sources           []Source      `json:"sources"`
	IntermediateSteps []ThoughtStep `json:"intermediate_steps"`
	ModelUsed         string        `json:"model_used"`
	TotalLatencyMs    float64       `json:"total_latency_ms"`
	StepLimitReached  bool          `json:"step_limit_reached,omitempty"`
}

// StreamEventType 流式事件类别。
type StreamEventType string

const (
	EventThinking   StreamEventType = "thinking"
	EventToolCall   StreamEventType = "tool_call"
	EventToolResult StreamEventType = "tool_result"
	EventAnswer     StreamEventType = "answer"
)

// StreamEvent 流式执行事件。
type StreamEvent struct {
	Type     StreamEventType `json:"event_type"`
	Content  string          `json:"content"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}
