package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/prismlabs/prism/internal/telemetry"
	"github.com/prismlabs/prism/llm"
	"github.com/prismlabs/prism/tools"
)

// DefaultMaxSteps 推理步数上限，防止无限循环。
const DefaultMaxSteps = 10

// Config ReAct Agent 配置。
type Config struct {
	Model                string  `yaml:"model" json:"model"`
	MaxSteps             int     `yaml:"max_steps" json:"max_steps"`
	MaxTokens            int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature          float32 `yaml:"temperature" json:"temperature"`
	MaxObservationTokens int     `yaml:"max_observation_tokens" json:"max_observation_tokens"`
}

// DefaultConfig returns the default agent config.
func DefaultConfig() Config {
	return Config{
		MaxSteps:             DefaultMaxSteps,
		MaxTokens:            1000,
		Temperature:          0.3,
		MaxObservationTokens: 4000,
	}
}

// ReActAgent 实现 思考→行动→观察 的推理循环，基于原生工具调用。
// 单次运行内严格串行，多次运行可跨请求并发。
type ReActAgent struct {
	provider llm.Provider
	registry *tools.Registry
	router   *IntentRouter
	config   Config
	metrics  *telemetry.Collector
	logger   *zap.Logger
	encoder  *tiktoken.Tiktoken
}

// NewReActAgent creates a ReAct agent. router、metrics 可为 nil。
func NewReActAgent(
	provider llm.Provider,
	registry *tools.Registry,
	router *IntentRouter,
	config Config,
	metrics *telemetry.Collector,
	logger *zap.Logger,
) *ReActAgent {
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultMaxSteps
	}
	if config.MaxObservationTokens <= 0 {
		config.MaxObservationTokens = 4000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// 观察值截断按 token 计数；取不到编码表时退化为字符截断
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to rune truncation", zap.Error(err))
		encoder = nil
	}
	return &ReActAgent{
		provider: provider,
		registry: registry,
		router:   router,
		config:   config,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "react_agent")),
		encoder:  encoder,
	}
}

// Run 执行完整的推理循环并返回最终答案。
// 永远不返回空答案：要么模型主动 finish，要么步数耗尽后合成兜底答案。
func (a *ReActAgent) Run(ctx context.Context, req RunRequest) (*Response, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := a.logger.With(zap.String("run_id", runID), zap.String("user_id", req.UserID))

	intentLabel := "unknown"
	if a.router != nil {
		intent := a.router.Classify(ctx, req.Query)
		intentLabel = string(intent.Intent)
		log.Debug("intent classified",
			zap.String("intent", string(intent.Intent)),
			zap.Float64("confidence", intent.Confidence))

		// 高置信度问候直接短路，不进入工具循环
		if intent.Intent == IntentDirectAnswer && intent.Confidence >= 0.9 {
			resp := &Response{
				RunID:             runID,
				Answer:            directAnswer(req.Query),
				Sources:           []Source{},
				IntermediateSteps: []ThoughtStep{},
				ModelUsed:         a.modelName(),
				TotalLatencyMs:    float64(time.Since(start).Microseconds()) / 1000.0,
			}
			a.recordRun(intentLabel, "direct", 0, time.Since(start))
			return resp, nil
		}
	}

	state := newRunState(req, a.buildInitialHistory(req))

	for state.step < a.config.MaxSteps {
		state.step++
		log.Debug("react step", zap.Int("step", state.step), zap.Int("max_steps", a.config.MaxSteps))

		thought, toolCall, err := a.callModel(ctx, state.history)
		if err != nil {
			a.recordRun(intentLabel, "error", state.step, time.Since(start))
			return nil, fmt.Errorf("agent step %d: %w", state.step, err)
		}

		step := ThoughtStep{Thought: thought}
		if toolCall != nil {
			step.Action = toolCall.Name
			step.ActionInput = toolCall.Arguments
		}

		if toolCall != nil && toolCall.Name == tools.FinishToolName {
			answer, err := tools.ParseFinishArgs(toolCall.Arguments)
			if err != nil {
				log.Warn("finish arguments unparseable", zap.Error(err))
				answer = thought
			}
			state.steps = append(state.steps, step)
			state.finalAnswer = answer
			break
		}

		if toolCall == nil {
			// 无工具调用：追问模型继续调用工具或 finish
			if thought == "" {
				thought = "I need to think about this..."
				step.Thought = thought
			}
			state.history = append(state.history,
				llm.Message{Role: llm.RoleAssistant, Content: thought},
				llm.Message{Role: llm.RoleUser, Content: continuePrompt},
			)
			state.steps = append(state.steps, step)
			continue
		}

		observation := a.executeTool(ctx, toolCall, req.UserID)
		step.Observation = observation
		state.observations = append(state.observations, observation)
		state.steps = append(state.steps, step)

		extractSources(toolCall.Name, observation, &state.sources)

		state.history = append(state.history,
			llm.Message{Role: llm.RoleAssistant, Content: thought, ToolCalls: []llm.ToolCall{*toolCall}},
			llm.Message{Role: llm.RoleTool, Name: toolCall.Name, ToolCallID: toolCall.ID, Content: observation},
		)
	}

	stepLimitReached := false
	if state.finalAnswer == "" {
		stepLimitReached = true
		log.Warn("step limit reached, synthesizing answer", zap.Int("max_steps", a.config.MaxSteps))
		state.finalAnswer = a.synthesizeAnswer(ctx, req.Query, state.observations)
	}

	status := "finished"
	if stepLimitReached {
		status = "step_limit"
	}
	a.recordRun(intentLabel, status, state.step, time.Since(start))

	return &Response{
		RunID:             runID,
		Answer:            state.finalAnswer,
		Sources:           state.sources,
		IntermediateSteps: state.steps,
		ModelUsed:         a.modelName(),
		TotalLatencyMs:    float64(time.Since(start).Microseconds()) / 1000.0,
		StepLimitReached:  stepLimitReached,
	}, nil
}

// Stream 执行推理循环并按序发出事件：thinking | tool_call | tool_result | answer。
// 通道在运行结束后关闭。
func (a *ReActAgent) Stream(ctx context.Context, req RunRequest) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		a.streamRun(ctx, req, events)
	}()
	return events
}

func (a *ReActAgent) streamRun(ctx context.Context, req RunRequest, events chan<- StreamEvent) {
	start := time.Now()
	emit := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if a.router != nil {
		intent := a.router.Classify(ctx, req.Query)
		if intent.Intent == IntentDirectAnswer && intent.Confidence >= 0.9 {
			emit(StreamEvent{Type: EventThinking, Content: "This is a simple greeting, responding directly."})
			emit(StreamEvent{
				Type:     EventAnswer,
				Content:  directAnswer(req.Query),
				Metadata: map[string]any{"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0},
			})
			return
		}
	}

	state := newRunState(req, a.buildInitialHistory(req))

	for state.step < a.config.MaxSteps {
		state.step++
		if !emit(StreamEvent{
			Type:     EventThinking,
			Content:  fmt.Sprintf("Step %d: Analyzing...", state.step),
			Metadata: map[string]any{"step": state.step},
		}) {
			return
		}

		thought, toolCall, err := a.callModel(ctx, state.history)
		if err != nil {
			emit(StreamEvent{
				Type:     EventAnswer,
				Content:  "I ran into a problem while reasoning about your question. Please try again.",
				Metadata: map[string]any{"error": err.Error()},
			})
			return
		}

		if thought != "" {
			if !emit(StreamEvent{Type: EventThinking, Content: thought, Metadata: map[string]any{"step": state.step}}) {
				return
			}
		}

		if toolCall == nil {
			state.history = append(state.history,
				llm.Message{Role: llm.RoleAssistant, Content: thought},
				llm.Message{Role: llm.RoleUser, Content: continuePrompt},
			)
			continue
		}

		if toolCall.Name == tools.FinishToolName {
			answer, err := tools.ParseFinishArgs(toolCall.Arguments)
			if err != nil {
				answer = thought
			}
			emit(StreamEvent{
				Type:    EventAnswer,
				Content: answer,
				Metadata: map[string]any{
					"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
					"sources":    state.sources,
				},
			})
			return
		}

		if !emit(StreamEvent{
			Type:     EventToolCall,
			Content:  "Calling " + toolCall.Name,
			Metadata: map[string]any{"tool": toolCall.Name, "input": json.RawMessage(toolCall.Arguments)},
		}) {
			return
		}

		observation := a.executeTool(ctx, toolCall, req.UserID)
		state.observations = append(state.observations, observation)
		extractSources(toolCall.Name, observation, &state.sources)

		preview := observation
		if truncated := truncateRunes(preview, 500); truncated != preview {
			preview = truncated + "..."
		}
		if !emit(StreamEvent{
			Type:     EventToolResult,
			Content:  preview,
			Metadata: map[string]any{"tool": toolCall.Name},
		}) {
			return
		}

		state.history = append(state.history,
			llm.Message{Role: llm.RoleAssistant, Content: thought, ToolCalls: []llm.ToolCall{*toolCall}},
			llm.Message{Role: llm.RoleTool, Name: toolCall.Name, ToolCallID: toolCall.ID, Content: observation},
		)
	}

	emit(StreamEvent{Type: EventThinking, Content: "Reached step limit, synthesizing final answer..."})
	answer := a.synthesizeAnswer(ctx, req.Query, state.observations)
	emit(StreamEvent{
		Type:    EventAnswer,
		Content: answer,
		Metadata: map[string]any{
			"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"sources":    state.sources,
		},
	})
}

// runState 单次运行的累积状态。
type runState struct {
	step         int
	history      []llm.Message
	steps        []ThoughtStep
	sources      []Source
	observations []string
	finalAnswer  string
}

func newRunState(_ RunRequest, history []llm.Message) *runState {
	return &runState{
		history: history,
		steps:   []ThoughtStep{},
		sources: []Source{},
	}
}

func (a *ReActAgent) buildInitialHistory(req RunRequest) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemPrompt(time.Now())},
		{Role: llm.RoleUser, Content: buildTaskContext(req.Query, req.UserID)},
	}
}

// callModel 发起一次决策调用，返回思考文本与可选的工具调用。
func (a *ReActAgent) callModel(ctx context.Context, history []llm.Message) (string, *llm.ToolCall, error) {
	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model:       a.config.Model,
		Messages:    history,
		Tools:       a.registry.Schemas(),
		ToolChoice:  "auto",
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	})
	if err != nil {
		return "", nil, err
	}
	thought, toolCall := llm.FirstToolCall(resp)
	return thought, toolCall, nil
}

// executeTool 安全执行工具：未注册或执行失败都转成观察文本，
// 让模型有机会自我纠正，而不是让整次运行崩掉。
func (a *ReActAgent) executeTool(ctx context.Context, tc *llm.ToolCall, userID string) string {
	args := injectUserID(tc.Arguments, userID)

	result, err := a.registry.Invoke(ctx, tc.Name, args)
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			return fmt.Sprintf("Error: Tool '%s' not found.", tc.Name)
		}
		a.logger.Error("tool invocation failed", zap.String("tool", tc.Name), zap.Error(err))
		return "Error: " + err.Error()
	}

	return a.truncateObservation(result.Observation())
}

// injectUserID 在工具参数缺少 user_id 时补上。
func injectUserID(args json.RawMessage, userID string) json.RawMessage {
	if userID == "" {
		return args
	}
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return args
	}
	if _, ok := m["user_id"]; ok {
		return args
	}
	m["user_id"] = userID
	out, err := json.Marshal(m)
	if err != nil {
		return args
	}
	return out
}

// truncateRunes 按字符数截断，不会把多字节字符切成半个。
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// truncateObservation 把过长的观察值按 token 预算截断，避免撑爆上下文。
func (a *ReActAgent) truncateObservation(text string) string {
	budget := a.config.MaxObservationTokens
	if a.encoder == nil {
		runes := []rune(text)
		if len(runes) > budget*4 {
			return string(runes[:budget*4]) + "\n...[truncated]"
		}
		return text
	}

	tokens := a.encoder.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return a.encoder.Decode(tokens[:budget]) + "\n...[truncated]"
}

// synthesizeAnswer 步数耗尽时基于累积观察合成兜底答案。
func (a *ReActAgent) synthesizeAnswer(ctx context.Context, query string, observations []string) string {
	if len(observations) == 0 {
		return "I couldn't find enough information to answer your question."
	}

	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model: a.config.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesisSystemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Query: %s\n\nInfo:\n%s", query, strings.Join(observations, "\n"))},
		},
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	})
	if err != nil {
		a.logger.Error("answer synthesis failed", zap.Error(err))
		return "I gathered some information but could not complete the final answer. Please try again."
	}

	answer, _ := llm.FirstToolCall(resp)
	if answer == "" {
		return "I gathered some information but could not complete the final answer. Please try again."
	}
	return answer
}

// extractSources 从搜索类工具的观察值中提取引用来源，按插入顺序编号。
func extractSources(action, observation string, sources *[]Source) {
	if action != "web_search" && action != "document_search" {
		return
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(observation), &items); err != nil {
		return
	}

	sourceType := "pdf"
	if action == "web_search" {
		sourceType = "web"
	}

	startIdx := len(*sources) + 1
	for i, item := range items {
		title := stringField(item, "title")
		if title == "" {
			title = stringField(item, "document_name")
		}
		if title == "" {
			title = "Untitled"
		}
		snippet := stringField(item, "snippet")
		if snippet == "" {
			snippet = stringField(item, "text")
		}
		snippet = truncateRunes(snippet, 200)
		*sources = append(*sources, Source{
			DocumentID:  fmt.Sprintf("%d", startIdx+i),
			Title:       title,
			TextSnippet: snippet,
			URL:         stringField(item, "url"),
			SourceType:  sourceType,
		})
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// directAnswer 问候类查询的即时回复。
func directAnswer(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.Contains(q, "how are you"):
		return "I'm doing well, thanks! How can I help you today?"
	case strings.Contains(q, "who are you"):
		return "I'm Prism, a research assistant. I can answer questions about your documents and search the web for up-to-date information."
	case strings.HasPrefix(q, "hello"):
		return "Hello! How can I help you today?"
	case strings.HasPrefix(q, "hi"):
		return "Hi there! How can I help?"
	}
	return "Hello! How can I help?"
}

func (a *ReActAgent) modelName() string {
	if a.config.Model != "" {
		return a.config.Model
	}
	return a.provider.Name()
}

func (a *ReActAgent) recordRun(intent, status string, steps int, duration time.Duration) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordAgentRun(intent, status, steps, duration)
}
