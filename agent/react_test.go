package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlabs/prism/llm"
	"github.com/prismlabs/prism/tools"
)

// scriptedProvider 按脚本逐次返回响应，耗尽后重复最后一条。
// script 函数可以检查请求内容（历史、工具列表）并决定响应。
type scriptedProvider struct {
	script   []func(req *llm.ChatRequest) *llm.ChatResponse
	requests []*llm.ChatRequest
}

func (p *scriptedProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	return p.script[idx](req), nil
}

func (p *scriptedProvider) Name() string                        { return "scripted" }
func (p *scriptedProvider) SupportsNativeFunctionCalling() bool { return true }

func textResponse(content string) func(*llm.ChatRequest) *llm.ChatResponse {
	return func(*llm.ChatRequest) *llm.ChatResponse {
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{
			Message: llm.Message{Role: llm.RoleAssistant, Content: content},
		}}}
	}
}

func toolCallResponse(thought, tool string, args string) func(*llm.ChatRequest) *llm.ChatResponse {
	return func(*llm.ChatRequest) *llm.ChatResponse {
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: thought,
				ToolCalls: []llm.ToolCall{{
					ID:        "call_1",
					Name:      tool,
					Arguments: json.RawMessage(args),
				}},
			},
		}}}
	}
}

// echoTool 注册一个返回固定 JSON 数组的工具，并记录收到的参数。
func echoTool(t *testing.T, registry *tools.Registry, name, payload string) *[]json.RawMessage {
	t.Helper()
	var got []json.RawMessage
	err := registry.Register(llm.ToolSchema{
		Name:        name,
		Description: "test tool",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(_ context.Context, args json.RawMessage) tools.Result {
		got = append(got, args)
		return tools.Result{Data: json.RawMessage(payload)}
	})
	require.NoError(t, err)
	return &got
}

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry(nil)
	require.NoError(t, tools.RegisterFinish(registry))
	return registry
}

func TestReActAgent_FinishTerminatesImmediately(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		toolCallResponse("I can answer now.", tools.FinishToolName,
			`{"answer":"The answer is X[[citation:1]]"}`),
	}}
	agent := NewReActAgent(provider, newTestRegistry(t), nil, Config{MaxSteps: 5}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{Query: "what is x", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "The answer is X[[citation:1]]", resp.Answer)
	assert.False(t, resp.StepLimitReached)
	assert.Len(t, resp.IntermediateSteps, 1)
	assert.Len(t, provider.requests, 1, "no further model calls after finish")
	assert.NotEmpty(t, resp.RunID)
}

func TestReActAgent_StepLimitSynthesizesAnswer(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	echoTool(t, registry, "document_search", `[{"text":"some evidence","title":"Doc"}]`)

	// 模型永远调用 document_search，从不 finish；步数耗尽后最后一次
	// 调用是合成请求（无工具），返回合成文本。
	search := toolCallResponse("Searching again.", "document_search", `{"query":"x"}`)
	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		search, search, search,
		func(req *llm.ChatRequest) *llm.ChatResponse {
			if len(req.Tools) == 0 {
				return textResponse("Synthesized from partial evidence.")(req)
			}
			return search(req)
		},
	}}
	agent := NewReActAgent(provider, registry, nil, Config{MaxSteps: 3}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{Query: "hard question", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, resp.StepLimitReached)
	assert.Len(t, resp.IntermediateSteps, 3, "exactly max_steps tool steps")
	assert.Equal(t, "Synthesized from partial evidence.", resp.Answer)
	assert.NotEmpty(t, resp.Answer)
}

func TestReActAgent_NoToolCallRePrompts(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		textResponse("Let me think about this."),
		toolCallResponse("", tools.FinishToolName, `{"answer":"Done."}`),
	}}
	agent := NewReActAgent(provider, newTestRegistry(t), nil, Config{MaxSteps: 5}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{Query: "q", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Done.", resp.Answer)
	require.Len(t, provider.requests, 2)

	// 第二次请求的历史里必须有追问提示
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, continuePrompt, last.Content)
}

func TestReActAgent_InjectsUserID(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	got := echoTool(t, registry, "document_search", `[]`)

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		toolCallResponse("Searching.", "document_search", `{"query":"x"}`),
		toolCallResponse("", tools.FinishToolName, `{"answer":"ok"}`),
	}}
	agent := NewReActAgent(provider, registry, nil, Config{MaxSteps: 5}, nil, nil)

	_, err := agent.Run(context.Background(), RunRequest{Query: "q", UserID: "user-42"})
	require.NoError(t, err)
	require.Len(t, *got, 1)

	var args map[string]any
	require.NoError(t, json.Unmarshal((*got)[0], &args))
	assert.Equal(t, "user-42", args["user_id"])
}

func TestReActAgent_UnknownToolBecomesObservation(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		toolCallResponse("Trying a tool.", "no_such_tool", `{}`),
		toolCallResponse("", tools.FinishToolName, `{"answer":"recovered"}`),
	}}
	agent := NewReActAgent(provider, newTestRegistry(t), nil, Config{MaxSteps: 5}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{Query: "q", UserID: "u1"})
	require.NoError(t, err, "unknown tool must not abort the run")
	assert.Equal(t, "recovered", resp.Answer)
	require.Len(t, resp.IntermediateSteps, 2)
	assert.Contains(t, resp.IntermediateSteps[0].Observation, "'no_such_tool' not found")
}

func TestReActAgent_SourcesNumberedByInsertion(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	echoTool(t, registry, "web_search",
		`[{"title":"First","url":"https://a.example","snippet":"aaa"},{"title":"Second","url":"https://b.example","snippet":"bbb"}]`)

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		toolCallResponse("Searching web.", "web_search", `{"query":"x"}`),
		toolCallResponse("", tools.FinishToolName, `{"answer":"see [[citation:1]] and [[citation:2]]"}`),
	}}
	agent := NewReActAgent(provider, registry, nil, Config{MaxSteps: 5}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{Query: "q", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "1", resp.Sources[0].DocumentID)
	assert.Equal(t, "2", resp.Sources[1].DocumentID)
	assert.Equal(t, "web", resp.Sources[0].SourceType)
	assert.Equal(t, "First", resp.Sources[0].Title)
	assert.Equal(t, "https://a.example", resp.Sources[0].URL)
}

func TestReActAgent_RouterShortCircuitsGreeting(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		textResponse("should never be called"),
	}}
	router := NewIntentRouter(nil, "", nil)
	agent := NewReActAgent(provider, newTestRegistry(t), router, Config{MaxSteps: 5}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{Query: "hello", UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	assert.Empty(t, resp.IntermediateSteps)
	assert.Empty(t, provider.requests, "greeting must not reach the model")
}

func TestReActAgent_ComplexQueryMakesMultipleSearches(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	got := echoTool(t, registry, "document_search", `[{"text":"numbers","title":"Report"}]`)

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		toolCallResponse("Find Tesla expenses first.", "document_search", `{"query":"Tesla operating expenses"}`),
		toolCallResponse("Now SpaceX.", "document_search", `{"query":"SpaceX operating expenses"}`),
		toolCallResponse("", tools.FinishToolName, `{"answer":"Tesla spent more [[citation:1]][[citation:2]]"}`),
	}}
	router := NewIntentRouter(nil, "", nil)
	agent := NewReActAgent(provider, registry, router, Config{MaxSteps: 5}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{
		Query:  "Compare the expenses of Tesla vs SpaceX",
		UserID: "u1",
	})
	require.NoError(t, err)
	require.Len(t, *got, 2, "comparison should decompose into per-entity searches")

	queries := make([]string, 0, 2)
	for _, raw := range *got {
		var args map[string]any
		require.NoError(t, json.Unmarshal(raw, &args))
		queries = append(queries, args["query"].(string))
	}
	assert.NotEqual(t, queries[0], queries[1], "sub-queries must be distinct")
	assert.Contains(t, resp.Answer, "[[citation:")
}

func TestReActAgent_StreamEventOrder(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	echoTool(t, registry, "document_search", `[{"text":"evidence","title":"Doc"}]`)

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		toolCallResponse("Searching.", "document_search", `{"query":"x"}`),
		toolCallResponse("", tools.FinishToolName, `{"answer":"final answer"}`),
	}}
	agent := NewReActAgent(provider, registry, nil, Config{MaxSteps: 5}, nil, nil)

	var types []StreamEventType
	var answer string
	for ev := range agent.Stream(context.Background(), RunRequest{Query: "q", UserID: "u1"}) {
		types = append(types, ev.Type)
		if ev.Type == EventAnswer {
			answer = ev.Content
		}
	}

	assert.Equal(t, "final answer", answer)
	assert.Equal(t, EventAnswer, types[len(types)-1], "stream must end with the answer event")
	assert.Contains(t, types, EventToolCall)
	assert.Contains(t, types, EventToolResult)

	// tool_call 在 tool_result 之前
	callIdx, resultIdx := -1, -1
	for i, ty := range types {
		if ty == EventToolCall && callIdx < 0 {
			callIdx = i
		}
		if ty == EventToolResult && resultIdx < 0 {
			resultIdx = i
		}
	}
	assert.Less(t, callIdx, resultIdx)
}

func TestReActAgent_SnippetAndPreviewAreRuneSafe(t *testing.T) {
	t.Parallel()

	// 多字节文本长于截断阈值：截断必须落在字符边界上
	long := strings.Repeat("混合检索融合排序", 80)
	registry := newTestRegistry(t)
	payload, err := json.Marshal([]map[string]string{{"text": long, "title": "年报"}})
	require.NoError(t, err)
	echoTool(t, registry, "document_search", string(payload))

	script := func() *scriptedProvider {
		return &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
			toolCallResponse("查一下。", "document_search", `{"query":"融合"}`),
			toolCallResponse("", tools.FinishToolName, `{"answer":"见报告[[citation:1]]"}`),
		}}
	}

	streamAgent := NewReActAgent(script(), registry, nil, Config{MaxSteps: 5}, nil, nil)
	var preview string
	for ev := range streamAgent.Stream(context.Background(), RunRequest{Query: "对比检索方案", UserID: "u1"}) {
		if ev.Type == EventToolResult && preview == "" {
			preview = ev.Content
		}
	}
	require.NotEmpty(t, preview)
	assert.True(t, utf8.ValidString(preview), "tool result preview must stay valid UTF-8")
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Equal(t, 503, len([]rune(preview)))

	runAgent := NewReActAgent(script(), registry, nil, Config{MaxSteps: 5}, nil, nil)
	resp, err := runAgent.Run(context.Background(), RunRequest{Query: "对比检索方案", UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sources)
	snippet := resp.Sources[0].TextSnippet
	assert.True(t, utf8.ValidString(snippet), "source snippet must stay valid UTF-8")
	assert.Equal(t, 200, len([]rune(snippet)))
}

func TestReActAgent_TruncatesLongObservations(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	long := strings.Repeat("evidence ", 5000)
	echoTool(t, registry, "document_search", `"`+long+`"`)

	provider := &scriptedProvider{script: []func(*llm.ChatRequest) *llm.ChatResponse{
		toolCallResponse("Searching.", "document_search", `{"query":"x"}`),
		toolCallResponse("", tools.FinishToolName, `{"answer":"ok"}`),
	}}
	agent := NewReActAgent(provider, registry, nil, Config{MaxSteps: 5, MaxObservationTokens: 100}, nil, nil)

	resp, err := agent.Run(context.Background(), RunRequest{Query: "q", UserID: "u1"})
	require.NoError(t, err)
	obs := resp.IntermediateSteps[0].Observation
	assert.Contains(t, obs, "[truncated]")
	assert.Less(t, len(obs), len(long))
}
