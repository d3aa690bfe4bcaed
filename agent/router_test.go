package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlabs/prism/llm"
)

type singleResponseProvider struct {
	content string
	err     error
}

func (p *singleResponseProvider) Completion(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{
		Message: llm.Message{Role: llm.RoleAssistant, Content: p.content},
	}}}, nil
}

func (p *singleResponseProvider) Name() string                        { return "single" }
func (p *singleResponseProvider) SupportsNativeFunctionCalling() bool { return true }

func TestClassifyHeuristic_Greetings(t *testing.T) {
	t.Parallel()

	for _, query := range []string{"hello", "Hi there", "hey, assistant", "你好", "HOW ARE YOU"} {
		intent, ok := classifyHeuristic(query)
		require.True(t, ok, "query %q should hit the fast path", query)
		assert.Equal(t, IntentDirectAnswer, intent.Intent)
		assert.Equal(t, 1.0, intent.Confidence)
	}
}

func TestClassifyHeuristic_ComplexMarkers(t *testing.T) {
	t.Parallel()

	for _, query := range []string{
		"Compare the expenses of Tesla and SpaceX",
		"tesla vs spacex revenue",
		"what is the difference between A and B",
		"list all vendors in the contract",
		"对比两家公司的营收",
	} {
		intent, ok := classifyHeuristic(query)
		require.True(t, ok, "query %q should hit the fast path", query)
		assert.Equal(t, IntentComplexReasoning, intent.Intent)
		assert.GreaterOrEqual(t, intent.Confidence, 0.95)
	}
}

func TestClassifyHeuristic_PlainQuestionPassesThrough(t *testing.T) {
	t.Parallel()

	_, ok := classifyHeuristic("what does section 3 say about termination")
	assert.False(t, ok)
}

func TestRouter_UsesLLMClassification(t *testing.T) {
	t.Parallel()

	provider := &singleResponseProvider{
		content: `{"intent":"WEB_SEARCH","confidence":0.85,"reasoning":"needs current data"}`,
	}
	router := NewIntentRouter(provider, "test-model", nil)

	intent := router.Classify(context.Background(), "what is the weather in Berlin right now")
	assert.Equal(t, IntentWebSearch, intent.Intent)
	assert.InDelta(t, 0.85, intent.Confidence, 1e-9)
}

func TestRouter_ClassifierErrorFallsBack(t *testing.T) {
	t.Parallel()

	router := NewIntentRouter(&singleResponseProvider{err: errors.New("provider down")}, "", nil)
	intent := router.Classify(context.Background(), "what does the report conclude")
	assert.Equal(t, IntentDocumentQA, intent.Intent)
	assert.InDelta(t, 0.5, intent.Confidence, 1e-9)
}

func TestRouter_NilProviderDefaultsToDocumentQA(t *testing.T) {
	t.Parallel()

	router := NewIntentRouter(nil, "", nil)
	intent := router.Classify(context.Background(), "summarize chapter 2")
	assert.Equal(t, IntentDocumentQA, intent.Intent)
}

func TestParseIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    IntentType
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"intent":"DOCUMENT_QA","confidence":0.9,"reasoning":"doc question"}`,
			want: IntentDocumentQA,
		},
		{
			name: "markdown fenced",
			raw:  "```json\n{\"intent\":\"COMPLEX_REASONING\",\"confidence\":0.8,\"reasoning\":\"x\"}\n```",
			want: IntentComplexReasoning,
		},
		{
			name: "leading prose",
			raw:  `Sure! Here is the classification: {"intent":"WEB_SEARCH","confidence":0.7,"reasoning":"x"}`,
			want: IntentWebSearch,
		},
		{
			name: "unknown intent normalized",
			raw:  `{"intent":"SOMETHING_ELSE","confidence":0.99,"reasoning":"x"}`,
			want: IntentDocumentQA,
		},
		{
			name:    "not json",
			raw:     "I cannot classify this.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			intent, err := parseIntent(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, intent.Intent)
		})
	}
}
