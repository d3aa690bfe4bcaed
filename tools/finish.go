package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prismlabs/prism/llm"
)

// FinishToolName Agent 用于宣告推理结束的特殊工具名。
const FinishToolName = "finish"

// FinishArgs finish 工具入参。
type FinishArgs struct {
	Answer string `json:"answer"`
}

var finishSchema = llm.ToolSchema{
	Name: FinishToolName,
	Description: "Call this tool when you have gathered enough information to provide " +
		"a comprehensive final answer to the user's question. " +
		"Your answer should be well-formatted and include [[citation:N]] references " +
		"for specific facts from retrieved sources.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"answer": {
				"type": "string",
				"description": "The final answer to the user's question. Must be comprehensive, well-structured, and include citations in the format [[citation:N]] where N corresponds to the source number."
			}
		}
	}`),
	Required: []string{"answer"},
}

// RegisterFinish 注册 finish 工具。处理器原样透传答案，
// ReAct 循环据此识别终止并提取最终回复。
func RegisterFinish(registry *Registry) error {
	handler := func(_ context.Context, args json.RawMessage) Result {
		var params FinishArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return Failure("INVALID_ARGUMENTS", err.Error())
		}
		return Success(params.Answer)
	}
	return registry.Register(finishSchema, handler)
}

// ParseFinishArgs 从工具调用参数中提取最终答案，空答案视为无效。
func ParseFinishArgs(args json.RawMessage) (string, error) {
	var params FinishArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", err
	}
	if params.Answer == "" {
		return "", fmt.Errorf("finish tool called without an answer")
	}
	return params.Answer, nil
}
