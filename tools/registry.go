// Package tools 提供 Provider 无关的工具注册表与内置工具。
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prismlabs/prism/llm"
)

// ErrToolNotFound 工具名未注册。
var ErrToolNotFound = errors.New("tool not found")

// Result 是工具执行的带标签结果：成功负载与结构化错误二选一，
// Agent 循环据此模式匹配，不做运行时类型探测。
type Result struct {
	Data json.RawMessage `json:"data,omitempty"`
	Err  *ToolError      `json:"error,omitempty"`
}

// ToolError 结构化工具错误。
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Success 构造成功结果。v 序列化失败时退化为错误结果。
func Success(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return Failure("TOOL_MARSHAL_FAILED", err.Error())
	}
	return Result{Data: data}
}

// Failure 构造失败结果。
func Failure(code, message string) Result {
	return Result{Err: &ToolError{Code: code, Message: message}}
}

// IsError reports whether the result carries a structured error.
func (r Result) IsError() bool { return r.Err != nil }

// Observation 将结果渲染为 Agent 可读的观察文本。
func (r Result) Observation() string {
	if r.Err != nil {
		return fmt.Sprintf("Tool error (%s): %s", r.Err.Code, r.Err.Message)
	}
	return string(r.Data)
}

// Handler 执行一个工具调用。
type Handler func(ctx context.Context, args json.RawMessage) Result

// entry 注册表内部条目。
type entry struct {
	schema  llm.ToolSchema
	handler Handler
	stats   toolStats
}

type toolStats struct {
	invocations int64
	failures    int64
}

// Registry 持有 name → (schema, handler) 映射。Schema 只保存一份，
// 各 Provider 适配层负责转换为自己的函数调用格式。
type Registry struct {
	tools  map[string]*entry
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
}

// Register 注册工具，同名覆盖。
func (r *Registry) Register(schema llm.ToolSchema, handler Handler) error {
	if schema.Name == "" {
		return fmt.Errorf("tool schema requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q requires a handler", schema.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[schema.Name] = &entry{schema: schema, handler: handler}
	r.logger.Debug("tool registered", zap.String("tool", schema.Name))
	return nil
}

// Invoke 调用已注册的工具。未注册返回 ErrToolNotFound；
// 工具自身的失败通过 Result.Err 传递，不作为 error 返回。
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	start := time.Now()
	result := e.handler(ctx, args)

	r.mu.Lock()
	e.stats.invocations++
	if result.IsError() {
		e.stats.failures++
	}
	r.mu.Unlock()

	r.logger.Debug("tool invoked",
		zap.String("tool", name),
		zap.Bool("error", result.IsError()),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// Schemas 返回全部工具声明，按名称排序，供 Provider 适配层转换。
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]llm.ToolSchema, 0, len(r.tools))
	for _, e := range r.tools {
		schemas = append(schemas, e.schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}
