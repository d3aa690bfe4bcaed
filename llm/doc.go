// Copyright 2025-2026 Prism Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package llm 定义 Provider 无关的聊天与工具调用类型。

Agent 循环只依赖本包的统一格式（Message / ToolSchema / ToolCall /
ChatRequest / ChatResponse），各 Provider 适配层（llm/providers/openai、
llm/providers/gemini）负责与上游原生函数调用格式的双向转换。

# 核心接口/类型

  - Provider — 统一的 LLM 适配接口（Completion / Name / SupportsNativeFunctionCalling）
  - ToolSchema — JSON Schema 形态的工具声明，单一来源，按值共享给各适配层
  - Error — 带错误码与 Retryable 标记的结构化错误，驱动重试与降级策略
*/
package llm
