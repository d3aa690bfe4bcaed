// =============================================================================
// 📦 Prism 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Rerank:    DefaultRerankConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Agent:     DefaultAgentConfig(),
		WebSearch: DefaultWebSearchConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:          "openai",
		OpenAIModel:       "gpt-4o-mini",
		GeminiModel:       "gemini-2.0-flash",
		Timeout:           60 * time.Second,
		MaxAttempts:       5,
		RetryInitialDelay: 4 * time.Second,
		RetryMaxDelay:     60 * time.Second,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider: "openai",
		Model:    "text-embedding-3-large",
		Timeout:  30 * time.Second,
	}
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:   true,
		Provider:  "jina",
		JinaModel: "jina-reranker-v2-base-multilingual",
		TopN:      5,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:         10,
		RRFConstant:  60,
		VectorWeight: 1.0,
		BM25Weight:   1.0,
		BM25Store:    "file",
		BM25Dir:      "data/bm25",
		CacheTTL:     time.Hour,
		CacheSize:    1000,
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxSteps:             10,
		MaxTokens:            1000,
		Temperature:          0.3,
		MaxObservationTokens: 4000,
	}
}

// DefaultWebSearchConfig 返回默认网络搜索配置
func DefaultWebSearchConfig() WebSearchConfig {
	return WebSearchConfig{
		Enabled:    true,
		MaxResults: 5,
		RatePerMin: 30,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}
