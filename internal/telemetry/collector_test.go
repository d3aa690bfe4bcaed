package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_RecordsMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	c := NewCollector("prism_test", registry, nil)

	c.RecordSearch("hybrid", "ok", 25*time.Millisecond)
	c.RecordSearch("hybrid", "ok", 10*time.Millisecond)
	c.RecordSearch("vector", "error", 5*time.Millisecond)
	c.RecordIndexOp("index", "ok", 100*time.Millisecond)
	c.RecordLLMRequest("openai", "gpt-4o-mini", "ok", time.Second, 120, 30)
	c.RecordAgentRun("DOCUMENT_QA", "finished", 3, 2*time.Second)
	c.RecordCacheHit("chunks")
	c.RecordCacheMiss("chunks")

	assert.InDelta(t, 2.0, testutil.ToFloat64(c.searchesTotal.WithLabelValues("hybrid", "ok")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.searchesTotal.WithLabelValues("vector", "error")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.indexOpsTotal.WithLabelValues("index", "ok")), 1e-9)
	assert.InDelta(t, 120.0, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "prompt")), 1e-9)
	assert.InDelta(t, 30.0, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("openai", "gpt-4o-mini", "completion")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.agentRunsTotal.WithLabelValues("DOCUMENT_QA", "finished")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("chunks")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("chunks")), 1e-9)
}

func TestCollector_IsolatedRegistries(t *testing.T) {
	t.Parallel()

	// 注入独立注册表：同名指标互不冲突，支持多实例并存
	a := NewCollector("prism_test_iso", prometheus.NewRegistry(), nil)
	b := NewCollector("prism_test_iso", prometheus.NewRegistry(), nil)

	a.RecordCacheHit("chunks")
	assert.InDelta(t, 1.0, testutil.ToFloat64(a.cacheHits.WithLabelValues("chunks")), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.cacheHits.WithLabelValues("chunks")), 1e-9)
}
