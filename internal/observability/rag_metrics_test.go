package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRAGMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRAGMetrics(reg)

	m.CacheLookup("hit")
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.ProviderCall("openai", 120*time.Millisecond, nil)
	m.ProviderCall("openai", time.Second, errors.New("boom"))
	m.CreditsSpent("openai", 0.25)
	m.CreditsSpent("openai", 0) // ignored
	m.CreditRejected()
	m.StageFailed("provider_call")
	m.PromptTruncated()

	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("hit lookups = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.creditsSpent.WithLabelValues("openai")); got != 0.25 {
		t.Fatalf("credits spent = %v; want 0.25", got)
	}
	if got := testutil.ToFloat64(m.creditRejections); got != 1 {
		t.Fatalf("rejections = %v; want 1", got)
	}
	if got := testutil.CollectAndCount(m.providerLatency); got != 2 {
		t.Fatalf("provider latency series = %d; want 2 (ok, error)", got)
	}
	if got := testutil.ToFloat64(m.stageFailures.WithLabelValues("provider_call")); got != 1 {
		t.Fatalf("stage failures = %v; want 1", got)
	}
	if got := testutil.ToFloat64(m.truncations); got != 1 {
		t.Fatalf("truncations = %v; want 1", got)
	}
}

func TestRAGMetrics_NilIsNoop(t *testing.T) {
	var m *RAGMetrics
	m.CacheLookup("hit")
	m.ProviderCall("x", time.Second, nil)
	m.CreditsSpent("x", 1)
	m.CreditRejected()
	m.StageFailed("x")
	m.PromptTruncated()
}
