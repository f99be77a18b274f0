package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CatalogBuilt("ok", 3)
		m.ObserveEmbed("query", time.Now(), nil)
		m.CacheLookup("hit")
		m.ItemMatched("matched", 0.9)
		m.BatchDone(time.Now())
	})
}

func TestCatalogBuilt(t *testing.T) {
	m := New()
	m.CatalogBuilt("ok", 12)
	m.CatalogBuilt("failed", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogBuilds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogBuilds.WithLabelValues("failed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CatalogEntries), "failed build keeps the published count")
}

func TestObserveEmbedCountsFailures(t *testing.T) {
	m := New()
	m.ObserveEmbed("query", time.Now(), nil)
	m.ObserveEmbed("query", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbedFailures.WithLabelValues("query")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EmbedDuration))
}

func TestItemMatched(t *testing.T) {
	m := New()
	m.ItemMatched("matched", 0.85)
	m.ItemMatched("failed", 0)
	m.ItemMatched("no_match", 0)

	for _, outcome := range []string{"matched", "failed", "no_match"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchItems.WithLabelValues(outcome)), outcome)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.CacheLookup("miss")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `skumatch_embed_cache_total{result="miss"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
