package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	c := NewCollector()

	c.RecordEnqueue()
	c.RecordEnqueue()
	c.RecordCompleted()
	c.RecordFailed()
	c.RecordFailed()
	c.RecordFailed()
	c.RecordDead()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsDead))
}

func TestLabelledCounters(t *testing.T) {
	c := NewCollector()

	c.RecordReap("success")
	c.RecordReap("terminal")
	c.RecordReap("terminal")
	c.RecordPruned("completed", 4)
	c.RecordPruned("archived", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.reaped.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reaped.WithLabelValues("terminal")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.tasksPruned.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tasksPruned.WithLabelValues("archived")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordEnqueue()
		c.RecordCompleted()
		c.RecordFailed()
		c.RecordDead()
		c.RecordPruned("completed", 3)
		c.RecordReap("expiry")
		c.ObserveExtraction(time.Second)
		c.ObserveAsk(time.Second)
		c.RegisterCacheSize(func() int { return 1 })
	})
}

func TestHandlerExposesCacheGauge(t *testing.T) {
	c := NewCollector()
	c.RegisterCacheSize(func() int { return 7 })
	c.ObserveExtraction(1500 * time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "document_cache_records 7")
	assert.Contains(t, string(body), "document_extraction_seconds_count 1")
}
