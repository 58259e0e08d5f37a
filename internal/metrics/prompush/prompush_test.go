package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welletl/internal/metrics"
)

func TestBackend_RecordsIntoRegistry(t *testing.T) {
	b, err := NewBackend("welletl", "http://localhost:9091", nil)
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "mirror", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 90, metrics.Labels{"kind": metrics.KindUpserted})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.BatchesTotal, 2, nil)
	b.IncCounter("unknown_total", 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.2, metrics.Labels{"step": "mirror", "status": "ok"})

	assert.Equal(t, 1.0, testutil.ToFloat64(b.steps.WithLabelValues("mirror", "ok")))
	assert.Equal(t, 90.0, testutil.ToFloat64(b.records.WithLabelValues(metrics.KindUpserted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(b.batches))
	assert.Equal(t, 1, testutil.CollectAndCount(b.dur))
}

func TestBackend_FlushPushesToGateway(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		body  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		body = string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("welletl", srv.URL, map[string]string{"run_id": "r1"})
	require.NoError(t, err)
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": metrics.KindLinked})
	require.NoError(t, b.Flush())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.Equal(t, "PUT /metrics/job/welletl/run_id/r1", paths[0])
	assert.Contains(t, body, "etl_records_total")
}

func TestNewBackend_RequiresURL(t *testing.T) {
	_, err := NewBackend("job", "", nil)
	require.Error(t, err)
}
