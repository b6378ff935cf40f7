package datadog

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerdash/internal/metrics"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

// byMetric indexes the last payload by metric name.
func (f *fakeSubmitter) byMetric(t *testing.T) map[string]datadogV2.MetricSeries {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.payloads)
	out := map[string]datadogV2.MetricSeries{}
	for _, s := range f.payloads[len(f.payloads)-1].Series {
		out[s.Metric] = s
	}
	return out
}

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		Service:    "svc",
		FlushEvery: time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func value(s datadogV2.MetricSeries) float64 { return *s.Points[0].Value }

func TestEnvTag(t *testing.T) {
	cases := []struct{ env, dd, want string }{
		{"prod", "stage", "env:prod"},
		{"", "stage", "env:stage"},
		{"  ", "\t", "env:unknown"},
	}
	for _, tc := range cases {
		t.Setenv("ENV", tc.env)
		t.Setenv("DD_ENV", tc.dd)
		assert.Equal(t, tc.want, envTag())
	}
}

func TestSeriesKey_OrderIndependent(t *testing.T) {
	a := seriesKey(metrics.IngestTotal, metrics.Labels{"status": "ok", "format": "csv"})
	b := seriesKey(metrics.IngestTotal, metrics.Labels{"format": "csv", "status": "ok"})
	require.Equal(t, a, b)

	name, tags := splitSeriesKey(a)
	assert.Equal(t, metrics.IngestTotal, name)
	assert.Equal(t, []string{"format:csv", "status:ok"}, tags)

	_, tags = splitSeriesKey(seriesKey("m", metrics.Labels{"status": ""}))
	assert.Equal(t, []string{"status:unknown"}, tags)

	_, tags = splitSeriesKey(seriesKey("m", nil))
	assert.Empty(t, tags)
}

func TestDDMetricName(t *testing.T) {
	for in, want := range map[string]string{
		"powerdash_ingest_total":            "powerdash.ingest.total",
		"powerdash_ingest_duration_seconds": "powerdash.ingest.duration_seconds",
		"powerdash_upload_bytes":            "powerdash.upload_bytes",
		"plain":                             "plain",
	} {
		assert.Equal(t, want, ddMetricName(in), in)
	}
}

func TestQuantile(t *testing.T) {
	assert.Equal(t, 0.0, quantile(nil, 0.5))
	assert.Equal(t, 7.0, quantile([]float64{7}, 0.95))
	assert.Equal(t, 3.0, quantile([]float64{1, 2, 3, 4, 5}, 0.5))
	assert.Equal(t, 5.0, quantile([]float64{1, 2, 3, 4, 5}, 0.95))
}

func TestNewBackend_Defaults(t *testing.T) {
	b, err := NewBackend(context.Background(), Options{Tags: []string{"team:markets"}, submitter: &fakeSubmitter{}})
	require.NoError(t, err)
	defer b.Close()

	assert.Contains(t, b.baseTags, "service:powerdash")
	assert.Contains(t, b.baseTags, "team:markets")
}

func TestFlush_CountersAndSummaries(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.IngestTotal, 1, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.IngestTotal, 1, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.IngestRowsTotal, 150, nil)
	for _, v := range []float64{0.2, 0.4, 0.9} {
		b.ObserveHistogram(metrics.IngestDurationSeconds, v, metrics.Labels{"status": "ok"})
	}

	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.calls())

	got := fs.byMetric(t)
	total := got["powerdash.ingest.total"]
	assert.Equal(t, 2.0, value(total))
	assert.Equal(t, int64(1000), *total.Points[0].Timestamp)
	assert.Contains(t, total.Tags, "status:ok")
	assert.Contains(t, total.Tags, "service:svc")
	assert.Equal(t, datadogV2.METRICINTAKETYPE_COUNT, *total.Type)

	assert.Equal(t, 150.0, value(got["powerdash.ingest.rows.total"]))
	assert.InDelta(t, 0.5, value(got["powerdash.ingest.duration_seconds.avg"]), 1e-9)
	assert.Equal(t, 0.9, value(got["powerdash.ingest.duration_seconds.max"]))
	assert.Equal(t, 0.4, value(got["powerdash.ingest.duration_seconds.p50"]))
	assert.Equal(t, 3.0, value(got["powerdash.ingest.duration_seconds.count"]))
	assert.Equal(t, datadogV2.METRICINTAKETYPE_GAUGE, *got["powerdash.ingest.duration_seconds.p95"].Type)

	// Second flush has nothing to send.
	require.NoError(t, b.Flush())
	assert.Equal(t, 1, fs.calls())
}

func TestFlush_SortedSeries(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	b.IncCounter(metrics.SuggestTotal, 1, nil)
	b.IncCounter(metrics.QueryTotal, 1, nil)
	b.ObserveHistogram(metrics.QueryDurationSeconds, 0.01, nil)
	require.NoError(t, b.Flush())

	var names []string
	for name := range fs.byMetric(t) {
		names = append(names, name)
	}
	fs.mu.Lock()
	series := fs.payloads[0].Series
	fs.mu.Unlock()
	require.Len(t, series, len(names))
	assert.True(t, sort.SliceIsSorted(series, func(i, j int) bool { return series[i].Metric < series[j].Metric }))
}

func TestFlush_DropsInvalidObservations(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.IngestTotal, 0, nil)
	b.IncCounter("", 1, nil)
	b.ObserveHistogram(metrics.QueryDurationSeconds, -1, nil)

	require.NoError(t, b.Flush())
	assert.Zero(t, fs.calls())
}

func TestFlush_ClearsBufferOnError(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("intake down")}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.QueryTotal, 1, nil)
	require.Error(t, b.Flush())
	require.NoError(t, b.Flush())
	assert.Equal(t, 1, fs.calls())
}

func TestSummary_CapsSamples(t *testing.T) {
	var s summary
	for i := 0; i < maxSamples+10; i++ {
		s.add(float64(i))
	}
	assert.Len(t, s.samples, maxSamples)
	assert.Equal(t, maxSamples+10, s.n)
	assert.Equal(t, float64(maxSamples+9), s.max)
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{FlushEvery: 5 * time.Millisecond, submitter: fs})
	require.NoError(t, err)

	b.IncCounter(metrics.QueryTotal, 1, nil)
	require.Eventually(t, func() bool { return fs.calls() >= 1 }, time.Second, 2*time.Millisecond)

	b.IncCounter(metrics.QueryTotal, 1, nil)
	require.NoError(t, b.Close())
	assert.GreaterOrEqual(t, fs.calls(), 2)

	// Close is idempotent.
	require.NoError(t, b.Close())
}

func TestBackend_ConcurrentCounters(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	const workers, iters = 8, 500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.QueryTotal, 1, metrics.Labels{"status": "ok"})
				b.ObserveHistogram(metrics.QueryDurationSeconds, 0.01, metrics.Labels{"status": "ok"})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, b.Flush())
	got := fs.byMetric(t)
	assert.Equal(t, float64(workers*iters), value(got["powerdash.query.total"]))
	assert.Equal(t, float64(workers*iters), value(got["powerdash.query.duration_seconds.count"]))
}

func TestParseTagsCSV(t *testing.T) {
	assert.Nil(t, ParseTagsCSV(""))
	assert.Equal(t, []string{"env:prod", "team:markets"}, ParseTagsCSV(" env:prod , ,team:markets,  "))
	assert.Equal(t, []string{"team:markets"}, ParseTagsCSV("team:markets"))
}
