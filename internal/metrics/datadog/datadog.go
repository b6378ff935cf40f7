// Package datadog ships internal/metrics observations to Datadog.
//
// The backend buffers in memory and submits on a ticker (once a minute by
// default) plus once more on Close, so a long-running server produces a time
// series rather than a single spike at exit.
//
// Counters are summed per series. Histogram observations are folded into a
// summary per series and submitted as gauges: .avg .max .p50 .p95 .count.
// Each summary keeps at most maxSamples raw values for the percentiles.
//
// Metric names follow the Prometheus convention used by internal/metrics
// ("powerdash_ingest_total") and are rewritten to Datadog's dotted form
// ("powerdash.ingest.total"). Labels become "key:value" tags.
package datadog

import (
	"context"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"go.uber.org/zap"

	"powerdash/internal/logging"
	"powerdash/internal/metrics"
)

const (
	defaultService    = "powerdash"
	defaultFlushEvery = time.Minute
	maxSamples        = 2048
)

// Options controls Datadog backend configuration.
type Options struct {
	// Service becomes tag "service:<name>". Defaults to "powerdash".
	Service string
	// Tags are extra Datadog tags, e.g. "team:markets".
	Tags []string
	// FlushEvery defaults to one minute.
	FlushEvery time.Duration
	// Logger receives background flush failures.
	Logger *zap.Logger

	// test seams
	now       func() time.Time
	submitter submitter
}

// submitter is the part of *datadogV2.MetricsApi the backend calls.
type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// summary aggregates histogram observations for one series.
type summary struct {
	n       int
	sum     float64
	max     float64
	samples []float64
}

func (s *summary) add(v float64) {
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.n++
	s.sum += v
	if len(s.samples) < maxSamples {
		s.samples = append(s.samples, v)
	}
}

// buffer is everything collected since the last flush.
type buffer struct {
	counters  map[string]float64
	summaries map[string]*summary
}

func newBuffer() buffer {
	return buffer{counters: map[string]float64{}, summaries: map[string]*summary{}}
}

func (b buffer) empty() bool { return len(b.counters) == 0 && len(b.summaries) == 0 }

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api      submitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time
	log      *zap.Logger

	mu  sync.Mutex
	buf buffer

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend starts a backend that submits through the official client.
// Credentials come from DD_API_KEY and DD_SITE via dd.NewDefaultContext.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	service := opts.Service
	if service == "" {
		service = defaultService
	}
	every := opts.FlushEvery
	if every <= 0 {
		every = defaultFlushEvery
	}

	b := &Backend{
		api:      opts.submitter,
		ctx:      dd.NewDefaultContext(parent),
		baseTags: append([]string{envTag(), "service:" + service}, opts.Tags...),
		now:      opts.now,
		log:      logging.OrNop(opts.Logger).Named("datadog"),
		buf:      newBuffer(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}

	go b.run(every)
	return b, nil
}

// envTag prefers ENV over DD_ENV.
func envTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) run(every time.Duration) {
	defer close(b.done)
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := b.Flush(); err != nil {
				b.log.Warn("submit metrics failed", zap.Error(err))
			}
		case <-b.stop:
			return
		}
	}
}

// Close stops the flush loop and submits whatever is still buffered. Only the
// first call flushes.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
		err = b.Flush()
	})
	return err
}

// IncCounter implements metrics.Backend. Non-positive deltas are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if name == "" || delta <= 0 {
		return
	}
	k := seriesKey(name, labels)
	b.mu.Lock()
	b.buf.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative values are dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name == "" || value < 0 {
		return
	}
	k := seriesKey(name, labels)
	b.mu.Lock()
	s := b.buf.summaries[k]
	if s == nil {
		s = &summary{}
		b.buf.summaries[k] = s
	}
	s.add(value)
	b.mu.Unlock()
}

// Flush submits and clears the buffer. The buffer is cleared even when the
// submission fails; nothing is sent when it is empty.
func (b *Backend) Flush() error {
	b.mu.Lock()
	buf := b.buf
	b.buf = newBuffer()
	b.mu.Unlock()

	if buf.empty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.series(buf, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// series renders buf at timestamp ts, sorted by metric name then tags.
func (b *Backend) series(buf buffer, ts int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(buf.counters)+5*len(buf.summaries))

	for k, v := range buf.counters {
		name, tags := splitSeriesKey(k)
		out = append(out, point(datadogV2.METRICINTAKETYPE_COUNT, ddMetricName(name), v, b.tags(tags), ts))
	}
	for k, s := range buf.summaries {
		name, tags := splitSeriesKey(k)
		base, all := ddMetricName(name), b.tags(tags)

		sorted := slices.Clone(s.samples)
		slices.Sort(sorted)
		for _, g := range []struct {
			suffix string
			v      float64
		}{
			{".avg", s.sum / float64(s.n)},
			{".max", s.max},
			{".p50", quantile(sorted, 0.50)},
			{".p95", quantile(sorted, 0.95)},
			{".count", float64(s.n)},
		} {
			out = append(out, point(datadogV2.METRICINTAKETYPE_GAUGE, base+g.suffix, g.v, all, ts))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return strings.Join(out[i].Tags, ",") < strings.Join(out[j].Tags, ",")
	})
	return out
}

func (b *Backend) tags(extra []string) []string {
	return append(slices.Clone(b.baseTags), extra...)
}

func point(typ datadogV2.MetricIntakeType, metric string, v float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(v)}},
		Tags:   tags,
	}
}

// quantile is nearest-rank over an ascending slice; 0 for an empty one.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q*float64(len(sorted)-1) + 0.5)
	return sorted[min(max(i, 0), len(sorted)-1)]
}

// seriesKey joins a metric name and its sorted "k:v" tags. Empty label
// values are reported as "unknown".
func seriesKey(name string, labels metrics.Labels) string {
	parts := make([]string, 0, len(labels)+1)
	for k, v := range labels {
		if v == "" {
			v = "unknown"
		}
		parts = append(parts, k+":"+v)
	}
	sort.Strings(parts)
	return strings.Join(append([]string{name}, parts...), "\x00")
}

func splitSeriesKey(k string) (string, []string) {
	name, rest, ok := strings.Cut(k, "\x00")
	if !ok {
		return name, nil
	}
	return name, strings.Split(rest, "\x00")
}

// ddMetricName rewrites "powerdash_ingest_duration_seconds" to
// "powerdash.ingest.duration_seconds". Unit suffixes stay attached.
func ddMetricName(name string) string {
	for _, unit := range []string{"_seconds", "_bytes"} {
		if base, ok := strings.CutSuffix(name, unit); ok {
			return strings.ReplaceAll(base, "_", ".") + unit
		}
	}
	return strings.ReplaceAll(name, "_", ".")
}

// ParseTagsCSV splits "env:prod, team:markets" into tags, dropping blanks.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
