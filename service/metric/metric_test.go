package metric

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMetricReporter(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	reporter := NewPrometheusMetricReporter(reg)

	reporter.Record(ctx, Measure{Name: "mention_add", Value: 2}, LogOptions.WithTags(map[string]string{"b": "2", "a": "1"}))
	reporter.Record(ctx, Measure{Name: "mention_add", Value: 1}, LogOptions.WithTags(map[string]string{"a": "1", "b": "2"}))
	reporter.Record(ctx, Measure{Name: "mention_add", Value: -1})

	count, err := testutil.GatherAndCount(reg, "activity_events_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCombine(t *testing.T) {
	var names []string
	recorder := func(prefix string) MetricReporter {
		return MetricReporter{Record: func(ctx context.Context, m Measure, opts ...any) {
			names = append(names, prefix+m.Name)
		}}
	}

	Combine(recorder("a:"), NoopReporter(), recorder("b:")).Record(context.Background(), Measure{Name: "x", Value: 1})
	assert.Equal(t, []string{"a:x", "b:x"}, names)
}

func TestFlattenTags(t *testing.T) {
	assert.Equal(t, "", flattenTags(nil))
	assert.Equal(t, "a=1,b=2", flattenTags(map[string]string{"b": "2", "a": "1"}))
}

func TestParseArgs(t *testing.T) {
	args := parseArgs([]any{LogOptions.WithLogMessage("hi"), "ignored", LogOptions.WithTags(map[string]string{"k": "v"})})
	assert.Equal(t, "hi", args.LogMsg)
	assert.Equal(t, map[string]string{"k": "v"}, args.Tags)
	assert.Nil(t, args.Level)
}
