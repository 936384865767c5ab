package metric

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/util"
)

type Measure struct {
	Name  string
	Value float64
}

type MetricReporter struct {
	Record func(ctx context.Context, m Measure, opts ...any)
}

var LogOptions = LogOptionBulder{}

// NoopReporter discards every measure.
func NoopReporter() MetricReporter {
	return MetricReporter{Record: func(context.Context, Measure, ...any) {}}
}

func NewLogMetricReporter() MetricReporter {
	return MetricReporter{Record: LogMetricReporter{}.Record}
}

// Combine fans every measure out to each reporter in order.
func Combine(reporters ...MetricReporter) MetricReporter {
	return MetricReporter{Record: func(ctx context.Context, m Measure, opts ...any) {
		for _, r := range reporters {
			r.Record(ctx, m, opts...)
		}
	}}
}

type LogMetricReporter struct{}

type LogArgs struct {
	Tags   map[string]string
	LogMsg string
	Level  *logrus.Level
}

type LogOptionBulder struct{}

func (LogOptionBulder) WithLogMessage(msg string) func(*LogArgs) {
	return func(a *LogArgs) {
		a.LogMsg = msg
	}
}

func (LogOptionBulder) WithTags(tags map[string]string) func(*LogArgs) {
	return func(a *LogArgs) {
		a.Tags = tags
	}
}

func (LogOptionBulder) WithLevel(l logrus.Level) func(*LogArgs) {
	return func(a *LogArgs) {
		a.Level = &l
	}
}

func parseArgs(opts []any) LogArgs {
	args := LogArgs{}
	for _, opt := range opts {
		if f, ok := opt.(func(*LogArgs)); ok {
			f(&args)
		}
	}
	return args
}

func (l LogMetricReporter) Record(ctx context.Context, metric Measure, opts ...any) {
	args := parseArgs(opts)

	metricPayload := logrus.Fields{"metric": logrus.Fields{
		"metricName":  metric.Name,
		"metricValue": metric.Value,
		"metricTags":  args.Tags,
	}}

	logLine := fmt.Sprintf("reporting metric %s(val=%0.2f)", metric.Name, metric.Value)

	if args.LogMsg != "" {
		logLine += ": " + args.LogMsg
	}

	if args.Level == nil {
		args.Level = util.ToPointer(logrus.DebugLevel)
	}

	logger.For(ctx).WithFields(metricPayload).Log(*args.Level, logLine)
}

// PrometheusMetricReporter adds every measure to a counter labelled with the measure name and its tags.
type PrometheusMetricReporter struct {
	events *prometheus.CounterVec
}

func NewPrometheusMetricReporter(reg prometheus.Registerer) MetricReporter {
	p := PrometheusMetricReporter{
		events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "activity_events_total",
			Help: "Activity stream events by measure name",
		}, []string{"name", "tags"}),
	}
	return MetricReporter{Record: p.Record}
}

func (p PrometheusMetricReporter) Record(ctx context.Context, metric Measure, opts ...any) {
	if metric.Value < 0 {
		return
	}
	args := parseArgs(opts)
	p.events.WithLabelValues(metric.Name, flattenTags(args.Tags)).Add(metric.Value)
}

func flattenTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
