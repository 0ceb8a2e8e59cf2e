package failure

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
)

const (
	DefaultWindow    = time.Hour
	DefaultThreshold = 5
)

// Alert signals a high failure rate for one (component, kind) group.
type Alert struct {
	Component string
	Kind      entity.FailureKind
	Count     int
	Window    time.Duration
	FirstSeen time.Time
	LastSeen  time.Time
	Sample    string
}

// AlertSink receives alerts emitted by the Analyzer.
type AlertSink interface {
	HandleAlert(ctx context.Context, alert Alert) error
}

// AlertSinkFunc adapts a function to AlertSink.
type AlertSinkFunc func(ctx context.Context, alert Alert) error

func (f AlertSinkFunc) HandleAlert(ctx context.Context, alert Alert) error { return f(ctx, alert) }

// Analyzer groups recent failures and emits alerts. Alerts are signals only;
// they never trigger retries.
type Analyzer struct {
	recorder  *Recorder
	window    time.Duration
	threshold int
	sinks     []AlertSink
	logger    *slog.Logger
	now       func() time.Time
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

func WithWindow(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		if d > 0 {
			a.window = d
		}
	}
}

func WithThreshold(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.threshold = n
		}
	}
}

func WithSinks(sinks ...AlertSink) AnalyzerOption {
	return func(a *Analyzer) { a.sinks = append(a.sinks, sinks...) }
}

func WithAnalyzerLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) { a.logger = logger }
}

func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an Analyzer over recorder.
func NewAnalyzer(recorder *Recorder, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		recorder:  recorder,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type groupKey struct {
	component string
	kind      entity.FailureKind
}

// Analyze groups the records of the last window by (component, kind) and
// emits an alert for every group at or above the threshold.
func (a *Analyzer) Analyze(ctx context.Context) []Alert {
	records := a.recorder.Since(a.now().Add(-a.window))

	groups := make(map[groupKey]*Alert)
	for _, rec := range records {
		k := groupKey{component: rec.Component, kind: rec.Kind}
		g, ok := groups[k]
		if !ok {
			g = &Alert{
				Component: rec.Component,
				Kind:      rec.Kind,
				Window:    a.window,
				FirstSeen: rec.OccurredAt,
			}
			groups[k] = g
		}
		g.Count++
		if rec.OccurredAt.Before(g.FirstSeen) {
			g.FirstSeen = rec.OccurredAt
		}
		if !rec.OccurredAt.Before(g.LastSeen) {
			g.LastSeen = rec.OccurredAt
			g.Sample = rec.Message
		}
	}

	alerts := make([]Alert, 0)
	for _, g := range groups {
		if g.Count >= a.threshold {
			alerts = append(alerts, *g)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Count != alerts[j].Count {
			return alerts[i].Count > alerts[j].Count
		}
		if alerts[i].Component != alerts[j].Component {
			return alerts[i].Component < alerts[j].Component
		}
		return alerts[i].Kind < alerts[j].Kind
	})

	for _, alert := range alerts {
		metrics.RecordFailureAlert(alert.Component, string(alert.Kind))
		a.logger.Warn("high failure rate detected",
			slog.String("component", alert.Component),
			slog.String("kind", string(alert.Kind)),
			slog.Int("count", alert.Count),
			slog.Duration("window", alert.Window))
		for _, sink := range a.sinks {
			if err := sink.HandleAlert(ctx, alert); err != nil {
				a.logger.Error("failed to deliver failure alert",
					slog.String("component", alert.Component),
					slog.Any("error", err))
			}
		}
	}
	return alerts
}
