package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lektio/lektio"

// Metrics holds the runtime's instrument set. All record methods are safe
// for concurrent use and cheap enough to call on hot paths.
type Metrics struct {
	meter metric.Meter

	gradeDuration      metric.Float64Histogram
	transcribeDuration metric.Float64Histogram
	reconcileOutcomes  metric.Int64Counter
	saveFailures       metric.Int64Counter
	cacheLookups       metric.Int64Counter
	playbacks          metric.Int64Counter
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.gradeDuration, err = meter.Float64Histogram("lektio.grade.duration",
		metric.WithDescription("Answer grading duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("observe: create grade histogram: %w", err)
	}
	if m.transcribeDuration, err = meter.Float64Histogram("lektio.transcribe.duration",
		metric.WithDescription("Speech transcription duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("observe: create transcribe histogram: %w", err)
	}
	if m.reconcileOutcomes, err = meter.Int64Counter("lektio.transcript.reconcile",
		metric.WithDescription("Message reconciliation outcomes")); err != nil {
		return nil, fmt.Errorf("observe: create reconcile counter: %w", err)
	}
	if m.saveFailures, err = meter.Int64Counter("lektio.save.failures",
		metric.WithDescription("Persistence operations that failed")); err != nil {
		return nil, fmt.Errorf("observe: create save failure counter: %w", err)
	}
	if m.cacheLookups, err = meter.Int64Counter("lektio.audio.cache.lookups",
		metric.WithDescription("Audio cache lookups by result")); err != nil {
		return nil, fmt.Errorf("observe: create cache lookup counter: %w", err)
	}
	if m.playbacks, err = meter.Int64Counter("lektio.audio.playbacks",
		metric.WithDescription("Audio playback attempts by result")); err != nil {
		return nil, fmt.Errorf("observe: create playback counter: %w", err)
	}
	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns process-wide metrics on the global meter provider,
// creating them on first use. Instrument creation errors fall back to a
// no-op set rather than failing the caller.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider().Meter(meterName))
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func (m *Metrics) RecordGrade(ctx context.Context, d time.Duration, source string, ok bool) {
	if m.gradeDuration == nil {
		return
	}
	m.gradeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, provider string, ok bool) {
	if m.transcribeDuration == nil {
		return
	}
	m.transcribeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) RecordReconciliation(ctx context.Context, outcome string) {
	if m.reconcileOutcomes == nil {
		return
	}
	m.reconcileOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordSaveFailure(ctx context.Context) {
	if m.saveFailures == nil {
		return
	}
	m.saveFailures.Add(ctx, 1)
}

// RegisterSaveDepth exposes the save queue backlog as an observable gauge.
func (m *Metrics) RegisterSaveDepth(depth func() int64) error {
	if m.meter == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge("lektio.save.depth",
		metric.WithDescription("Pending operations in the save queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(depth())
			return nil
		}))
	if err != nil {
		return fmt.Errorf("observe: register save depth gauge: %w", err)
	}
	return nil
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m.cacheLookups == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func (m *Metrics) RecordPlayback(ctx context.Context, result string) {
	if m.playbacks == nil {
		return
	}
	m.playbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
