package composer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricPrefix = "composer_"

var (
	metricsOnce          sync.Once
	metricsErr           error
	compositionCounter   metric.Int64Counter
	validationCounter    metric.Int64Counter
	compositionHistogram metric.Float64Histogram
	validationHistogram  metric.Float64Histogram
)

var compositionBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("langsettings.composer")
		metricsErr = initMetrics(meter)
	})
}

func initMetrics(meter metric.Meter) error {
	var err error
	compositionCounter, err = meter.Int64Counter(
		metricPrefix+"compositions_total",
		metric.WithDescription("Total schema composition attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	validationCounter, err = meter.Int64Counter(
		metricPrefix+"validations_total",
		metric.WithDescription("Composed schema validations performed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	compositionHistogram, err = meter.Float64Histogram(
		metricPrefix+"composition_duration_seconds",
		metric.WithDescription("Schema composition duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(compositionBuckets...),
	)
	if err != nil {
		return err
	}
	validationHistogram, err = meter.Float64Histogram(
		metricPrefix+"validation_duration_seconds",
		metric.WithDescription("Composed schema validation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(compositionBuckets...),
	)
	return err
}

func recordComposition(ctx context.Context, duration time.Duration, servers int, accepted bool) {
	ensureMetrics()
	if metricsErr != nil {
		return
	}
	ctx = metricsContext(ctx)
	if compositionCounter != nil {
		compositionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("servers", servers),
			attribute.Bool("accepted", accepted),
		))
	}
	if duration > 0 && compositionHistogram != nil {
		compositionHistogram.Record(ctx, duration.Seconds())
	}
}

func recordValidation(ctx context.Context, duration time.Duration, valid bool) {
	ensureMetrics()
	if metricsErr != nil {
		return
	}
	ctx = metricsContext(ctx)
	if validationCounter != nil {
		outcome := "invalid"
		if valid {
			outcome = "valid"
		}
		validationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if duration > 0 && validationHistogram != nil {
		validationHistogram.Record(ctx, duration.Seconds())
	}
}

func metricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
