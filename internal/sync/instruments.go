package sync

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope = "batchrelay/sync"

	spanUpload          = "batchrelay.upload"
	spanUploadBatch     = "batchrelay.upload.batch"
	spanCheckDuplicates = "batchrelay.check_duplicates"

	metricBatches    = "batchrelay.upload.batches"
	metricRecords    = "batchrelay.upload.records"
	metricFailures   = "batchrelay.upload.failures"
	metricDuplicates = "batchrelay.duplicates.detected"
	metricRetries    = "batchrelay.retry.attempts"
)

// instruments holds the OTel tracer and counters. They are always non-nil
// and are no-ops when telemetry is disabled.
type instruments struct {
	tracer        trace.Tracer
	cntBatches    metric.Int64Counter
	cntRecords    metric.Int64Counter
	cntFailures   metric.Int64Counter
	cntDuplicates metric.Int64Counter
	cntRetries    metric.Int64Counter
}

func newInstruments(logger *slog.Logger) *instruments {
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &instruments{
		tracer:        otel.Tracer(otelScope),
		cntBatches:    mustCounter(metricBatches, "Number of batches written to the store"),
		cntRecords:    mustCounter(metricRecords, "Number of records written to the store"),
		cntFailures:   mustCounter(metricFailures, "Number of uploads that failed after retries"),
		cntDuplicates: mustCounter(metricDuplicates, "Number of candidates found to exist remotely"),
		cntRetries:    mustCounter(metricRetries, "Number of retried store calls"),
	}
}
