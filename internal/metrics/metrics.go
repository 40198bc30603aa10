package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lengthBuckets = []float64{8, 16, 32, 64, 128, 256, 512, 640, 1024}

var (
	ExamplesComposed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infill_examples_composed_total",
		Help: "Total number of records turned into training examples",
	})

	ExamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infill_examples_rejected_total",
		Help: "Total number of records dropped, by reason",
	}, []string{"reason"})

	NoisedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infill_noised_tokens_total",
		Help: "Total number of target tokens replaced by noise",
	})

	SourceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "infill_source_length_tokens",
		Help:    "Distribution of source lengths after truncation",
		Buckets: lengthBuckets,
	})

	TargetLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "infill_target_length_tokens",
		Help:    "Distribution of target lengths after truncation",
		Buckets: lengthBuckets,
	})

	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infill_batches_total",
		Help: "Total number of batches handed to a sink",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "infill_batch_size",
		Help:    "Number of examples per batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	BatchPaddedTokens = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infill_batch_padded_length_tokens",
		Help:    "Padded sequence length per batch",
		Buckets: lengthBuckets,
	}, []string{"side"})

	BatchDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "infill_batch_duration_seconds",
		Help: "Time spent collating and emitting a batch",
	})

	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infill_sink_errors_total",
		Help: "Total number of failed batch writes",
	})

	LinesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infill_decoded_lines_total",
		Help: "Total number of formatted prediction lines written",
	})

	EmptyPredictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infill_empty_predictions_total",
		Help: "Predictions that formatted to an empty string",
	})
)

// RecordComposed records one successfully composed example.
func RecordComposed(srcLen, tgtLen, noised int) {
	ExamplesComposed.Inc()
	SourceLength.Observe(float64(srcLen))
	TargetLength.Observe(float64(tgtLen))
	if noised > 0 {
		NoisedTokens.Add(float64(noised))
	}
}

func RecordRejected(reason string) {
	ExamplesRejected.WithLabelValues(reason).Inc()
}

// RecordBatch records a batch handed to a sink along with its padded lengths.
func RecordBatch(size, srcLen, tgtLen int, d time.Duration) {
	BatchesTotal.Inc()
	BatchSize.Observe(float64(size))
	BatchPaddedTokens.WithLabelValues("source").Observe(float64(srcLen))
	BatchPaddedTokens.WithLabelValues("target").Observe(float64(tgtLen))
	BatchDuration.Observe(d.Seconds())
}

func RecordSinkError() {
	SinkErrors.Inc()
}

func RecordDecoded(empty bool) {
	LinesDecoded.Inc()
	if empty {
		EmptyPredictions.Inc()
	}
}
