package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordComposed(t *testing.T) {
	before := testutil.ToFloat64(ExamplesComposed)
	noisedBefore := testutil.ToFloat64(NoisedTokens)

	RecordComposed(12, 4, 2)
	RecordComposed(30, 8, 0)

	if got := testutil.ToFloat64(ExamplesComposed) - before; got != 2 {
		t.Errorf("expected 2 composed examples, got %v", got)
	}
	if got := testutil.ToFloat64(NoisedTokens) - noisedBefore; got != 2 {
		t.Errorf("expected 2 noised tokens, got %v", got)
	}
}

func TestRecordRejected(t *testing.T) {
	c := ExamplesRejected.WithLabelValues("malformed")
	before := testutil.ToFloat64(c)

	RecordRejected("malformed")
	RecordRejected("malformed")
	RecordRejected("field_count")

	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Errorf("expected 2 malformed rejections, got %v", got)
	}
}

func TestRecordBatch(t *testing.T) {
	before := testutil.ToFloat64(BatchesTotal)

	RecordBatch(8, 64, 16, 5*time.Millisecond)

	if got := testutil.ToFloat64(BatchesTotal) - before; got != 1 {
		t.Errorf("expected 1 batch, got %v", got)
	}
	if n := testutil.CollectAndCount(BatchPaddedTokens); n != 2 {
		t.Errorf("expected source and target series, got %d", n)
	}
}

func TestRecordSinkError(t *testing.T) {
	before := testutil.ToFloat64(SinkErrors)
	RecordSinkError()
	if got := testutil.ToFloat64(SinkErrors) - before; got != 1 {
		t.Errorf("expected 1 sink error, got %v", got)
	}
}

func TestRecordDecoded(t *testing.T) {
	lines := testutil.ToFloat64(LinesDecoded)
	empty := testutil.ToFloat64(EmptyPredictions)

	RecordDecoded(false)
	RecordDecoded(true)

	if got := testutil.ToFloat64(LinesDecoded) - lines; got != 2 {
		t.Errorf("expected 2 lines, got %v", got)
	}
	if got := testutil.ToFloat64(EmptyPredictions) - empty; got != 1 {
		t.Errorf("expected 1 empty prediction, got %v", got)
	}
}
