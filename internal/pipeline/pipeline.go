// Package pipeline fans record composition out over a bounded set of
// goroutines and groups the results into padded batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-infill/internal/dataset"
	"github.com/23skdu/longbow-infill/internal/logger"
	"github.com/23skdu/longbow-infill/internal/metrics"
	"github.com/23skdu/longbow-infill/internal/seq2seq"
)

// Source yields records until io.EOF. A *dataset.LineError marks a single bad
// line and does not end the stream.
type Source interface {
	Next() (seq2seq.Record, error)
}

type Sink interface {
	Put(ctx context.Context, b *seq2seq.Batch) error
}

type Config struct {
	BatchSize int
	Workers   int
	// Seed drives noising. Record n draws from a source seeded with Seed+n,
	// so output does not depend on goroutine scheduling.
	Seed int64
	// FailFast aborts the run on the first bad record instead of skipping it.
	FailFast bool
	// Progress, if set, receives the running totals after every batch.
	Progress func(Stats)
}

type Stats struct {
	Records int
	Skipped int
	Batches int
}

type Pipeline struct {
	composer *seq2seq.Composer
	cfg      Config
}

func New(c *seq2seq.Composer, cfg Config) (*Pipeline, error) {
	if c == nil {
		return nil, errors.New("pipeline: composer is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid batch_size: %d (must be positive)", cfg.BatchSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pipeline{composer: c, cfg: cfg}, nil
}

// SliceSource serves records from memory.
type SliceSource struct {
	records []seq2seq.Record
	pos     int
}

func NewSliceSource(records []seq2seq.Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next() (seq2seq.Record, error) {
	if s.pos >= len(s.records) {
		return seq2seq.Record{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Run reads src to the end, composing BatchSize examples per batch.
func (p *Pipeline) Run(ctx context.Context, src Source, sink Sink) (Stats, error) {
	var (
		stats   Stats
		pending []*seq2seq.Example
		seq     int64
	)

	flush := func(examples []*seq2seq.Example) error {
		if len(examples) == 0 {
			return nil
		}
		start := time.Now()
		b, dropped, err := p.collate(examples)
		if err != nil {
			return err
		}
		stats.Skipped += dropped
		stats.Records -= dropped
		if b == nil {
			return nil
		}
		if err := sink.Put(ctx, b); err != nil {
			metrics.RecordSinkError()
			return fmt.Errorf("sink: %w", err)
		}
		stats.Batches++
		metrics.RecordBatch(b.Size(), b.SourceLen(), b.TargetLen(), time.Since(start))
		if p.cfg.Progress != nil {
			p.cfg.Progress(stats)
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunk, eof, err := p.readChunk(src, &stats)
		if err != nil {
			return stats, err
		}

		examples, err := p.mapChunk(ctx, chunk, seq)
		if err != nil {
			return stats, err
		}
		seq += int64(len(chunk))

		for _, ex := range examples {
			if ex == nil {
				stats.Skipped++
				continue
			}
			stats.Records++
			pending = append(pending, ex)
		}

		for len(pending) >= p.cfg.BatchSize {
			if err := flush(pending[:p.cfg.BatchSize]); err != nil {
				return stats, err
			}
			pending = pending[p.cfg.BatchSize:]
		}

		if eof {
			if err := flush(pending); err != nil {
				return stats, err
			}
			logger.Log.Info("pipeline finished",
				"records", stats.Records,
				"skipped", stats.Skipped,
				"batches", stats.Batches)
			return stats, nil
		}
	}
}

func (p *Pipeline) readChunk(src Source, stats *Stats) ([]seq2seq.Record, bool, error) {
	chunk := make([]seq2seq.Record, 0, p.cfg.BatchSize)
	for len(chunk) < p.cfg.BatchSize {
		rec, err := src.Next()
		if err == io.EOF {
			return chunk, true, nil
		}
		var le *dataset.LineError
		if errors.As(err, &le) {
			if p.cfg.FailFast {
				return nil, false, err
			}
			stats.Skipped++
			metrics.RecordRejected("field_count")
			logger.Log.Warn("skipping malformed line", "source", le.Source, "line", le.Line, "error", le.Err)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		chunk = append(chunk, rec)
	}
	return chunk, false, nil
}

// mapChunk composes records concurrently. Failed records come back as nil
// entries unless FailFast is set.
func (p *Pipeline) mapChunk(ctx context.Context, chunk []seq2seq.Record, base int64) ([]*seq2seq.Example, error) {
	out := make([]*seq2seq.Example, len(chunk))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i := range chunk {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(p.cfg.Seed + base + int64(i)))
			ex, err := p.composer.Map(chunk[i], rng)
			if err != nil {
				metrics.RecordRejected(rejectReason(err))
				if p.cfg.FailFast {
					return err
				}
				logger.Log.Warn("skipping record", "id", chunk[i].ID, "error", err)
				return nil
			}
			metrics.RecordComposed(len(ex.SrcIDs), len(ex.TgtIDs), ex.Noised)
			out[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// collate builds a batch. When the batch as a whole is rejected, each example
// is checked alone so one bad record does not sink its neighbours.
func (p *Pipeline) collate(examples []*seq2seq.Example) (*seq2seq.Batch, int, error) {
	b, err := p.composer.Collate(examples)
	if err == nil {
		return b, 0, nil
	}
	if p.cfg.FailFast || !errors.Is(err, seq2seq.ErrEmptyAttentionRow) {
		return nil, 0, err
	}

	var good []*seq2seq.Example
	for _, ex := range examples {
		if _, err := p.composer.Collate([]*seq2seq.Example{ex}); err != nil {
			metrics.RecordRejected(rejectReason(err))
			logger.Log.Warn("dropping example", "id", ex.ID, "error", err)
			continue
		}
		good = append(good, ex)
	}
	dropped := len(examples) - len(good)
	if len(good) == 0 {
		return nil, dropped, nil
	}
	b, err = p.composer.Collate(good)
	return b, dropped, err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, seq2seq.ErrMalformedRecord):
		return "malformed"
	case errors.Is(err, seq2seq.ErrEmptyAttentionRow):
		return "empty_attention_row"
	case errors.Is(err, dataset.ErrFieldCount):
		return "field_count"
	}
	return "other"
}
