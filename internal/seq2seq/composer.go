package seq2seq

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-infill/internal/mask"
	"github.com/23skdu/longbow-infill/internal/noise"
)

// Wrapper adds boundary markers to a token id sequence and returns matching
// segment ids. The tokenizer implements it.
type Wrapper interface {
	BuildForErnie(ids []int) ([]int, []int)
}

type Options struct {
	MaxEncodeLen    int
	MaxDecodeLen    int
	TargetSegmentID int
	AttnID          int
	PadID           int
}

func (o Options) Validate() error {
	if o.MaxEncodeLen <= 0 {
		return fmt.Errorf("invalid max_encode_len: %d (must be positive)", o.MaxEncodeLen)
	}
	if o.MaxDecodeLen <= 0 {
		return fmt.Errorf("invalid max_decode_len: %d (must be positive)", o.MaxDecodeLen)
	}
	if o.TargetSegmentID < 0 {
		return fmt.Errorf("invalid target_segment_id: %d (must be non-negative)", o.TargetSegmentID)
	}
	if o.PadID != 0 {
		return fmt.Errorf("invalid pad id: %d (padding and dropped labels are zero-valued)", o.PadID)
	}
	if o.AttnID == o.PadID {
		return fmt.Errorf("invalid attn id: %d (must differ from pad id)", o.AttnID)
	}
	return nil
}

// Composer is safe for concurrent use. Randomness comes in through the rng
// argument of Map and Compose.
type Composer struct {
	opts  Options
	wrap  Wrapper
	noise *noise.Injector
}

// NewComposer builds a composer. A nil injector disables noising.
func NewComposer(opts Options, wrap Wrapper, inj *noise.Injector) (*Composer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if wrap == nil {
		return nil, errors.New("composer: wrapper is required")
	}
	if inj != nil {
		cfg := inj.Config()
		if cfg.Mode == noise.ModeSentinel && cfg.Prob > 0 && cfg.SentinelID == opts.PadID {
			return nil, fmt.Errorf("invalid noise id: %d (must differ from pad id)", cfg.SentinelID)
		}
	}
	return &Composer{opts: opts, wrap: wrap, noise: inj}, nil
}

func (c *Composer) Options() Options {
	return c.opts
}

// Map turns one record into an unpadded example.
func (c *Composer) Map(rec Record, rng *rand.Rand) (*Example, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("record has no id: %w", ErrMalformedRecord)
	}
	if len(rec.Source) == 0 {
		return nil, fmt.Errorf("record %s: empty source: %w", rec.ID, ErrMalformedRecord)
	}
	if len(rec.Target) == 0 {
		return nil, fmt.Errorf("record %s: empty target: %w", rec.ID, ErrMalformedRecord)
	}

	src := truncate(rec.Source, c.opts.MaxEncodeLen)
	tgt := truncate(rec.Target, c.opts.MaxDecodeLen)

	srcIDs, srcSIDs, err := c.build(rec.ID, "source", src)
	if err != nil {
		return nil, err
	}
	tgtIDs, _, err := c.build(rec.ID, "target", tgt)
	if err != nil {
		return nil, err
	}

	ex := &Example{
		ID:             rec.ID,
		SrcIDs:         srcIDs,
		SrcSegmentIDs:  srcSIDs,
		SrcPositionIDs: arange(len(srcIDs), 0),
		TgtIDs:         tgtIDs,
		TgtSegmentIDs:  fill(len(tgtIDs), c.opts.TargetSegmentID),
		TgtPositionIDs: arange(len(tgtIDs), len(srcIDs)),
		AttnIDs:        fill(len(tgtIDs), c.opts.AttnID),
		TgtLabels:      tgtIDs,
	}

	if c.noise != nil && c.noise.Budget(len(tgtIDs)) > 0 {
		if rng == nil {
			return nil, fmt.Errorf("record %s: noise enabled without a random source", rec.ID)
		}
		ex.TgtIDs, ex.TgtLabels = c.noise.Corrupt(rng, tgtIDs)
		for i := range ex.TgtIDs {
			if ex.TgtIDs[i] != ex.TgtLabels[i] {
				ex.Noised++
			}
		}
	}
	return ex, nil
}

func (c *Composer) build(id, field string, ids []int) ([]int, []int, error) {
	out, sids := c.wrap.BuildForErnie(append([]int(nil), ids...))
	if len(out) == 0 {
		return nil, nil, fmt.Errorf("record %s: %s is empty after wrapping: %w", id, field, ErrMalformedRecord)
	}
	if len(sids) != len(out) {
		return nil, nil, fmt.Errorf("record %s: %s has %d ids but %d segment ids: %w",
			id, field, len(out), len(sids), ErrMalformedRecord)
	}
	return out, append([]int(nil), sids...), nil
}

// Compose maps a single record and collates it into a batch of one.
func (c *Composer) Compose(rec Record, rng *rand.Rand) (*Batch, error) {
	ex, err := c.Map(rec, rng)
	if err != nil {
		return nil, err
	}
	return c.Collate([]*Example{ex})
}

// Collate pads examples to a common length and builds the attention masks.
func (c *Composer) Collate(examples []*Example) (*Batch, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyBatch
	}

	srcLen, tgtLen := 0, 0
	for _, ex := range examples {
		srcLen = max(srcLen, len(ex.SrcIDs))
		tgtLen = max(tgtLen, len(ex.TgtIDs))
	}

	pad := c.opts.PadID
	n := len(examples)
	b := &Batch{
		IDs:            make([]string, n),
		SrcIDs:         make([][]int, n),
		SrcSegmentIDs:  make([][]int, n),
		SrcPositionIDs: make([][]int, n),
		TgtIDs:         make([][]int, n),
		TgtSegmentIDs:  make([][]int, n),
		TgtPositionIDs: make([][]int, n),
		AttnIDs:        make([][]int, n),
	}
	labels := make([][]int, n)
	for i, ex := range examples {
		b.IDs[i] = ex.ID
		b.SrcIDs[i] = padTo(ex.SrcIDs, srcLen, pad)
		b.SrcSegmentIDs[i] = padTo(ex.SrcSegmentIDs, srcLen, 0)
		b.SrcPositionIDs[i] = padTo(ex.SrcPositionIDs, srcLen, 0)
		b.TgtIDs[i] = padTo(ex.TgtIDs, tgtLen, pad)
		b.TgtSegmentIDs[i] = padTo(ex.TgtSegmentIDs, tgtLen, 0)
		b.TgtPositionIDs[i] = padTo(ex.TgtPositionIDs, tgtLen, 0)
		b.AttnIDs[i] = padTo(ex.AttnIDs, tgtLen, pad)
		labels[i] = padTo(ex.TgtLabels, tgtLen, pad)
	}

	if err := c.buildMasks(b); err != nil {
		return nil, err
	}
	if err := c.checkVisibility(b); err != nil {
		return nil, err
	}

	for i, row := range labels {
		for _, id := range row {
			if id == pad {
				continue
			}
			b.Labels = append(b.Labels, id)
		}
		for j, id := range b.AttnIDs[i] {
			if id == c.opts.AttnID && labels[i][j] != pad {
				b.LabelPositions = append(b.LabelPositions, [2]int{i, j})
			}
		}
	}
	return b, nil
}

func (c *Composer) buildMasks(b *Batch) error {
	pad := c.opts.PadID
	srcLen, tgtLen := b.SourceLen(), b.TargetLen()

	gen := func(ids [][]int, q int, p mask.Policy) (*mask.Mask, error) {
		return mask.Generate(ids, q, p, pad)
	}

	m00, err := gen(b.SrcIDs, srcLen, mask.Bidirectional)
	if err != nil {
		return err
	}
	m10, err := gen(b.SrcIDs, tgtLen, mask.Bidirectional)
	if err != nil {
		return err
	}
	m11, err := gen(b.TgtIDs, tgtLen, mask.Causal)
	if err != nil {
		return err
	}
	m20, err := gen(b.SrcIDs, tgtLen, mask.Bidirectional)
	if err != nil {
		return err
	}
	m21, err := gen(b.TgtIDs, tgtLen, mask.CausalWithoutDiagonal)
	if err != nil {
		return err
	}
	m22, err := gen(b.AttnIDs, tgtLen, mask.DiagonalOnly)
	if err != nil {
		return err
	}

	b.MaskSrcToSrc = m00
	if b.MaskTgtToSrcTgt, err = mask.ConcatKeys(m10, m11); err != nil {
		return err
	}
	if b.MaskAttnToSrcTgtAttn, err = mask.ConcatKeys(m20, m21, m22); err != nil {
		return err
	}
	return nil
}

// checkVisibility rejects batches where a real query token would see no
// source or target key, which leaves softmax undefined. Attn queries always
// see their own slot, so only their source and target columns count.
func (c *Composer) checkVisibility(b *Batch) error {
	pad := c.opts.PadID
	srcTgt := b.SourceLen() + b.TargetLen()
	blocks := []struct {
		name    string
		queries [][]int
		m       *mask.Mask
		keys    int
	}{
		{"source", b.SrcIDs, b.MaskSrcToSrc, b.MaskSrcToSrc.Key},
		{"target", b.TgtIDs, b.MaskTgtToSrcTgt, srcTgt},
		{"attn", b.AttnIDs, b.MaskAttnToSrcTgtAttn, srcTgt},
	}
	for _, blk := range blocks {
		for i := range blk.queries {
			for _, q := range blk.m.EmptyRowsWithin(i, blk.keys) {
				if blk.queries[i][q] == pad {
					continue
				}
				return fmt.Errorf("example %s: %s query %d: %w", b.IDs[i], blk.name, q, ErrEmptyAttentionRow)
			}
		}
	}
	return nil
}

func truncate(ids []int, n int) []int {
	if len(ids) > n {
		return ids[:n]
	}
	return ids
}

func arange(n, start int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func fill(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func padTo(ids []int, n, pad int) []int {
	out := make([]int, n)
	copy(out, ids)
	for i := len(ids); i < n; i++ {
		out[i] = pad
	}
	return out
}
