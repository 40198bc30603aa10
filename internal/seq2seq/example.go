// Package seq2seq composes span-infilling training examples.
//
// Every record becomes three token streams that share one position axis:
//
//	source     [CLS] s1 .. sn [SEP]          positions 0 .. Ls-1
//	target     [CLS] t1 .. tm [SEP]          positions Ls .. Ls+Lt-1
//	attn-slot  [ATTN] x Lt                   same positions as target
//
// and three row-blocks of attention mask:
//
//	query\key  source  target               attn-slot
//	source     bidi    -                    -
//	target     bidi    causal               -
//	attn-slot  bidi    causal without diag  diag
//
// Attn-slot i predicts target token i. It sees every source token, the
// target history before i and only itself among attn-slot keys.
package seq2seq

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-infill/internal/mask"
)

var (
	ErrMalformedRecord   = errors.New("malformed record")
	ErrTupleArity        = errors.New("wrong tuple arity")
	ErrEmptyAttentionRow = errors.New("attention row has no visible key")
	ErrEmptyBatch        = errors.New("no examples to collate")
	ErrLabelMismatch     = errors.New("labels do not line up with attn slots")
)

// TupleArity is the number of fields in a composed example tuple.
const TupleArity = 12

// Record is one raw (id, source, target) input after vocabulary lookup.
type Record struct {
	ID     string
	Source []int
	Target []int
}

// Example is a single record after truncation, wrapping and noising, before
// padding.
type Example struct {
	ID string

	SrcIDs         []int
	SrcSegmentIDs  []int
	SrcPositionIDs []int

	TgtIDs         []int
	TgtSegmentIDs  []int
	TgtPositionIDs []int

	AttnIDs []int

	// TgtLabels holds the target ids before noising.
	TgtLabels []int

	// Noised counts target positions whose input id differs from its label.
	Noised int
}

// Batch is the padded, fixed-shape tuple handed to the training step.
type Batch struct {
	IDs []string

	SrcIDs         [][]int
	SrcSegmentIDs  [][]int
	SrcPositionIDs [][]int

	TgtIDs         [][]int
	TgtSegmentIDs  [][]int
	TgtPositionIDs [][]int

	AttnIDs [][]int

	MaskSrcToSrc         *mask.Mask // (B, Ls, Ls)
	MaskTgtToSrcTgt      *mask.Mask // (B, Lt, Ls+Lt)
	MaskAttnToSrcTgtAttn *mask.Mask // (B, Lt, Ls+2*Lt)

	// Labels are the pre-noise target ids with padding removed, flattened
	// row-major.
	Labels []int

	// LabelPositions lists (example, position) of every attn-slot that
	// carries a prediction, aligned with Labels.
	LabelPositions [][2]int
}

func (b *Batch) Size() int {
	return len(b.IDs)
}

func (b *Batch) SourceLen() int {
	if len(b.SrcIDs) == 0 {
		return 0
	}
	return len(b.SrcIDs[0])
}

func (b *Batch) TargetLen() int {
	if len(b.TgtIDs) == 0 {
		return 0
	}
	return len(b.TgtIDs[0])
}

// Tuple returns the batch fields in their fixed wire order.
func (b *Batch) Tuple() []any {
	return []any{
		b.IDs,
		b.SrcIDs, b.SrcSegmentIDs, b.SrcPositionIDs,
		b.TgtIDs, b.TgtSegmentIDs, b.TgtPositionIDs,
		b.AttnIDs,
		b.MaskSrcToSrc, b.MaskTgtToSrcTgt, b.MaskAttnToSrcTgtAttn,
		b.Labels,
	}
}

// FromTuple is the inverse of Tuple. LabelPositions is not part of the tuple;
// it is rebuilt from the attn slots whose target id is not padding.
func FromTuple(t []any) (*Batch, error) {
	if len(t) != TupleArity {
		return nil, fmt.Errorf("got %d fields, want %d: %w", len(t), TupleArity, ErrTupleArity)
	}

	b := &Batch{}
	var ok bool
	fail := func(i int, want string) error {
		return fmt.Errorf("field %d is %T, want %s: %w", i, t[i], want, ErrTupleArity)
	}

	if b.IDs, ok = t[0].([]string); !ok {
		return nil, fail(0, "[]string")
	}
	ints := []*[][]int{
		&b.SrcIDs, &b.SrcSegmentIDs, &b.SrcPositionIDs,
		&b.TgtIDs, &b.TgtSegmentIDs, &b.TgtPositionIDs,
		&b.AttnIDs,
	}
	for i, dst := range ints {
		if *dst, ok = t[1+i].([][]int); !ok {
			return nil, fail(1+i, "[][]int")
		}
	}
	masks := []**mask.Mask{&b.MaskSrcToSrc, &b.MaskTgtToSrcTgt, &b.MaskAttnToSrcTgtAttn}
	for i, dst := range masks {
		if *dst, ok = t[8+i].(*mask.Mask); !ok {
			return nil, fail(8+i, "*mask.Mask")
		}
	}
	if b.Labels, ok = t[11].([]int); !ok {
		return nil, fail(11, "[]int")
	}

	for i, row := range b.AttnIDs {
		if i >= len(b.TgtIDs) || len(b.TgtIDs[i]) != len(row) {
			return nil, fmt.Errorf("attn row %d does not match target shape: %w", i, ErrLabelMismatch)
		}
		for j, id := range row {
			if id != 0 && b.TgtIDs[i][j] != 0 {
				b.LabelPositions = append(b.LabelPositions, [2]int{i, j})
			}
		}
	}
	if len(b.LabelPositions) != len(b.Labels) {
		return nil, fmt.Errorf("%d labels, %d attn slots: %w", len(b.Labels), len(b.LabelPositions), ErrLabelMismatch)
	}
	return b, nil
}
