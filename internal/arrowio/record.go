// Package arrowio moves composed batches across process boundaries as Arrow
// records, one row per example.
package arrowio

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-infill/internal/mask"
	"github.com/23skdu/longbow-infill/internal/seq2seq"
)

var (
	ErrSchemaMismatch  = errors.New("record does not match example schema")
	ErrUnalignedLabels = errors.New("labels are not aligned with label positions")
)

// Column order of the example schema.
const (
	colID = iota
	colSrcIDs
	colSrcSegmentIDs
	colSrcPositionIDs
	colTgtIDs
	colTgtSegmentIDs
	colTgtPositionIDs
	colAttnIDs
	colMaskSrcToSrc
	colMaskTgtToSrcTgt
	colMaskAttnToSrcTgtAttn
	colLabels
	colLabelPositions
)

var schema = arrow.NewSchema([]arrow.Field{
	{Name: "example_id", Type: arrow.BinaryTypes.String},
	{Name: "src_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "src_segment_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "src_position_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "tgt_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "tgt_segment_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "tgt_position_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "attn_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "mask_src_2_src", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	{Name: "mask_tgt_2_srctgt", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	{Name: "mask_attn_2_srctgtattn", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	{Name: "labels", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "label_positions", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
}, nil)

// Schema describes one composed example per row. Masks are stored row-major
// per example; their shapes follow from the source and target lengths.
func Schema() *arrow.Schema {
	return schema
}

// BatchToRecord converts b into a record owned by the caller.
func BatchToRecord(mem memory.Allocator, b *seq2seq.Batch) (arrow.Record, error) {
	n := b.Size()
	rows, err := labelsByRow(b)
	if err != nil {
		return nil, err
	}

	bldr := array.NewRecordBuilder(mem, schema)
	defer bldr.Release()

	ids := bldr.Field(colID).(*array.StringBuilder)
	ids.AppendValues(b.IDs, nil)

	ints := []struct {
		col  int
		rows [][]int
	}{
		{colSrcIDs, b.SrcIDs},
		{colSrcSegmentIDs, b.SrcSegmentIDs},
		{colSrcPositionIDs, b.SrcPositionIDs},
		{colTgtIDs, b.TgtIDs},
		{colTgtSegmentIDs, b.TgtSegmentIDs},
		{colTgtPositionIDs, b.TgtPositionIDs},
		{colAttnIDs, b.AttnIDs},
		{colLabels, rows.labels},
		{colLabelPositions, rows.positions},
	}
	for _, c := range ints {
		lb := bldr.Field(c.col).(*array.ListBuilder)
		vb := lb.ValueBuilder().(*array.Int32Builder)
		for i := 0; i < n; i++ {
			lb.Append(true)
			vb.AppendValues(toInt32(c.rows[i]), nil)
		}
	}

	masks := []struct {
		col int
		m   *mask.Mask
	}{
		{colMaskSrcToSrc, b.MaskSrcToSrc},
		{colMaskTgtToSrcTgt, b.MaskTgtToSrcTgt},
		{colMaskAttnToSrcTgtAttn, b.MaskAttnToSrcTgtAttn},
	}
	for _, c := range masks {
		if c.m == nil || c.m.Batch != n {
			return nil, fmt.Errorf("column %s: mask missing or sized for another batch: %w",
				schema.Field(c.col).Name, ErrSchemaMismatch)
		}
		lb := bldr.Field(c.col).(*array.ListBuilder)
		vb := lb.ValueBuilder().(*array.Float32Builder)
		per := c.m.Query * c.m.Key
		for i := 0; i < n; i++ {
			lb.Append(true)
			vb.AppendValues(c.m.Data[i*per:(i+1)*per], nil)
		}
	}

	return bldr.NewRecord(), nil
}

type rowLabels struct {
	labels    [][]int
	positions [][]int
}

// labelsByRow splits the flattened labels back into their examples using the
// recorded label positions.
func labelsByRow(b *seq2seq.Batch) (rowLabels, error) {
	n := b.Size()
	out := rowLabels{labels: make([][]int, n), positions: make([][]int, n)}
	if len(b.LabelPositions) != len(b.Labels) {
		return out, fmt.Errorf("%d labels, %d positions: %w", len(b.Labels), len(b.LabelPositions), ErrUnalignedLabels)
	}
	for k, pos := range b.LabelPositions {
		i, j := pos[0], pos[1]
		if i < 0 || i >= n {
			return out, fmt.Errorf("label %d points at example %d: %w", k, i, ErrUnalignedLabels)
		}
		out.labels[i] = append(out.labels[i], b.Labels[k])
		out.positions[i] = append(out.positions[i], j)
	}
	return out, nil
}

// RecordToBatch rebuilds a batch from a record produced by BatchToRecord.
func RecordToBatch(rec arrow.Record) (*seq2seq.Batch, error) {
	if !rec.Schema().Equal(schema) {
		return nil, ErrSchemaMismatch
	}
	n := int(rec.NumRows())

	idCol, ok := rec.Column(colID).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column example_id: %w", ErrSchemaMismatch)
	}
	b := &seq2seq.Batch{IDs: make([]string, n)}
	for i := range b.IDs {
		b.IDs[i] = idCol.Value(i)
	}

	intCols := []struct {
		col int
		dst *[][]int
	}{
		{colSrcIDs, &b.SrcIDs},
		{colSrcSegmentIDs, &b.SrcSegmentIDs},
		{colSrcPositionIDs, &b.SrcPositionIDs},
		{colTgtIDs, &b.TgtIDs},
		{colTgtSegmentIDs, &b.TgtSegmentIDs},
		{colTgtPositionIDs, &b.TgtPositionIDs},
		{colAttnIDs, &b.AttnIDs},
	}
	for _, c := range intCols {
		rows, err := intRows(rec, c.col)
		if err != nil {
			return nil, err
		}
		*c.dst = rows
	}

	labels, err := intRows(rec, colLabels)
	if err != nil {
		return nil, err
	}
	positions, err := intRows(rec, colLabelPositions)
	if err != nil {
		return nil, err
	}
	for i := range labels {
		if len(labels[i]) != len(positions[i]) {
			return nil, fmt.Errorf("example %s: %w", b.IDs[i], ErrUnalignedLabels)
		}
		b.Labels = append(b.Labels, labels[i]...)
		for _, j := range positions[i] {
			b.LabelPositions = append(b.LabelPositions, [2]int{i, j})
		}
	}

	ls, lt := b.SourceLen(), b.TargetLen()
	masks := []struct {
		col        int
		query, key int
		dst        **mask.Mask
	}{
		{colMaskSrcToSrc, ls, ls, &b.MaskSrcToSrc},
		{colMaskTgtToSrcTgt, lt, ls + lt, &b.MaskTgtToSrcTgt},
		{colMaskAttnToSrcTgtAttn, lt, ls + 2*lt, &b.MaskAttnToSrcTgtAttn},
	}
	for _, c := range masks {
		m, err := maskColumn(rec, c.col, c.query, c.key)
		if err != nil {
			return nil, err
		}
		*c.dst = m
	}
	return b, nil
}

func listColumn(rec arrow.Record, col int) (*array.List, error) {
	l, ok := rec.Column(col).(*array.List)
	if !ok {
		return nil, fmt.Errorf("column %s is %s: %w", schema.Field(col).Name, rec.Column(col).DataType(), ErrSchemaMismatch)
	}
	return l, nil
}

func intRows(rec arrow.Record, col int) ([][]int, error) {
	l, err := listColumn(rec, col)
	if err != nil {
		return nil, err
	}
	vals, ok := l.ListValues().(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("column %s: %w", schema.Field(col).Name, ErrSchemaMismatch)
	}
	out := make([][]int, l.Len())
	for i := range out {
		start, end := l.ValueOffsets(i)
		row := make([]int, 0, end-start)
		for k := start; k < end; k++ {
			row = append(row, int(vals.Value(int(k))))
		}
		out[i] = row
	}
	return out, nil
}

func maskColumn(rec arrow.Record, col, query, key int) (*mask.Mask, error) {
	l, err := listColumn(rec, col)
	if err != nil {
		return nil, err
	}
	vals, ok := l.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %s: %w", schema.Field(col).Name, ErrSchemaMismatch)
	}
	m := mask.Zeros(l.Len(), query, key)
	per := query * key
	for i := 0; i < l.Len(); i++ {
		start, end := l.ValueOffsets(i)
		if int(end-start) != per {
			return nil, fmt.Errorf("column %s row %d: %d values, want %dx%d: %w",
				schema.Field(col).Name, i, end-start, query, key, ErrSchemaMismatch)
		}
		for k := start; k < end; k++ {
			m.Data[i*per+int(k-start)] = vals.Value(int(k))
		}
	}
	return m, nil
}

func toInt32(ids []int) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}
