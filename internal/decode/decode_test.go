package decode

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-infill/internal/seq2seq"
	"github.com/23skdu/longbow-infill/internal/tokenizer"
)

func newFormatter(t *testing.T) *Formatter {
	t.Helper()
	vocab := tokenizer.NewVocab([]string{
		"[PAD]", "[CLS]", "[SEP]", "[UNK]", "hello", "world", "##s", "中", "国",
	})
	tok, err := tokenizer.New(vocab)
	require.NoError(t, err)
	return NewFormatter(tokenizer.NewReverseVocab(tok))
}

func TestFormat(t *testing.T) {
	f := newFormatter(t)
	tests := []struct {
		name string
		ids  []int
		want string
	}{
		{"plain words", []int{4, 5}, " hello world"},
		{"word piece", []int{4, 6}, " hellos"},
		{"cjk", []int{7, 8}, "中国"},
		{"mixed", []int{4, 7, 8, 5}, " hello中国 world"},
		{"cut at stop", []int{4, 2, 5}, " hello"},
		{"stop first", []int{2, 4}, ""},
		{"pad and unk vanish", []int{0, 4, 3, 5, 0}, " hello world"},
		{"out of range", []int{4, 99}, " hello"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Format(tt.ids))
		})
	}
}

func TestWriteLine(t *testing.T) {
	f := newFormatter(t)
	var buf bytes.Buffer
	require.NoError(t, f.WriteLine(&buf, "42", []int{4, 5, 2, 0, 0}))
	assert.Equal(t, "42\t hello world\n", buf.String())
}

type fakeDecoder struct {
	seen []*seq2seq.Batch
	out  func(b *seq2seq.Batch) [][]int
	err  error
}

func (d *fakeDecoder) Decode(_ context.Context, b *seq2seq.Batch, _ Params) ([][]int, error) {
	d.seen = append(d.seen, b)
	if d.err != nil {
		return nil, d.err
	}
	return d.out(b), nil
}

func batch(ids ...string) *seq2seq.Batch {
	b := &seq2seq.Batch{IDs: ids}
	for range ids {
		b.SrcIDs = append(b.SrcIDs, []int{1, 4, 2})
		b.TgtIDs = append(b.TgtIDs, []int{1, 5, 2})
	}
	return b
}

func TestEvaluate(t *testing.T) {
	f := newFormatter(t)
	dec := &fakeDecoder{out: func(b *seq2seq.Batch) [][]int {
		out := make([][]int, b.Size())
		for i := range out {
			out[i] = []int{4, 5, 2}
		}
		return out
	}}

	var buf bytes.Buffer
	n, err := f.Evaluate(context.Background(), dec, []*seq2seq.Batch{batch("1", "2"), batch("3")}, Params{BeamWidth: 5}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "1\t hello world\n2\t hello world\n3\t hello world\n", buf.String())

	require.Len(t, dec.seen, 2)
	for _, b := range dec.seen {
		assert.NotNil(t, b.SrcIDs)
		assert.Nil(t, b.TgtIDs, "decoder must not see targets")
		assert.Nil(t, b.Labels)
	}
}

func TestEvaluateErrors(t *testing.T) {
	f := newFormatter(t)

	short := &fakeDecoder{out: func(*seq2seq.Batch) [][]int { return [][]int{{4}} }}
	_, err := f.Evaluate(context.Background(), short, []*seq2seq.Batch{batch("1", "2")}, Params{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrDecoderOutput)

	boom := errors.New("boom")
	failing := &fakeDecoder{err: boom}
	_, err = f.Evaluate(context.Background(), failing, []*seq2seq.Batch{batch("1")}, Params{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Evaluate(ctx, short, []*seq2seq.Batch{batch("1")}, Params{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadIDLines(t *testing.T) {
	in := "7\t4 5 2\n\n8\t\r\n9\t7  8\n"
	preds, err := ReadIDLines(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Prediction{
		{ID: "7", IDs: []int{4, 5, 2}},
		{ID: "8", IDs: []int{}},
		{ID: "9", IDs: []int{7, 8}},
	}, preds)

	_, err = ReadIDLines(strings.NewReader("no tab here\n"))
	assert.Error(t, err)

	_, err = ReadIDLines(strings.NewReader("1\t4 x\n"))
	assert.Error(t, err)
}

func TestLookupDecoder(t *testing.T) {
	dec := NewLookupDecoder([]Prediction{{ID: "a", IDs: []int{4}}, {ID: "b", IDs: []int{5}}})

	out, err := dec.Decode(context.Background(), batch("b", "a"), Params{})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{5}, {4}}, out)

	_, err = dec.Decode(context.Background(), batch("c"), Params{})
	assert.ErrorIs(t, err, ErrMissing)
}
