// Package decode turns decoder output back into text and writes the
// evaluation prediction file.
package decode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-infill/internal/logger"
	"github.com/23skdu/longbow-infill/internal/metrics"
	"github.com/23skdu/longbow-infill/internal/seq2seq"
	"github.com/23skdu/longbow-infill/internal/tokenizer"
)

var (
	ErrDecoderOutput = errors.New("decoder returned wrong number of sequences")
	ErrMissing       = errors.New("no prediction for example")
)

// Params are handed unchanged to the decoder.
type Params struct {
	EOS             int
	SOS             int
	AttnID          int
	MaxDecodeLen    int
	MaxEncodeLen    int
	BeamWidth       int
	LengthPenalty   float64
	TargetSegmentID int
}

// Decoder produces one id sequence per example. Only the source fields of the
// batch are populated.
type Decoder interface {
	Decode(ctx context.Context, b *seq2seq.Batch, p Params) ([][]int, error)
}

// Formatter renders id sequences as text.
type Formatter struct {
	Reverse   *tokenizer.ReverseVocab
	StopToken string
}

func NewFormatter(rev *tokenizer.ReverseVocab) *Formatter {
	return &Formatter{Reverse: rev, StopToken: tokenizer.SepToken}
}

// Format looks up ids, cuts at the first stop token and joins the pieces.
// Continuation pieces glue onto the previous token and CJK characters are
// written without a separator; everything else is prefixed with a space.
func (f *Formatter) Format(ids []int) string {
	var sb strings.Builder
	for _, tok := range f.Reverse.Tokens(ids) {
		if tok == f.StopToken {
			break
		}
		sb.WriteString(postProcess(tok))
	}
	return sb.String()
}

func postProcess(tok string) string {
	switch {
	case tok == "":
		return ""
	case strings.HasPrefix(tok, "##"):
		return tok[2:]
	case tokenizer.IsCJKChar(tok):
		return tok
	}
	return " " + tok
}

// WriteLine writes "<id>\t<text>\n".
func (f *Formatter) WriteLine(w io.Writer, id string, ids []int) error {
	text := f.Format(ids)
	metrics.RecordDecoded(text == "")
	_, err := fmt.Fprintf(w, "%s\t%s\n", id, text)
	return err
}

// sourceOnly copies the fields a decoder may look at.
func sourceOnly(b *seq2seq.Batch) *seq2seq.Batch {
	return &seq2seq.Batch{
		IDs:            b.IDs,
		SrcIDs:         b.SrcIDs,
		SrcSegmentIDs:  b.SrcSegmentIDs,
		SrcPositionIDs: b.SrcPositionIDs,
		MaskSrcToSrc:   b.MaskSrcToSrc,
	}
}

// Evaluate decodes every batch and writes one line per example, returning the
// number of lines written.
func (f *Formatter) Evaluate(ctx context.Context, dec Decoder, batches []*seq2seq.Batch, p Params, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		out, err := dec.Decode(ctx, sourceOnly(b), p)
		if err != nil {
			return n, fmt.Errorf("batch %d: %w", i, err)
		}
		if len(out) != b.Size() {
			return n, fmt.Errorf("batch %d: got %d, want %d: %w", i, len(out), b.Size(), ErrDecoderOutput)
		}
		for j, ids := range out {
			if err := f.WriteLine(bw, b.IDs[j], ids); err != nil {
				return n, err
			}
			n++
		}
	}
	if err := bw.Flush(); err != nil {
		return n, err
	}
	logger.Log.Info("wrote predictions", "lines", n, "batches", len(batches))
	return n, nil
}

// Prediction is one line of a decoder id dump.
type Prediction struct {
	ID  string
	IDs []int
}

// ReadIDLines parses "id\t<space separated ids>" lines. Blank lines are
// skipped.
func ReadIDLines(r io.Reader) ([]Prediction, error) {
	var out []Prediction
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		id, rest, ok := strings.Cut(text, "\t")
		if !ok || id == "" {
			return out, fmt.Errorf("line %d: expected id and ids separated by a tab", line)
		}
		fields := strings.Fields(rest)
		ids := make([]int, len(fields))
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return out, fmt.Errorf("line %d: %w", line, err)
			}
			ids[i] = v
		}
		out = append(out, Prediction{ID: id, IDs: ids})
	}
	return out, sc.Err()
}

// LookupDecoder serves precomputed predictions keyed by example id.
type LookupDecoder struct {
	byID map[string][]int
}

func NewLookupDecoder(preds []Prediction) *LookupDecoder {
	m := make(map[string][]int, len(preds))
	for _, p := range preds {
		m[p.ID] = p.IDs
	}
	return &LookupDecoder{byID: m}
}

func (d *LookupDecoder) Decode(_ context.Context, b *seq2seq.Batch, _ Params) ([][]int, error) {
	out := make([][]int, b.Size())
	for i, id := range b.IDs {
		ids, ok := d.byID[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrMissing)
		}
		out[i] = ids
	}
	return out, nil
}
