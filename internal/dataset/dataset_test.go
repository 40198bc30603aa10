package dataset

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-infill/internal/seq2seq"
)

var vocab = map[string]int{"a": 10, "b": 11, "c": 20}

func lookup(text string) []int {
	var ids []int
	for _, tok := range strings.Fields(text) {
		if id, ok := vocab[tok]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, 1)
		}
	}
	return ids
}

func TestReaderNext(t *testing.T) {
	input := "1\ta b\tc\n\n2\tb x\ta c\r\n"
	r := NewReader(strings.NewReader(input), "train.tsv", EncoderFunc(lookup))

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, seq2seq.Record{ID: "1", Source: []int{10, 11}, Target: []int{20}}, rec)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, seq2seq.Record{ID: "2", Source: []int{11, 1}, Target: []int{10, 20}}, rec)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderFieldCount(t *testing.T) {
	input := "1\ta\tc\n2\tonly two\n3\tb\tc\n"
	r := NewReader(strings.NewReader(input), "dev.tsv", EncoderFunc(lookup))

	records, bad, err := ReadAll(r)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, bad, 1)

	assert.True(t, errors.Is(bad[0], ErrFieldCount))
	var le *LineError
	require.ErrorAs(t, bad[0], &le)
	assert.Equal(t, 2, le.Line)
	assert.Contains(t, le.Error(), "dev.tsv:2")
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-1"), []byte("2\tb\tc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0"), []byte("1\ta\tc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("junk\n"), 0o644))

	records, bad, err := ReadDir(dir, EncoderFunc(lookup))
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "2", records[1].ID)

	_, _, err = ReadDir(t.TempDir(), EncoderFunc(lookup))
	assert.Error(t, err)
}

func TestShuffleDeterministic(t *testing.T) {
	mk := func() []seq2seq.Record {
		var out []seq2seq.Record
		for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
			out = append(out, seq2seq.Record{ID: id})
		}
		return out
	}
	r1, r2 := mk(), mk()
	Shuffle(r1, rand.New(rand.NewSource(11)))
	Shuffle(r2, rand.New(rand.NewSource(11)))
	assert.Equal(t, r1, r2)
}

func TestReformatTSV(t *testing.T) {
	in := "q1\t1\tgood movie\nq2\t0\tbad one\n"
	var out bytes.Buffer

	n, err := ReformatTSV(strings.NewReader(in), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "1\tgood movie\n0\tbad one\n", out.String())

	_, err = ReformatTSV(strings.NewReader("q1\t1\n"), &out)
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestReadLabeled(t *testing.T) {
	in := "label\ttext_a\n1\tgreat\n0\tawful\n"

	rows, err := ReadLabeled(strings.NewReader(in), true)
	require.NoError(t, err)
	assert.Equal(t, []LabeledText{{"1", "great"}, {"0", "awful"}}, rows)

	rows, err = ReadLabeled(strings.NewReader(in), false)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = ReadLabeled(strings.NewReader("1\ttoo\tmany\n"), false)
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestQuotesAreLiteral(t *testing.T) {
	in := "label\ttext\n1\t\"好\" 很好\n0\t差\n1\t不错\n"
	rows, err := ReadLabeled(strings.NewReader(in), true)
	require.NoError(t, err)
	assert.Equal(t, []LabeledText{{"1", "\"好\" 很好"}, {"0", "差"}, {"1", "不错"}}, rows)

	var out bytes.Buffer
	n, err := ReformatTSV(strings.NewReader("9\t1\t\"好\" 很好\n10\t0\t差\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "1\t\"好\" 很好\n0\t差\n", out.String())
}

func TestDirReader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0"), []byte("1\ta\tc\n2\tbad\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-1"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-2"), []byte("3\tb\tc\n"), 0o644))

	d, err := OpenDir(dir, EncoderFunc(lookup))
	require.NoError(t, err)
	defer d.Close()

	var ids []string
	var bad int
	for {
		rec, err := d.Next()
		if err == io.EOF {
			break
		}
		var le *LineError
		if errors.As(err, &le) {
			bad++
			assert.Contains(t, le.Source, "part-0")
			continue
		}
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"1", "3"}, ids)
	assert.Equal(t, 1, bad)
	assert.NoError(t, d.Close())

	_, err = OpenDir(filepath.Join(dir, "missing"), EncoderFunc(lookup))
	assert.Error(t, err)
}
