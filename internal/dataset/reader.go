// Package dataset reads seq2seq records from tab separated shard files.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/23skdu/longbow-infill/internal/seq2seq"
)

var ErrFieldCount = errors.New("wrong number of fields")

// Encoder turns one text column into token ids.
type Encoder interface {
	Encode(text string) []int
}

// EncoderFunc adapts a plain function to Encoder.
type EncoderFunc func(string) []int

func (f EncoderFunc) Encode(text string) []int {
	return f(text)
}

// Reader yields records from "id\tsource\ttarget" lines.
type Reader struct {
	sc   *bufio.Scanner
	enc  Encoder
	name string
	line int
}

func NewReader(r io.Reader, name string, enc Encoder) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{sc: sc, enc: enc, name: name}
}

// Next returns the next record, io.EOF at the end of input, or a *LineError
// for a malformed line. Reading may continue after a LineError.
func (r *Reader) Next() (seq2seq.Record, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimRight(r.sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			return seq2seq.Record{}, &LineError{
				Source: r.name,
				Line:   r.line,
				Err:    fmt.Errorf("got %d, want 3: %w", len(fields), ErrFieldCount),
			}
		}
		return seq2seq.Record{
			ID:     strings.TrimSpace(fields[0]),
			Source: r.enc.Encode(fields[1]),
			Target: r.enc.Encode(fields[2]),
		}, nil
	}
	if err := r.sc.Err(); err != nil {
		return seq2seq.Record{}, fmt.Errorf("read %s: %w", r.name, err)
	}
	return seq2seq.Record{}, io.EOF
}

// LineError reports a structural problem with a single input line.
type LineError struct {
	Source string
	Line   int
	Err    error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ReadAll drains a reader. Line errors are collected and returned alongside
// the good records.
func ReadAll(r *Reader) ([]seq2seq.Record, []error, error) {
	var (
		records []seq2seq.Record
		bad     []error
	)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, bad, nil
		}
		var le *LineError
		if errors.As(err, &le) {
			bad = append(bad, err)
			continue
		}
		if err != nil {
			return records, bad, err
		}
		records = append(records, rec)
	}
}

// ShardFiles lists regular files under dir in lexical order.
func ShardFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no shard files in %s", dir)
	}
	return files, nil
}

// ReadDir reads every shard under dir.
func ReadDir(dir string, enc Encoder) ([]seq2seq.Record, []error, error) {
	files, err := ShardFiles(dir)
	if err != nil {
		return nil, nil, err
	}

	var (
		records []seq2seq.Record
		bad     []error
	)
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open shard: %w", err)
		}
		recs, errs, err := ReadAll(NewReader(f, path, enc))
		f.Close()
		if err != nil {
			return nil, nil, err
		}
		records = append(records, recs...)
		bad = append(bad, errs...)
	}
	return records, bad, nil
}

// Shuffle permutes records in place.
func Shuffle(records []seq2seq.Record, rng *rand.Rand) {
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
}

// DirReader streams the shards of a directory one after another.
type DirReader struct {
	files []string
	enc   Encoder
	cur   *Reader
	f     *os.File
}

func OpenDir(dir string, enc Encoder) (*DirReader, error) {
	files, err := ShardFiles(dir)
	if err != nil {
		return nil, err
	}
	return &DirReader{files: files, enc: enc}, nil
}

func (d *DirReader) Next() (seq2seq.Record, error) {
	for {
		if d.cur == nil {
			if len(d.files) == 0 {
				return seq2seq.Record{}, io.EOF
			}
			f, err := os.Open(d.files[0])
			if err != nil {
				return seq2seq.Record{}, fmt.Errorf("open shard: %w", err)
			}
			d.f, d.cur = f, NewReader(f, d.files[0], d.enc)
			d.files = d.files[1:]
		}
		rec, err := d.cur.Next()
		if err == io.EOF {
			d.f.Close()
			d.f, d.cur = nil, nil
			continue
		}
		return rec, err
	}
}

func (d *DirReader) Close() error {
	d.files = nil
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f, d.cur = nil, nil
	return err
}
