package dataset

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// LabeledText is a row of a "label\ttext" classification file.
type LabeledText struct {
	Label string
	Text  string
}

// tsvLines splits each non-blank line on tabs. Quote characters are literal.
type tsvLines struct {
	sc   *bufio.Scanner
	line int
}

func newTSVLines(r io.Reader) *tsvLines {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &tsvLines{sc: sc}
}

func (t *tsvLines) next() ([]string, error) {
	for t.sc.Scan() {
		t.line++
		text := strings.TrimRight(t.sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		return strings.Split(text, "\t"), nil
	}
	if err := t.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReformatTSV rewrites "qid\tlabel\ttext" rows as "label\ttext" and returns the
// number of rows written.
func ReformatTSV(r io.Reader, w io.Writer) (int, error) {
	lines := newTSVLines(r)
	bw := bufio.NewWriter(w)

	n := 0
	for {
		row, err := lines.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("reformat: %w", err)
		}
		if len(row) != 3 {
			return n, &LineError{Source: "reformat", Line: lines.line, Err: fmt.Errorf("got %d, want 3: %w", len(row), ErrFieldCount)}
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", row[1], row[2]); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

// ReadLabeled reads "label\ttext" rows, optionally skipping a header line.
func ReadLabeled(r io.Reader, skipHeader bool) ([]LabeledText, error) {
	lines := newTSVLines(r)
	var out []LabeledText
	first := true
	for {
		row, err := lines.next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read labeled: %w", err)
		}
		if first && skipHeader {
			first = false
			continue
		}
		first = false
		if len(row) != 2 {
			return out, &LineError{Source: "labeled", Line: lines.line, Err: fmt.Errorf("got %d, want 2: %w", len(row), ErrFieldCount)}
		}
		out = append(out, LabeledText{Label: row[0], Text: row[1]})
	}
}
