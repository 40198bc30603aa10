// Package mask builds 0/1 attention visibility tensors for batches of
// padded token id rows.
package mask

import (
	"errors"
	"fmt"
	"strings"
)

// Policy selects which keys a query position may attend to.
type Policy int

const (
	Bidirectional Policy = iota
	Causal
	CausalWithoutDiagonal
	DiagonalOnly
	Empty
)

var (
	ErrLengthMismatch = errors.New("query length must equal key length")
	ErrRaggedBatch    = errors.New("batch rows have different lengths")
	ErrShapeMismatch  = errors.New("mask shapes are not compatible")
)

func (p Policy) String() string {
	switch p {
	case Bidirectional:
		return "bidi"
	case Causal:
		return "causal"
	case CausalWithoutDiagonal:
		return "causal_without_diag"
	case DiagonalOnly:
		return "diag"
	case Empty:
		return "empty"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts the short tags used in training configs.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bidi", "bidirectional":
		return Bidirectional, nil
	case "causal":
		return Causal, nil
	case "causal_without_diag", "causal_without_diagonal":
		return CausalWithoutDiagonal, nil
	case "diag", "diagonal_only":
		return DiagonalOnly, nil
	case "empty":
		return Empty, nil
	}
	return 0, fmt.Errorf("unknown mask policy %q", s)
}

// Mask is a (batch, query, key) 0/1 visibility tensor stored row-major.
// Data[(b*Query+q)*Key+k] == 1 means query q of example b may attend to key k.
type Mask struct {
	Batch int
	Query int
	Key   int
	Data  []float32
}

// Zeros allocates an all-zero mask.
func Zeros(batch, query, key int) *Mask {
	return &Mask{
		Batch: batch,
		Query: query,
		Key:   key,
		Data:  make([]float32, batch*query*key),
	}
}

// Shape returns (batch, query, key).
func (m *Mask) Shape() [3]int {
	return [3]int{m.Batch, m.Query, m.Key}
}

func (m *Mask) index(b, q, k int) int {
	return (b*m.Query+q)*m.Key + k
}

// At reports whether query q of example b sees key k, as 0 or 1.
func (m *Mask) At(b, q, k int) float32 {
	return m.Data[m.index(b, q, k)]
}

// Set overwrites one cell.
func (m *Mask) Set(b, q, k int, v float32) {
	m.Data[m.index(b, q, k)] = v
}

// Row returns the key visibility of one query. The slice aliases m.Data.
func (m *Mask) Row(b, q int) []float32 {
	start := m.index(b, q, 0)
	return m.Data[start : start+m.Key]
}

// Slice copies example b out as a [query][key] matrix.
func (m *Mask) Slice(b int) [][]float32 {
	out := make([][]float32, m.Query)
	for q := range out {
		out[q] = append([]float32(nil), m.Row(b, q)...)
	}
	return out
}

// Equal reports whether both masks have the same shape and cells.
func (m *Mask) Equal(o *Mask) bool {
	if m.Shape() != o.Shape() {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// Generate builds a (len(batch), queryLen, keyLen) mask under policy p.
// Keys equal to padValue are never visible. A queryLen <= 0 uses the key length.
func Generate(batch [][]int, queryLen int, p Policy, padValue int) (*Mask, error) {
	keyLen, err := rowLength(batch)
	if err != nil {
		return nil, err
	}
	if queryLen <= 0 {
		queryLen = keyLen
	}

	switch p {
	case Causal, CausalWithoutDiagonal, DiagonalOnly:
		if queryLen != keyLen {
			return nil, fmt.Errorf("%s mask: query_len %d, key_len %d: %w", p, queryLen, keyLen, ErrLengthMismatch)
		}
	case Bidirectional, Empty:
	default:
		return nil, fmt.Errorf("unknown mask policy %d", int(p))
	}

	m := Zeros(len(batch), queryLen, keyLen)
	if p == Empty {
		return m, nil
	}

	for b, ids := range batch {
		for q := 0; q < queryLen; q++ {
			row := m.Row(b, q)
			for k, id := range ids {
				if id == padValue || !visible(p, q, k) {
					continue
				}
				row[k] = 1
			}
		}
	}
	return m, nil
}

func visible(p Policy, q, k int) bool {
	switch p {
	case Causal:
		return k <= q
	case CausalWithoutDiagonal:
		return k < q
	case DiagonalOnly:
		return k == q
	}
	return true
}

func rowLength(batch [][]int) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	n := len(batch[0])
	for i, row := range batch[1:] {
		if len(row) != n {
			return 0, fmt.Errorf("row %d has length %d, row 0 has %d: %w", i+1, len(row), n, ErrRaggedBatch)
		}
	}
	return n, nil
}

// ConcatKeys joins masks along the key axis. All inputs must agree on batch
// and query sizes.
func ConcatKeys(masks ...*Mask) (*Mask, error) {
	if len(masks) == 0 {
		return nil, fmt.Errorf("concat: no masks: %w", ErrShapeMismatch)
	}
	batch, query := masks[0].Batch, masks[0].Query
	key := 0
	for i, m := range masks {
		if m.Batch != batch || m.Query != query {
			return nil, fmt.Errorf("concat: mask %d is %v, want batch %d query %d: %w",
				i, m.Shape(), batch, query, ErrShapeMismatch)
		}
		key += m.Key
	}

	out := Zeros(batch, query, key)
	for b := 0; b < batch; b++ {
		for q := 0; q < query; q++ {
			dst := out.Row(b, q)
			off := 0
			for _, m := range masks {
				off += copy(dst[off:], m.Row(b, q))
			}
		}
	}
	return out, nil
}

// EmptyRows returns the query indices of example b whose row has no visible key.
func (m *Mask) EmptyRows(b int) []int {
	return m.EmptyRowsWithin(b, m.Key)
}

// EmptyRowsWithin is EmptyRows restricted to the first keys columns.
func (m *Mask) EmptyRowsWithin(b, keys int) []int {
	keys = min(keys, m.Key)
	var rows []int
	for q := 0; q < m.Query; q++ {
		hit := false
		for _, v := range m.Row(b, q)[:keys] {
			if v != 0 {
				hit = true
				break
			}
		}
		if !hit {
			rows = append(rows, q)
		}
	}
	return rows
}
