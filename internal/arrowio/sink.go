package arrowio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-infill/internal/seq2seq"
)

var ErrClosed = errors.New("sink is closed")

// Sink receives composed batches in order.
type Sink interface {
	Put(ctx context.Context, b *seq2seq.Batch) error
	Close() error
}

// IPCSink writes batches as an Arrow IPC stream.
type IPCSink struct {
	mu     sync.Mutex
	mem    memory.Allocator
	w      *ipc.Writer
	closer io.Closer
	closed bool
}

func NewIPCSink(w io.Writer) *IPCSink {
	mem := memory.NewGoAllocator()
	return &IPCSink{
		mem: mem,
		w:   ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem)),
	}
}

// CreateIPCFile creates path and returns a sink that closes it on Close.
func CreateIPCFile(path string) (*IPCSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s := NewIPCSink(f)
	s.closer = f
	return s, nil
}

func (s *IPCSink) Put(ctx context.Context, b *seq2seq.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	rec, err := BatchToRecord(s.mem, b)
	if err != nil {
		return err
	}
	defer rec.Release()
	return s.w.Write(rec)
}

func (s *IPCSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.w.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadIPC reads every batch from an Arrow IPC stream.
func ReadIPC(r io.Reader) ([]*seq2seq.Batch, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open ipc stream: %w", err)
	}
	defer rdr.Release()

	if !rdr.Schema().Equal(schema) {
		return nil, ErrSchemaMismatch
	}

	var out []*seq2seq.Batch
	for rdr.Next() {
		b, err := RecordToBatch(rdr.Record())
		if err != nil {
			return out, fmt.Errorf("batch %d: %w", len(out), err)
		}
		out = append(out, b)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return out, err
	}
	return out, nil
}

// ReadIPCFile is ReadIPC over a file on disk.
func ReadIPCFile(path string) ([]*seq2seq.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadIPC(f)
}

// MemorySink keeps batches in memory. It is used by tests and by the flight
// collector.
type MemorySink struct {
	mu      sync.RWMutex
	batches []*seq2seq.Batch
	closed  bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Put(_ context.Context, b *seq2seq.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.batches = append(m.batches, b)
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Batches returns a copy of the stored batch list.
func (m *MemorySink) Batches() []*seq2seq.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*seq2seq.Batch(nil), m.batches...)
}

func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = nil
	m.closed = false
}
