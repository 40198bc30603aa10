package arrowio

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-infill/internal/seq2seq"
)

type passthrough struct{}

func (passthrough) BuildForErnie(ids []int) ([]int, []int) {
	return ids, make([]int, len(ids))
}

func testBatch(t *testing.T) *seq2seq.Batch {
	t.Helper()
	c, err := seq2seq.NewComposer(seq2seq.Options{
		MaxEncodeLen:    8,
		MaxDecodeLen:    4,
		TargetSegmentID: 3,
		AttnID:          99,
		PadID:           0,
	}, passthrough{}, nil)
	require.NoError(t, err)

	var examples []*seq2seq.Example
	for _, rec := range []seq2seq.Record{
		{ID: "a", Source: []int{10, 11, 12}, Target: []int{20}},
		{ID: "b", Source: []int{13}, Target: []int{21, 22, 23}},
	} {
		ex, err := c.Map(rec, nil)
		require.NoError(t, err)
		examples = append(examples, ex)
	}
	b, err := c.Collate(examples)
	require.NoError(t, err)
	return b
}

func assertSameBatch(t *testing.T, want, got *seq2seq.Batch) {
	t.Helper()
	assert.Equal(t, want.IDs, got.IDs)
	assert.Equal(t, want.SrcIDs, got.SrcIDs)
	assert.Equal(t, want.SrcSegmentIDs, got.SrcSegmentIDs)
	assert.Equal(t, want.SrcPositionIDs, got.SrcPositionIDs)
	assert.Equal(t, want.TgtIDs, got.TgtIDs)
	assert.Equal(t, want.TgtSegmentIDs, got.TgtSegmentIDs)
	assert.Equal(t, want.TgtPositionIDs, got.TgtPositionIDs)
	assert.Equal(t, want.AttnIDs, got.AttnIDs)
	assert.Equal(t, want.Labels, got.Labels)
	assert.Equal(t, want.LabelPositions, got.LabelPositions)
	assert.True(t, want.MaskSrcToSrc.Equal(got.MaskSrcToSrc))
	assert.True(t, want.MaskTgtToSrcTgt.Equal(got.MaskTgtToSrcTgt))
	assert.True(t, want.MaskAttnToSrcTgtAttn.Equal(got.MaskAttnToSrcTgtAttn))
}

func TestRecordRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	b := testBatch(t)
	rec, err := BatchToRecord(mem, b)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.True(t, rec.Schema().Equal(Schema()))

	got, err := RecordToBatch(rec)
	require.NoError(t, err)
	assertSameBatch(t, b, got)
}

func TestBatchToRecordUnalignedLabels(t *testing.T) {
	b := testBatch(t)
	b.LabelPositions = nil

	_, err := BatchToRecord(memory.NewGoAllocator(), b)
	assert.ErrorIs(t, err, ErrUnalignedLabels)
}

func TestIPCRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink := NewIPCSink(&buf)

	b := testBatch(t)
	ctx := context.Background()
	require.NoError(t, sink.Put(ctx, b))
	require.NoError(t, sink.Put(ctx, b))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.ErrorIs(t, sink.Put(ctx, b), ErrClosed)

	got, err := ReadIPC(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assertSameBatch(t, b, got[0])
	assertSameBatch(t, b, got[1])
}

func TestIPCFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.arrow")
	sink, err := CreateIPCFile(path)
	require.NoError(t, err)

	b := testBatch(t)
	require.NoError(t, sink.Put(context.Background(), b))
	require.NoError(t, sink.Close())

	got, err := ReadIPCFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assertSameBatch(t, b, got[0])

	_, err = CreateIPCFile(filepath.Join(t.TempDir(), "missing", "x.arrow"))
	assert.Error(t, err)
}

func TestMemorySink(t *testing.T) {
	m := NewMemorySink()
	b := testBatch(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, b))
	assert.Len(t, m.Batches(), 1)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Put(ctx, b), ErrClosed)

	m.Reset()
	assert.Empty(t, m.Batches())
	assert.NoError(t, m.Put(ctx, b))
}

func TestFlightSinkNotConnected(t *testing.T) {
	fs := NewFlightSink("localhost", 0)
	assert.Equal(t, "localhost:3000", fs.Addr())

	err := fs.Put(context.Background(), testBatch(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.NoError(t, fs.Close())
}

func TestFlightRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemorySink()
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, "localhost:0", NewCollector(store), func(addr string) { addrCh <- addr })
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	host, port := splitHostPort(t, addr)
	fs := NewFlightSink(host, port)
	require.NoError(t, fs.Connect(ctx))

	b := testBatch(t)
	require.NoError(t, fs.Put(ctx, b))
	require.NoError(t, fs.Put(ctx, b))
	require.NoError(t, fs.Close())

	got := store.Batches()
	require.Len(t, got, 2)
	assertSameBatch(t, b, got[0])

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return host, port
}
