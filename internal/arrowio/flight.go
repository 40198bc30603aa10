package arrowio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-infill/internal/logger"
	"github.com/23skdu/longbow-infill/internal/seq2seq"
)

// DefaultPort is used when an address carries no port.
const DefaultPort = 3000

// DefaultPath names the flight that batches are put to.
var DefaultPath = []string{"infill", "train"}

// FlightSink streams batches to a Flight server over a single DoPut call.
type FlightSink struct {
	mu      sync.Mutex
	addr    string
	path    []string
	timeout time.Duration
	mem     memory.Allocator

	client flight.Client
	stream flight.FlightService_DoPutClient
	writer *flight.Writer
	cancel context.CancelFunc
	closed bool
}

// NewFlightSink creates a sink for host:port. Nothing is dialled until
// Connect.
func NewFlightSink(host string, port int, path ...string) *FlightSink {
	if port <= 0 {
		port = DefaultPort
	}
	if len(path) == 0 {
		path = DefaultPath
	}
	return &FlightSink{
		addr:    fmt.Sprintf("%s:%d", host, port),
		path:    path,
		timeout: 30 * time.Second,
		mem:     memory.NewGoAllocator(),
	}
}

func (fs *FlightSink) Addr() string {
	return fs.addr
}

// Connect dials the server and opens the DoPut stream. The stream lives until
// Close or until ctx is cancelled.
func (fs *FlightSink) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.client != nil {
		return nil
	}

	client, err := flight.NewClientWithMiddleware(fs.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := client.DoPut(sctx)
	if err != nil {
		cancel()
		client.Close()
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema), ipc.WithAllocator(fs.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: fs.path})

	fs.client, fs.stream, fs.writer, fs.cancel = client, stream, w, cancel
	logger.Log.Info("flight sink connected", "addr", fs.addr, "path", fs.path)
	return nil
}

func (fs *FlightSink) Put(ctx context.Context, b *seq2seq.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	if fs.writer == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}

	rec, err := BatchToRecord(fs.mem, b)
	if err != nil {
		return err
	}
	defer rec.Release()
	if err := fs.writer.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close finishes the stream and waits for the server to acknowledge it.
func (fs *FlightSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed || fs.client == nil {
		fs.closed = true
		return nil
	}
	fs.closed = true
	defer fs.cancel()
	defer fs.client.Close()

	if err := fs.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := fs.stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		for {
			if _, err := fs.stream.Recv(); err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				done <- err
				return
			}
		}
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(fs.timeout):
		return fmt.Errorf("flight server %s did not acknowledge within %s", fs.addr, fs.timeout)
	}
}

// Collector is a Flight service that accepts DoPut streams of example records
// and forwards the decoded batches to a sink.
type Collector struct {
	flight.BaseFlightServer

	sink Sink
	mem  memory.Allocator
}

func NewCollector(sink Sink) *Collector {
	return &Collector{sink: sink, mem: memory.NewGoAllocator()}
}

func (c *Collector) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "open record stream: %v", err)
	}
	defer rdr.Release()

	if !rdr.Schema().Equal(schema) {
		return status.Error(codes.InvalidArgument, ErrSchemaMismatch.Error())
	}

	n := 0
	for rdr.Next() {
		b, err := RecordToBatch(rdr.Record())
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "batch %d: %v", n, err)
		}
		if err := c.sink.Put(stream.Context(), b); err != nil {
			return status.Errorf(codes.Internal, "store batch %d: %v", n, err)
		}
		n++
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return status.Errorf(codes.InvalidArgument, "read stream: %v", err)
	}

	var path []string
	if desc := rdr.LatestFlightDescriptor(); desc != nil {
		path = desc.Path
	}
	logger.Log.Info("received batches", "count", n, "path", path)
	return nil
}

// Serve runs a Flight server for the collector on addr until ctx is done.
func Serve(ctx context.Context, addr string, c *Collector, ready func(addr string)) error {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv.RegisterFlightService(c)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	if ready != nil {
		ready(srv.Addr().String())
	}

	select {
	case <-ctx.Done():
		srv.Shutdown()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
