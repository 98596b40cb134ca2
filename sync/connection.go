package sync

import (
	"context"
	gosync "sync"

	"github.com/opd-ai/tagmesh/plugins"
	"github.com/opd-ai/tagmesh/transport"
)

// IncomingSimplexConnection reads one recognised simplex stream.
type IncomingSimplexConnection struct {
	dispatcher     *Dispatcher
	streamContext  *transport.StreamContext
	transport      plugins.SimplexReader
	maxFrameLength int
}

// Read decrypts the rest of the stream and hands it to the record handler.
// The tag has already been consumed.
func (c *IncomingSimplexConnection) Read(ctx context.Context) Result {
	d, sctx := c.dispatcher, c.streamContext
	d.config.Registry.RegisterConnection(sctx.ContactID, sctx.TransportID)
	defer d.config.Registry.UnregisterConnection(sctx.ContactID, sctx.TransportID)
	erase := gosync.OnceFunc(sctx.Erase)
	defer erase()

	disp := &disposal{
		fn: func(exception bool) error { return c.transport.Dispose(exception, true) },
		t:  sctx.TransportID,
	}
	defer disp.dispose(true)
	stop := context.AfterFunc(ctx, func() { disp.dispose(true) })
	defer stop()

	reader := d.readers.CreateConnectionReader(c.transport.Reader(), c.maxFrameLength, sctx, true)
	erase()
	defer reader.Close()

	err := d.config.Handler.HandleStream(sctx.ContactID, sctx.TransportID, reader)
	res := Result{Recognised: true, Outcome: Classify(err), Err: err}
	logOutcome("Read", sctx, res)
	disp.dispose(res.Outcome.Exception())
	return res
}

// OutgoingSimplexConnection writes one simplex stream.
type OutgoingSimplexConnection struct {
	dispatcher     *Dispatcher
	streamContext  *transport.StreamContext
	transport      plugins.SimplexWriter
	maxFrameLength int
}

// Write opens the stream with its tag and fills it from the record source.
func (c *OutgoingSimplexConnection) Write(ctx context.Context) Result {
	d, sctx := c.dispatcher, c.streamContext
	d.config.Registry.RegisterConnection(sctx.ContactID, sctx.TransportID)
	defer d.config.Registry.UnregisterConnection(sctx.ContactID, sctx.TransportID)
	erase := gosync.OnceFunc(sctx.Erase)
	defer erase()

	disp := &disposal{fn: c.transport.Dispose, t: sctx.TransportID}
	defer disp.dispose(true)
	stop := context.AfterFunc(ctx, func() { disp.dispose(true) })
	defer stop()

	writer := d.writers.CreateConnectionWriter(c.transport.Writer(), c.maxFrameLength,
		c.transport.Capacity(), sctx, false)
	erase()

	var w StreamWriter = writer
	if c.transport.ShouldFlush() {
		w = &flushingWriter{StreamWriter: writer}
	}
	commit, err := d.config.Source.WriteStream(sctx.ContactID, sctx.TransportID, w)
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	res := Result{Recognised: true, Outcome: Classify(err), Err: err}
	logOutcome("Write", sctx, res)
	// A file only becomes visible once disposed, so that is when it counts
	// as sent
	if disp.dispose(res.Outcome.Exception()) && commit != nil {
		commit()
	}
	return res
}

// DuplexConnection runs both directions of a duplex connection. The side
// that dialled writes the tag; the side that accepted has read it.
type DuplexConnection struct {
	dispatcher     *Dispatcher
	streamContext  *transport.StreamContext
	transport      plugins.DuplexConnection
	maxFrameLength int
	incoming       bool
}

// Run reads on the calling goroutine and writes on another. A failure in
// either direction disposes of the transport, which unblocks the other.
func (c *DuplexConnection) Run(ctx context.Context) Result {
	d, sctx := c.dispatcher, c.streamContext
	d.config.Registry.RegisterConnection(sctx.ContactID, sctx.TransportID)
	defer d.config.Registry.UnregisterConnection(sctx.ContactID, sctx.TransportID)
	erase := gosync.OnceFunc(sctx.Erase)
	defer erase()

	disp := &disposal{
		fn: func(exception bool) error { return c.transport.Dispose(exception, true) },
		t:  sctx.TransportID,
	}
	defer disp.dispose(true)
	stop := context.AfterFunc(ctx, func() { disp.dispose(true) })
	defer stop()

	reader := d.readers.CreateConnectionReader(c.transport.Reader(), c.maxFrameLength, sctx, c.incoming)
	writer := d.writers.CreateConnectionWriter(c.transport.Writer(), c.maxFrameLength,
		DuplexCapacity, sctx, c.incoming)
	erase()
	defer reader.Close()

	var wg gosync.WaitGroup
	var writeErr error
	var commit Commit
	wg.Add(1)
	go func() {
		defer wg.Done()
		commit, writeErr = d.config.Source.WriteStream(sctx.ContactID, sctx.TransportID, &flushingWriter{StreamWriter: writer})
		if cerr := writer.Close(); writeErr == nil {
			writeErr = cerr
		}
		if writeErr != nil {
			disp.dispose(true)
		}
	}()

	readErr := d.config.Handler.HandleStream(sctx.ContactID, sctx.TransportID, reader)
	if readErr != nil {
		disp.dispose(true)
	}
	wg.Wait()

	res := Result{Recognised: true, Outcome: worse(Classify(readErr), Classify(writeErr)), Err: readErr}
	if res.Err == nil {
		res.Err = writeErr
	}
	logOutcome("Run", sctx, res)
	disp.dispose(res.Outcome.Exception())
	// Everything we wrote reached the socket even if the peer's half failed
	if writeErr == nil && commit != nil {
		commit()
	}
	return res
}

// flushingWriter flushes after every write, for transports whose peer reads
// as the stream is written.
type flushingWriter struct {
	StreamWriter
}

func (w *flushingWriter) Write(p []byte) (int, error) {
	n, err := w.StreamWriter.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.StreamWriter.Flush()
}
