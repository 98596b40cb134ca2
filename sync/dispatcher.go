package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	gosync "sync"

	"github.com/opd-ai/tagmesh/crypto"
	"github.com/opd-ai/tagmesh/plugins"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
)

// DuplexCapacity is the capacity given to duplex streams, which have no
// size limit of their own.
const DuplexCapacity = math.MaxInt64

var (
	// ErrUnknownTransport indicates a connection arrived on a transport
	// that was never added to the dispatcher.
	ErrUnknownTransport = errors.New("transport not added to dispatcher")
	// ErrNoStreamContext indicates there is no secret to open an outgoing
	// stream with.
	ErrNoStreamContext = errors.New("no stream context available")
)

// RecordHandler consumes the decrypted contents of an incoming stream. It
// returns nil once the stream has ended.
type RecordHandler interface {
	HandleStream(c transport.ContactID, t transport.TransportID, r io.Reader) error
}

// StreamWriter is the plaintext side of an outgoing stream.
type StreamWriter interface {
	io.Writer
	Flush() error
	RemainingCapacity() int64
}

// Commit is returned by a RecordSource with the records it wrote. It is
// called only once the stream holding them has been written out and
// disposed of cleanly; otherwise the records are left to be sent again.
type Commit func()

// RecordSource fills an outgoing stream. The returned Commit may be nil.
type RecordSource interface {
	WriteStream(c transport.ContactID, t transport.TransportID, w StreamWriter) (Commit, error)
}

// Recogniser identifies the owner of an incoming stream by its tag.
type Recogniser interface {
	RecogniseTag(t transport.TransportID, tag []byte) (*transport.StreamContext, error)
}

// StreamContextSource hands out contexts for outgoing streams.
type StreamContextSource interface {
	GetStreamContext(c transport.ContactID, t transport.TransportID) (*transport.StreamContext, error)
}

// Config holds what the dispatcher needs.
type Config struct {
	Crypto     *crypto.Component
	Recogniser Recogniser
	Keys       StreamContextSource
	Registry   *transport.ConnectionRegistry
	Handler    RecordHandler
	Source     RecordSource
}

// Result describes how a connection was handled.
type Result struct {
	// Recognised is false when an incoming stream's tag matched no secret.
	Recognised bool
	Outcome    Outcome
	Err        error
}

// Dispatcher receives connections from the transport plugins and runs each
// one on its own goroutine.
type Dispatcher struct {
	config  Config
	readers *transport.ConnectionReaderFactory
	writers *transport.ConnectionWriterFactory
	ctx     context.Context

	mu           gosync.RWMutex
	frameLengths map[transport.TransportID]int
	wg           gosync.WaitGroup
}

var _ plugins.Callback = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher whose connections are torn down when
// ctx is cancelled.
func NewDispatcher(ctx context.Context, config Config) *Dispatcher {
	return &Dispatcher{
		config:       config,
		readers:      transport.NewConnectionReaderFactory(config.Crypto),
		writers:      transport.NewConnectionWriterFactory(config.Crypto),
		ctx:          ctx,
		frameLengths: make(map[transport.TransportID]int),
	}
}

// AddPlugin makes the dispatcher accept connections from p.
func (d *Dispatcher) AddPlugin(p plugins.Plugin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frameLengths[p.ID()] = p.MaxFrameLength()
}

func (d *Dispatcher) maxFrameLength(t transport.TransportID) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.frameLengths[t]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTransport, t)
	}
	return n, nil
}

// ReaderAvailable implements plugins.Callback.
func (d *Dispatcher) ReaderAvailable(t transport.TransportID, r plugins.SimplexReader) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.DispatchReader(d.ctx, t, r)
	}()
}

// ConnectionAvailable implements plugins.Callback.
func (d *Dispatcher) ConnectionAvailable(t transport.TransportID, conn plugins.DuplexConnection) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.DispatchIncoming(d.ctx, t, conn)
	}()
}

// Wait blocks until every connection started through the callback has
// finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// DispatchReader reads the tag of an incoming simplex stream and, if it is
// recognised, reads the rest of the stream.
func (d *Dispatcher) DispatchReader(ctx context.Context, t transport.TransportID, r plugins.SimplexReader) Result {
	disp := &disposal{fn: func(exception bool) error { return r.Dispose(exception, false) }, t: t}
	sctx, maxFrameLength, res := d.recogniseUntilDone(ctx, t, r.Reader(), disp)
	if sctx == nil {
		disp.dispose(res.Outcome.Exception())
		return res
	}
	conn := &IncomingSimplexConnection{
		dispatcher:     d,
		streamContext:  sctx,
		transport:      r,
		maxFrameLength: maxFrameLength,
	}
	return conn.Read(ctx)
}

// DispatchIncoming reads the tag of an incoming duplex connection and, if
// it is recognised, runs both directions of it.
func (d *Dispatcher) DispatchIncoming(ctx context.Context, t transport.TransportID, conn plugins.DuplexConnection) Result {
	disp := &disposal{fn: func(exception bool) error { return conn.Dispose(exception, false) }, t: t}
	sctx, maxFrameLength, res := d.recogniseUntilDone(ctx, t, conn.Reader(), disp)
	if sctx == nil {
		disp.dispose(res.Outcome.Exception())
		return res
	}
	dc := &DuplexConnection{
		dispatcher:     d,
		streamContext:  sctx,
		transport:      conn,
		maxFrameLength: maxFrameLength,
		incoming:       true,
	}
	return dc.Run(ctx)
}

// WriteSimplex opens an outgoing simplex stream to contact c and fills it
// from the record source.
func (d *Dispatcher) WriteSimplex(ctx context.Context, c transport.ContactID, t transport.TransportID,
	w plugins.SimplexWriter,
) Result {
	sctx, maxFrameLength, res := d.outgoingContext(c, t)
	if sctx == nil {
		disposeLogged(func() error { return w.Dispose(true) }, t)
		return res
	}
	conn := &OutgoingSimplexConnection{
		dispatcher:     d,
		streamContext:  sctx,
		transport:      w,
		maxFrameLength: maxFrameLength,
	}
	return conn.Write(ctx)
}

// ConnectDuplex runs a duplex connection we dialled to contact c.
func (d *Dispatcher) ConnectDuplex(ctx context.Context, c transport.ContactID, t transport.TransportID,
	conn plugins.DuplexConnection,
) Result {
	sctx, maxFrameLength, res := d.outgoingContext(c, t)
	if sctx == nil {
		disposeLogged(func() error { return conn.Dispose(true, false) }, t)
		return res
	}
	dc := &DuplexConnection{
		dispatcher:     d,
		streamContext:  sctx,
		transport:      conn,
		maxFrameLength: maxFrameLength,
	}
	return dc.Run(ctx)
}

// recogniseUntilDone recognises the stream on in, disposing of it through
// disp if ctx is cancelled before the tag has been read and looked up. A
// stream recognised after that is dropped with its context erased.
func (d *Dispatcher) recogniseUntilDone(ctx context.Context, t transport.TransportID, in io.Reader,
	disp *disposal,
) (*transport.StreamContext, int, Result) {
	stop := context.AfterFunc(ctx, func() { disp.dispose(true) })
	sctx, maxFrameLength, res := d.recognise(t, in)
	if stop() {
		return sctx, maxFrameLength, res
	}
	if sctx != nil {
		sctx.Erase()
	}
	logrus.WithFields(logrus.Fields{
		"function":  "recognise",
		"transport": t,
	}).Debug("Cancelled while reading tag")
	return nil, 0, Result{Recognised: sctx != nil, Outcome: OutcomeIOError, Err: ctx.Err()}
}

// recognise reads and looks up a tag. A nil context comes with the result
// to report.
func (d *Dispatcher) recognise(t transport.TransportID, in io.Reader) (*transport.StreamContext, int, Result) {
	maxFrameLength, err := d.maxFrameLength(t)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "recognise",
			"transport": t,
		}).Warn("Connection on unknown transport")
		return nil, 0, Result{Outcome: OutcomeIOError, Err: err}
	}

	tag := make([]byte, transport.TagLength)
	if _, err := io.ReadFull(in, tag); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Too short to carry a tag; indistinguishable from any other
			// stream that is not ours
			logrus.WithFields(logrus.Fields{
				"function":  "recognise",
				"transport": t,
			}).Debug("Stream ended before tag")
			return nil, 0, Result{Outcome: OutcomeClean}
		}
		logrus.WithFields(logrus.Fields{
			"function":  "recognise",
			"transport": t,
			"error":     err.Error(),
		}).Warn("Failed to read tag")
		return nil, 0, Result{Outcome: OutcomeIOError, Err: err}
	}

	sctx, err := d.config.Recogniser.RecogniseTag(t, tag)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "recognise",
			"transport": t,
			"error":     err.Error(),
		}).Error("Tag recognition failed")
		return nil, 0, Result{Outcome: OutcomeIOError, Err: err}
	}
	if sctx == nil {
		logrus.WithFields(logrus.Fields{
			"function":  "recognise",
			"transport": t,
		}).Debug("Unrecognised tag")
		return nil, 0, Result{Outcome: OutcomeClean}
	}
	return sctx, maxFrameLength, Result{Recognised: true}
}

func (d *Dispatcher) outgoingContext(c transport.ContactID, t transport.TransportID) (*transport.StreamContext, int, Result) {
	maxFrameLength, err := d.maxFrameLength(t)
	if err != nil {
		return nil, 0, Result{Outcome: OutcomeIOError, Err: err}
	}
	sctx, err := d.config.Keys.GetStreamContext(c, t)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "outgoingContext",
			"contact":   c,
			"transport": t,
			"error":     err.Error(),
		}).Error("Failed to get stream context")
		return nil, 0, Result{Outcome: OutcomeIOError, Err: err}
	}
	if sctx == nil {
		return nil, 0, Result{Outcome: OutcomeIOError, Err: fmt.Errorf("%w: contact %d on %s", ErrNoStreamContext, c, t)}
	}
	return sctx, maxFrameLength, Result{}
}

// disposal runs a transport's dispose callback exactly once.
type disposal struct {
	once  gosync.Once
	fn    func(exception bool) error
	t     transport.TransportID
	clean bool
}

// dispose reports whether the single disposal ran without an exception and
// without error, whichever call performed it.
func (d *disposal) dispose(exception bool) bool {
	d.once.Do(func() {
		err := disposeLogged(func() error { return d.fn(exception) }, d.t)
		d.clean = !exception && err == nil
	})
	return d.clean
}

func disposeLogged(fn func() error, t transport.TransportID) error {
	err := fn()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "dispose",
			"transport": t,
			"error":     err.Error(),
		}).Warn("Failed to dispose of transport")
	}
	return err
}

func logOutcome(function string, sctx *transport.StreamContext, res Result) {
	entry := logrus.WithFields(logrus.Fields{
		"function":  function,
		"contact":   sctx.ContactID,
		"transport": sctx.TransportID,
		"stream":    sctx.StreamNumber,
		"outcome":   res.Outcome.String(),
	})
	if res.Err != nil {
		entry = entry.WithField("error", res.Err.Error())
	}
	if res.Outcome == OutcomeClean {
		entry.Debug("Connection finished")
		return
	}
	entry.Warn("Connection failed")
}
