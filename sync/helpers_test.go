package sync

import (
	"bytes"
	"context"
	"io"
	"net"
	gosync "sync"
	"testing"
	"time"

	"github.com/opd-ai/tagmesh/crypto"
	"github.com/opd-ai/tagmesh/db"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/stretchr/testify/require"
)

const (
	lan        transport.TransportID = "lan"
	file       transport.TransportID = "file"
	testLength                       = 1024
)

var testTransports = []transport.TransportConfig{
	{ID: lan, Index: 0, MaxLatency: time.Minute},
	{ID: file, Index: 1, MaxLatency: 14 * 24 * time.Hour},
}

type fakePlugin struct {
	id transport.TransportID
}

func (p fakePlugin) ID() transport.TransportID       { return p.id }
func (p fakePlugin) MaxFrameLength() int             { return testLength }
func (p fakePlugin) MaxLatency() time.Duration       { return time.Minute }
func (p fakePlugin) Start(ctx context.Context) error { return nil }
func (p fakePlugin) Stop() error                     { return nil }

// fakeHandler reads expect bytes, or the whole stream when expect is zero.
type fakeHandler struct {
	mu       gosync.Mutex
	expect   int
	err      error
	calls    int
	received []byte
	during   func(c transport.ContactID, t transport.TransportID)
}

func (h *fakeHandler) HandleStream(c transport.ContactID, t transport.TransportID, r io.Reader) error {
	var data []byte
	var err error
	if h.expect > 0 {
		data = make([]byte, h.expect)
		_, err = io.ReadFull(r, data)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	} else {
		data, err = io.ReadAll(r)
	}
	if h.during != nil {
		h.during(c, t)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.received = append(h.received, data...)
	if err != nil {
		return err
	}
	return h.err
}

func (h *fakeHandler) result() (int, []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls, h.received
}

type fakeSource struct {
	payload   []byte
	err       error
	mu        gosync.Mutex
	committed int
}

func (s *fakeSource) WriteStream(c transport.ContactID, t transport.TransportID, w StreamWriter) (Commit, error) {
	if len(s.payload) > 0 {
		if _, err := w.Write(s.payload); err != nil {
			return nil, err
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.committed++
	}, nil
}

func (s *fakeSource) commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// disposeRecord tracks dispose calls.
type disposeRecord struct {
	mu         gosync.Mutex
	count      int
	exception  bool
	recognised bool
}

func (d *disposeRecord) record(exception, recognised bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	d.exception = exception
	d.recognised = recognised
}

func (d *disposeRecord) get() (int, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count, d.exception, d.recognised
}

type fakeReader struct {
	disposeRecord
	r       io.Reader
	onClose func()
}

func (f *fakeReader) Reader() io.Reader { return f.r }

func (f *fakeReader) Dispose(exception, recognised bool) error {
	f.record(exception, recognised)
	if f.onClose != nil {
		f.onClose()
	}
	return nil
}

type fakeWriter struct {
	disposeRecord
	buf        bytes.Buffer
	capacity   int64
	flush      bool
	writeErr   error
	disposeErr error
}

func (f *fakeWriter) Writer() io.Writer {
	if f.writeErr != nil {
		return errWriter{f.writeErr}
	}
	return &f.buf
}
func (f *fakeWriter) Capacity() int64   { return f.capacity }
func (f *fakeWriter) ShouldFlush() bool { return f.flush }

func (f *fakeWriter) Dispose(exception bool) error {
	f.record(exception, false)
	return f.disposeErr
}

type errWriter struct{ err error }

func (w errWriter) Write(p []byte) (int, error) { return 0, w.err }

type fakeDuplex struct {
	disposeRecord
	conn net.Conn
}

func (f *fakeDuplex) Reader() io.Reader { return f.conn }
func (f *fakeDuplex) Writer() io.Writer { return f.conn }

func (f *fakeDuplex) Dispose(exception, recognised bool) error {
	f.record(exception, recognised)
	return f.conn.Close()
}

// party is one side of a pairing with its own database and dispatcher.
type party struct {
	contact    transport.ContactID
	keys       *transport.KeyManager
	registry   *transport.ConnectionRegistry
	handler    *fakeHandler
	source     *fakeSource
	dispatcher *Dispatcher
}

func newParty(t *testing.T, ctx context.Context, c *crypto.Component, contact transport.ContactID,
	alice bool, root []byte, epoch time.Time,
) *party {
	t.Helper()
	store, err := db.OpenMemory(nil)
	require.NoError(t, err)
	recogniser := transport.NewTagRecogniser(c, store)
	keys := transport.NewKeyManager(c, store, recogniser)
	require.NoError(t, keys.Start(ctx, testTransports))
	t.Cleanup(func() {
		keys.Stop()
		store.Close()
	})
	require.NoError(t, keys.ContactAdded(contact, alice, append([]byte(nil), root...), epoch))

	p := &party{
		contact:  contact,
		keys:     keys,
		registry: transport.NewConnectionRegistry(),
		handler:  &fakeHandler{},
		source:   &fakeSource{},
	}
	p.dispatcher = NewDispatcher(ctx, Config{
		Crypto:     c,
		Recogniser: recogniser,
		Keys:       keys,
		Registry:   p.registry,
		Handler:    p.handler,
		Source:     p.source,
	})
	p.dispatcher.AddPlugin(fakePlugin{id: lan})
	p.dispatcher.AddPlugin(fakePlugin{id: file})
	return p
}

// newPair returns alice, who knows bob as contact 10, and bob, who knows
// alice as contact 20.
func newPair(t *testing.T, ctx context.Context) (*party, *party) {
	t.Helper()
	c := crypto.NewComponent()
	root := bytes.Repeat([]byte{0x42}, crypto.SecretKeyBytes)
	epoch := time.Now().Add(-time.Minute)
	alice := newParty(t, ctx, c, 10, true, root, epoch)
	bob := newParty(t, ctx, c, 20, false, root, epoch)
	return alice, bob
}

// simplexStream has bob write payload as a file stream and returns it.
func simplexStream(t *testing.T, ctx context.Context, bob *party, payload []byte) []byte {
	t.Helper()
	bob.source.payload = payload
	w := &fakeWriter{capacity: 1 << 20}
	res := bob.dispatcher.WriteSimplex(ctx, bob.contact, file, w)
	require.NoError(t, res.Err)
	require.Equal(t, OutcomeClean, res.Outcome)
	return w.buf.Bytes()
}
