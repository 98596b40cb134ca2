// Package tcp implements a duplex transport plugin over TCP, for contacts
// on the same network.
package tcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/tagmesh/limits"
	"github.com/opd-ai/tagmesh/plugins"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
)

const (
	// ID is the transport id of the TCP plugin.
	ID transport.TransportID = "lan"
	// DefaultMaxLatency bounds how long a TCP stream takes to arrive.
	DefaultMaxLatency = 60 * time.Second
	// DialTimeout bounds outgoing connection attempts.
	DialTimeout = 10 * time.Second
)

// Config configures the plugin.
type Config struct {
	ListenAddr     string
	MaxFrameLength int
	MaxLatency     time.Duration
}

// Plugin accepts and dials TCP connections.
type Plugin struct {
	config   Config
	callback plugins.Callback

	mu       sync.RWMutex
	listener net.Listener
	conns    map[*connection]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ plugins.DuplexPlugin = (*Plugin)(nil)

// New creates a stopped plugin. Zero config fields take their defaults.
func New(config Config, callback plugins.Callback) *Plugin {
	if config.MaxFrameLength == 0 {
		config.MaxFrameLength = limits.DefaultMaxFrameLength
	}
	if config.MaxLatency == 0 {
		config.MaxLatency = DefaultMaxLatency
	}
	return &Plugin{
		config:   config,
		callback: callback,
		conns:    make(map[*connection]struct{}),
	}
}

// ID implements plugins.Plugin.
func (p *Plugin) ID() transport.TransportID { return ID }

// MaxFrameLength implements plugins.Plugin.
func (p *Plugin) MaxFrameLength() int { return p.config.MaxFrameLength }

// MaxLatency implements plugins.Plugin.
func (p *Plugin) MaxLatency() time.Duration { return p.config.MaxLatency }

// Start listens on the configured address and accepts connections until
// Stop is called or ctx is cancelled.
func (p *Plugin) Start(ctx context.Context) error {
	if err := limits.ValidateFrameLength(p.config.MaxFrameLength); err != nil {
		return err
	}
	listener, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("tcp plugin: %w", err)
	}

	p.mu.Lock()
	p.listener = listener
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(2)
	go p.acceptConnections(p.ctx, listener)
	go func(ctx context.Context) {
		defer p.wg.Done()
		<-ctx.Done()
		listener.Close()
	}(p.ctx)

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"address":  listener.Addr().String(),
	}).Info("TCP plugin listening")
	return nil
}

// Stop closes the listener and every live connection.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	if p.listener == nil {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	err := p.listener.Close()
	p.listener = nil
	conns := make([]*connection, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	// Closing the sockets unblocks pending reads; the owners still dispose
	for _, c := range conns {
		c.conn.Close()
	}
	p.wg.Wait()
	return err
}

// LocalAddr returns the listening address, or nil when stopped.
func (p *Plugin) LocalAddr() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// CreateConnection dials address.
func (p *Plugin) CreateConnection(ctx context.Context, address string) (plugins.DuplexConnection, error) {
	p.mu.RLock()
	running := p.listener != nil
	p.mu.RUnlock()
	if !running {
		return nil, plugins.ErrNotRunning
	}

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialling %s: %w", address, err)
	}
	c, err := p.register(conn)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Plugin) acceptConnections(ctx context.Context, listener net.Listener) {
	defer p.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptConnections",
				"error":    err.Error(),
			}).Warn("Accept failed")
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		c, err := p.register(conn)
		if err != nil {
			return
		}
		p.callback.ConnectionAvailable(ID, c)
	}
}

// register tracks conn so Stop can close it. A connection that arrives
// after Stop is closed and refused.
func (p *Plugin) register(conn net.Conn) (*connection, error) {
	c := &connection{conn: conn, plugin: p}
	p.mu.Lock()
	if p.listener == nil || p.ctx.Err() != nil {
		p.mu.Unlock()
		conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "register",
			"remote":   conn.RemoteAddr().String(),
		}).Debug("TCP connection refused, plugin stopped")
		return nil, plugins.ErrNotRunning
	}
	p.conns[c] = struct{}{}
	p.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"function": "register",
		"remote":   conn.RemoteAddr().String(),
	}).Debug("TCP connection open")
	return c, nil
}

func (p *Plugin) unregister(c *connection) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

// connection is one TCP connection handed to the sync layer.
type connection struct {
	conn   net.Conn
	plugin *Plugin
	once   sync.Once
}

func (c *connection) Reader() io.Reader { return c.conn }
func (c *connection) Writer() io.Writer { return c.conn }

// Dispose closes the socket. Recognition makes no difference to TCP.
func (c *connection) Dispose(exception, recognised bool) error {
	var err error
	c.once.Do(func() {
		c.plugin.unregister(c)
		err = c.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function":   "Dispose",
			"remote":     c.conn.RemoteAddr().String(),
			"exception":  exception,
			"recognised": recognised,
		}).Debug("TCP connection closed")
	})
	return err
}
