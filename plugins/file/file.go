// Package file implements a simplex transport plugin that exchanges streams
// as files in a shared directory, such as a removable drive passed between
// contacts.
package file

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/tagmesh/limits"
	"github.com/opd-ai/tagmesh/plugins"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
)

const (
	// ID is the transport id of the file plugin.
	ID transport.TransportID = "file"
	// DefaultMaxLatency bounds how long a file takes to reach its reader.
	DefaultMaxLatency = 14 * 24 * time.Hour
	// DefaultCapacity is the size limit of one stream file.
	DefaultCapacity = 1 << 20
	// DefaultPollInterval is how often the directory is scanned.
	DefaultPollInterval = 5 * time.Second

	fileExtension = ".dat"
	tempExtension = ".tmp"
)

// Config configures the plugin.
type Config struct {
	Dir            string
	Capacity       int64
	MaxFrameLength int
	MaxLatency     time.Duration
	PollInterval   time.Duration
}

// Plugin reads stream files dropped into a directory and writes its own.
type Plugin struct {
	config   Config
	callback plugins.Callback

	mu sync.Mutex
	// skip holds files being read, files found to be unrecognised and files
	// we wrote ourselves
	skip    map[string]bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ plugins.SimplexPlugin = (*Plugin)(nil)

// New creates a stopped plugin. Zero config fields take their defaults.
func New(config Config, callback plugins.Callback) *Plugin {
	if config.Capacity == 0 {
		config.Capacity = DefaultCapacity
	}
	if config.MaxFrameLength == 0 {
		config.MaxFrameLength = limits.DefaultMaxFrameLength
	}
	if config.MaxLatency == 0 {
		config.MaxLatency = DefaultMaxLatency
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Plugin{
		config:   config,
		callback: callback,
		skip:     make(map[string]bool),
	}
}

// ID implements plugins.Plugin.
func (p *Plugin) ID() transport.TransportID { return ID }

// MaxFrameLength implements plugins.Plugin.
func (p *Plugin) MaxFrameLength() int { return p.config.MaxFrameLength }

// MaxLatency implements plugins.Plugin.
func (p *Plugin) MaxLatency() time.Duration { return p.config.MaxLatency }

// Start creates the directory if needed and begins polling it.
func (p *Plugin) Start(ctx context.Context) error {
	if err := limits.ValidateFrameLength(p.config.MaxFrameLength); err != nil {
		return err
	}
	if err := os.MkdirAll(p.config.Dir, 0o700); err != nil {
		return fmt.Errorf("file plugin: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.pollLoop(pollCtx)

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"dir":      p.config.Dir,
	}).Info("File plugin polling")
	return nil
}

// Stop ends polling. Readers already handed out stay valid.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Plugin) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.Poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll scans the directory once and hands every new stream file to the
// callback.
func (p *Plugin) Poll() {
	entries, err := os.ReadDir(p.config.Dir)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Poll",
			"dir":      p.config.Dir,
			"error":    err.Error(),
		}).Warn("Cannot scan directory")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExtension) {
			continue
		}
		path := filepath.Join(p.config.Dir, e.Name())

		p.mu.Lock()
		if p.skip[path] {
			p.mu.Unlock()
			continue
		}
		p.skip[path] = true
		p.mu.Unlock()

		f, err := os.Open(path)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Poll",
				"file":     path,
				"error":    err.Error(),
			}).Warn("Cannot open stream file")
			continue
		}
		p.callback.ReaderAvailable(ID, &reader{file: f, path: path, plugin: p})
	}
}

// CreateWriter starts a new stream file. It only becomes visible under its
// final name once disposed without an exception.
func (p *Plugin) CreateWriter() (plugins.SimplexWriter, error) {
	var name [8]byte
	if _, err := rand.Read(name[:]); err != nil {
		return nil, err
	}
	path := filepath.Join(p.config.Dir, hex.EncodeToString(name[:])+fileExtension)
	f, err := os.OpenFile(path+tempExtension, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating stream file: %w", err)
	}

	p.mu.Lock()
	p.skip[path] = true
	p.mu.Unlock()
	return &writer{file: f, path: path, capacity: p.config.Capacity}, nil
}

func (p *Plugin) readerFinished(path string, recognised bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if recognised {
		delete(p.skip, path)
	}
}

type reader struct {
	file   *os.File
	path   string
	plugin *Plugin
	once   sync.Once
}

func (r *reader) Reader() io.Reader { return r.file }

// Dispose closes the file and deletes it if it was recognised. An
// unrecognised file may belong to another user of the directory, so it is
// left alone and not read again.
func (r *reader) Dispose(exception, recognised bool) error {
	var err error
	r.once.Do(func() {
		err = r.file.Close()
		if recognised {
			if rerr := os.Remove(r.path); rerr != nil && err == nil {
				err = rerr
			}
		}
		r.plugin.readerFinished(r.path, recognised)
		logrus.WithFields(logrus.Fields{
			"function":   "Dispose",
			"file":       r.path,
			"exception":  exception,
			"recognised": recognised,
		}).Debug("Finished reading stream file")
	})
	return err
}

type writer struct {
	file     *os.File
	path     string
	capacity int64
	once     sync.Once
}

func (w *writer) Writer() io.Writer { return w.file }
func (w *writer) Capacity() int64   { return w.capacity }
func (w *writer) ShouldFlush() bool { return false }

// Dispose closes the file, publishing it under its final name, or deleting
// it after an exception.
func (w *writer) Dispose(exception bool) error {
	var err error
	w.once.Do(func() {
		err = w.file.Close()
		tmp := w.path + tempExtension
		if exception || err != nil {
			os.Remove(tmp)
			return
		}
		err = os.Rename(tmp, w.path)
	})
	return err
}
