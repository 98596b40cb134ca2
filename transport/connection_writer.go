package transport

import (
	"fmt"
	"io"
)

// ConnectionWriter buffers writes into frames and hands full frames to a
// FrameWriter.
type ConnectionWriter struct {
	out            FrameWriter
	maxFrameLength int
	frame          []byte
	length         int
	closed         bool
}

// NewConnectionWriter wraps out, writing frames of at most maxFrameLength.
func NewConnectionWriter(out FrameWriter, maxFrameLength int) *ConnectionWriter {
	if maxFrameLength <= FrameOverhead {
		panic(fmt.Sprintf("transport: max frame length %d too small", maxFrameLength))
	}
	return &ConnectionWriter{
		out:            out,
		maxFrameLength: maxFrameLength,
		frame:          make([]byte, maxFrameLength),
	}
}

// maxPayloadLength is the payload that fits in one frame.
func (w *ConnectionWriter) maxPayloadLength() int {
	n := w.maxFrameLength - FrameOverhead
	if n > MaxPayloadLength {
		n = MaxPayloadLength
	}
	return n
}

// RemainingCapacity returns the number of payload bytes that can still be
// written. It assumes every remaining frame is full and pays its overhead.
func (w *ConnectionWriter) RemainingCapacity() int64 {
	capacity := w.out.RemainingCapacity()
	if capacity <= 0 {
		return 0
	}
	maxFrames := (capacity-1)/int64(w.maxFrameLength) + 1
	remaining := capacity - maxFrames*FrameOverhead - int64(w.length)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Write implements io.Writer. A write that does not fit in the remaining
// capacity is rejected whole with ErrCapacityExceeded.
func (w *ConnectionWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if int64(len(p)) > w.RemainingCapacity() {
		return 0, ErrCapacityExceeded
	}
	written := 0
	max := w.maxPayloadLength()
	for len(p) > 0 {
		n := copy(w.frame[HeaderLength+w.length:HeaderLength+max], p)
		w.length += n
		written += n
		p = p[n:]
		if w.length == max {
			if err := w.writeFrame(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush writes any buffered payload as a frame and flushes the layer.
func (w *ConnectionWriter) Flush() error {
	if w.length > 0 {
		if err := w.writeFrame(); err != nil {
			return err
		}
	}
	return w.out.Flush()
}

// Close flushes and erases the keys of the underlying layer.
func (w *ConnectionWriter) Close() error {
	if w.closed {
		return nil
	}
	err := w.Flush()
	w.closed = true
	for i := range w.frame {
		w.frame[i] = 0
	}
	if c, ok := w.out.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *ConnectionWriter) writeFrame() error {
	err := w.out.WriteFrame(w.frame, w.length, 0)
	w.length = 0
	return err
}
