package transport

import "io"

// ConnectionReader presents the payloads of a frame stream as an io.Reader.
type ConnectionReader struct {
	in     FrameReader
	frame  []byte
	offset int
	length int
	err    error
}

// NewConnectionReader wraps in, reading frames of at most maxFrameLength.
func NewConnectionReader(in FrameReader, maxFrameLength int) *ConnectionReader {
	return &ConnectionReader{
		in:    in,
		frame: make([]byte, maxFrameLength),
	}
}

// Read implements io.Reader. Frame errors are sticky: once a frame
// fails to read, every later call returns the same error.
func (r *ConnectionReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.offset == r.length {
		if r.err != nil {
			return 0, r.err
		}
		n, err := r.in.ReadFrame(r.frame)
		if err != nil {
			r.err = err
			return 0, err
		}
		r.offset, r.length = HeaderLength, HeaderLength+n
	}
	n := copy(p, r.frame[r.offset:r.length])
	r.offset += n
	return n, nil
}

// Close erases the keys of the underlying layer, if it holds any.
func (r *ConnectionReader) Close() error {
	for i := range r.frame {
		r.frame[i] = 0
	}
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	if c, ok := r.in.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
