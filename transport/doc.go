// Package transport implements the security layer between transport plugins
// and the sync layer: recognising the tag that opens an incoming stream,
// rotating the secrets tags are derived from, and framing the encrypted data
// that follows.
//
// # Streams and Tags
//
// Every stream opens with a TagLength-byte tag derived from the secret a
// contact shares with us for the current rotation period and the stream's
// number. Tags look random to anyone without the secret. A TagRecogniser keeps
// the tags of every unused stream number inside each secret's reordering
// window and answers, for an incoming tag, which contact sent it:
//
//	recogniser := transport.NewTagRecogniser(cryptoComponent, db)
//	ctx, err := recogniser.RecogniseTag("lan", tag)
//	if err != nil {
//	    // The window could not be stored; drop the connection
//	}
//	if ctx == nil {
//	    // Unknown or replayed tag; indistinguishable from noise
//	}
//	defer ctx.Erase()
//
// A recognised tag is consumed. Its window slides forward when the stream
// number is at or beyond the window centre, and the new window is stored
// before RecogniseTag returns, so a tag is never accepted twice, even across
// restarts.
//
// # Key Rotation
//
// KeyManager owns the secret chain of each contact and transport. The secret
// for period p+1 is derived from the secret for period p, and only the
// previous, current and next periods are kept. The period length is
// RotationPeriod(maxLatency).
//
// # Frames
//
// The data after the tag is a sequence of frames:
//
//	header (4) | payload | padding | MAC (48)
//
// The header carries the payload and padding lengths as big-endian uint16s.
// Header, payload and padding are encrypted with AES-256-CTR; the MAC is
// HMAC-SHA384 over the stream and frame numbers and the ciphertext. Readers
// validate the declared length before reading the body and report io.EOF
// only at a frame boundary.
//
// ConnectionWriterFactory and ConnectionReaderFactory build io.Writer and
// io.Reader adapters over the frame layers from a StreamContext:
//
//	w := writers.CreateConnectionWriter(conn, maxFrameLength, capacity, ctx, false)
//	r := readers.CreateConnectionReader(conn, maxFrameLength, ctx, true)
//
// # Concurrency
//
// Each per-transport recogniser serialises all operations behind one mutex,
// so racing recognitions of the same tag see exactly one success. Frame layers
// belong to a single connection and are not safe for concurrent use.
package transport
