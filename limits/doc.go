// Package limits holds the size bounds shared by the transports, the
// configuration and the record layer.
//
// # Frame Lengths
//
// Every transport declares a maximum frame length, the size of one frame on
// the wire including its header and MAC:
//
//   - DefaultMaxFrameLength (1024 bytes): used by transports that do not
//     choose their own.
//
//   - MinFrameLength (128 bytes): the smallest length a transport may
//     configure.
//
//   - MaxFrameLength (64 KiB): the header carries 16-bit lengths, so no
//     larger frame can be described.
//
// # Records
//
// Application records travel inside the frame stream and may span frames.
// MaxRecordLength bounds one record body. A simplex stream's capacity must
// hold at least one frame, see ValidateCapacity.
//
//	if err := limits.ValidateRecord(body); err != nil {
//		return err
//	}
package limits
