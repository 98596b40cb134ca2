package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// ReorderingWindowSize is the number of stream numbers tracked per secret.
	ReorderingWindowSize = 32
	// ReorderingWindowBytes is the length of a serialised window bitmap.
	ReorderingWindowBytes = ReorderingWindowSize / 8
	// windowRadius is the distance from the centre to either edge.
	windowRadius = ReorderingWindowSize / 2
)

var (
	errNotInWindow  = errors.New("stream number outside reordering window")
	errAlreadySeen  = errors.New("stream number already seen")
	errBitmapLength = errors.New("invalid reordering window bitmap length")
)

// ReorderingWindow records which stream numbers near the centre have been
// used. Bit i (most significant first) represents stream number
// centre - windowRadius + i, so the window spans
// [centre-windowRadius, centre+windowRadius). Numbers below the window are
// treated as used; the centre only ever moves forward.
//
// The centre is one past the highest stream number seen, so a fresh window
// with centre 0 accepts stream numbers 0 to windowRadius-1.
type ReorderingWindow struct {
	centre uint64
	bitmap uint32
}

// NewReorderingWindow returns an empty window centred on zero.
func NewReorderingWindow() *ReorderingWindow {
	return &ReorderingWindow{}
}

// NewReorderingWindowFrom restores a window from its stored form.
func NewReorderingWindowFrom(centre uint64, bitmap []byte) (*ReorderingWindow, error) {
	if bitmap == nil {
		return &ReorderingWindow{centre: centre}, nil
	}
	if len(bitmap) != ReorderingWindowBytes {
		return nil, fmt.Errorf("%w: %d", errBitmapLength, len(bitmap))
	}
	w := &ReorderingWindow{
		centre: centre,
		bitmap: binary.BigEndian.Uint32(bitmap),
	}
	// Bits for negative stream numbers carry no meaning
	for i := 0; i < ReorderingWindowSize; i++ {
		if _, ok := w.streamNumber(i); !ok {
			w.bitmap &^= bitMask(i)
		}
	}
	return w, nil
}

// Centre returns the current centre.
func (w *ReorderingWindow) Centre() uint64 {
	return w.centre
}

// Bitmap returns the serialised bitmap.
func (w *ReorderingWindow) Bitmap() []byte {
	b := make([]byte, ReorderingWindowBytes)
	binary.BigEndian.PutUint32(b, w.bitmap)
	return b
}

// Contains reports whether n falls inside the window.
func (w *ReorderingWindow) Contains(n uint64) bool {
	_, ok := w.index(n)
	return ok
}

// IsSeen reports whether n has been used. Numbers below the window count as
// used, numbers above it as unused.
func (w *ReorderingWindow) IsSeen(n uint64) bool {
	i, ok := w.index(n)
	if !ok {
		return n < w.centre
	}
	return w.bitmap&bitMask(i) != 0
}

// Unseen returns the stream numbers inside the window not yet used, in
// ascending order.
func (w *ReorderingWindow) Unseen() []uint64 {
	unseen := make([]uint64, 0, ReorderingWindowSize)
	for i := 0; i < ReorderingWindowSize; i++ {
		n, ok := w.streamNumber(i)
		if ok && w.bitmap&bitMask(i) == 0 {
			unseen = append(unseen, n)
		}
	}
	return unseen
}

// SetSeen marks n as used and slides the window forward when n is at or
// beyond the centre. It returns the stream numbers that entered the window
// and the unused ones that fell off its low end.
func (w *ReorderingWindow) SetSeen(n uint64) (added, removed []uint64, err error) {
	i, ok := w.index(n)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d (centre %d)", errNotInWindow, n, w.centre)
	}
	if w.bitmap&bitMask(i) != 0 {
		return nil, nil, fmt.Errorf("%w: %d", errAlreadySeen, n)
	}
	w.bitmap |= bitMask(i)
	if n < w.centre {
		return nil, nil, nil
	}

	oldCentre := w.centre
	newCentre := n + 1
	shift := newCentre - oldCentre

	// Unused numbers below the new bottom edge are dropped
	for i := 0; i < ReorderingWindowSize; i++ {
		num, ok := w.streamNumber(i)
		if !ok || w.bitmap&bitMask(i) != 0 {
			continue
		}
		if num+windowRadius < newCentre {
			removed = append(removed, num)
		}
	}

	// Numbers between the old top edge and the new top edge enter, except
	// those already below the new bottom edge after a long jump
	start := oldCentre + windowRadius
	if newCentre > windowRadius && newCentre-windowRadius > start {
		start = newCentre - windowRadius
	}
	for num := start; num < newCentre+windowRadius; num++ {
		added = append(added, num)
	}

	if shift >= ReorderingWindowSize {
		w.bitmap = 0
	} else {
		w.bitmap <<= shift
	}
	w.centre = newCentre
	return added, removed, nil
}

// index maps a stream number to its bit position.
func (w *ReorderingWindow) index(n uint64) (int, bool) {
	if n+windowRadius < w.centre || n >= w.centre+windowRadius {
		return 0, false
	}
	return int(n + windowRadius - w.centre), true
}

// streamNumber maps a bit position to its stream number; ok is false for
// positions below zero.
func (w *ReorderingWindow) streamNumber(i int) (uint64, bool) {
	if w.centre+uint64(i) < windowRadius {
		return 0, false
	}
	return w.centre + uint64(i) - windowRadius, true
}

func bitMask(i int) uint32 {
	return 1 << (ReorderingWindowSize - 1 - i)
}
