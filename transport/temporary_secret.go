package transport

// TemporarySecret is the root secret shared with one contact over one
// transport for one rotation period, together with the state needed to
// recognise and emit streams under it.
type TemporarySecret struct {
	ContactID      ContactID
	TransportID    TransportID
	TransportIndex int
	// Epoch is the pairing time in milliseconds since the Unix epoch.
	Epoch int64
	// Alice breaks the symmetry between the two holders of Secret.
	Alice  bool
	Period uint64
	Secret []byte

	OutgoingStreamCounter uint64
	WindowCentre          uint64
	WindowBitmap          []byte
}

// Clone returns a deep copy of s, including the secret bytes.
func (s *TemporarySecret) Clone() *TemporarySecret {
	c := *s
	c.Secret = append([]byte(nil), s.Secret...)
	c.WindowBitmap = append([]byte(nil), s.WindowBitmap...)
	return &c
}

// endpointKey identifies the secret chain for one contact and transport.
type endpointKey struct {
	contactID   ContactID
	transportID TransportID
}

func (s *TemporarySecret) endpoint() endpointKey {
	return endpointKey{contactID: s.ContactID, transportID: s.TransportID}
}
