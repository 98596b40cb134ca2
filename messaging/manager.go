package messaging

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/tagmesh/db"
	"github.com/opd-ai/tagmesh/limits"
	tsync "github.com/opd-ai/tagmesh/sync"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
)

// MessageState is the delivery state of an outgoing message.
type MessageState uint8

const (
	// MessageStatePending means the message is queued in the outbox.
	MessageStatePending MessageState = iota
	// MessageStateSent means the message was written to a stream.
	MessageStateSent
)

func (s MessageState) String() string {
	switch s {
	case MessageStatePending:
		return "pending"
	case MessageStateSent:
		return "sent"
	default:
		return "unknown"
	}
}

// Store is the part of the database the message manager uses.
type Store interface {
	AddOutgoingMessage(c transport.ContactID, body []byte) (uint64, error)
	GetOutgoingMessages(c transport.ContactID) ([]*db.Message, error)
	RemoveOutgoingMessage(c transport.ContactID, id uint64) error
	AddIncomingMessage(c transport.ContactID, body []byte) (uint64, error)
}

// MessageCallback is called for every message received.
type MessageCallback func(c transport.ContactID, m *db.Message)

// DeliveryCallback is called when an outgoing message changes state.
type DeliveryCallback func(c transport.ContactID, id uint64, state MessageState)

// MessageManager queues outgoing messages and stores incoming ones. It is
// both the record handler and the record source of the sync layer.
type MessageManager struct {
	store Store

	mu               sync.Mutex
	messageCallback  MessageCallback
	deliveryCallback DeliveryCallback
}

var (
	_ tsync.RecordHandler = (*MessageManager)(nil)
	_ tsync.RecordSource  = (*MessageManager)(nil)
)

// NewMessageManager creates a message manager over store.
func NewMessageManager(store Store) *MessageManager {
	return &MessageManager{store: store}
}

// OnMessage sets the callback for received messages.
func (mm *MessageManager) OnMessage(callback MessageCallback) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.messageCallback = callback
}

// OnDeliveryStateChange sets the callback for delivery state changes.
func (mm *MessageManager) OnDeliveryStateChange(callback DeliveryCallback) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.deliveryCallback = callback
}

// SendMessage queues text for contact c.
func (mm *MessageManager) SendMessage(c transport.ContactID, text string) (uint64, error) {
	body := []byte(text)
	if err := limits.ValidateRecord(body); err != nil {
		return 0, err
	}
	id, err := mm.store.AddOutgoingMessage(c, body)
	if err != nil {
		return 0, fmt.Errorf("queueing message: %w", err)
	}
	mm.notifyDelivery(c, id, MessageStatePending)
	return id, nil
}

// HandleStream stores every message in r until an end record or the end of
// the stream.
func (mm *MessageManager) HandleStream(c transport.ContactID, t transport.TransportID, r io.Reader) error {
	received := 0
	for {
		rt, body, err := ReadRecord(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if rt == RecordEnd {
			break
		}

		id, err := mm.store.AddIncomingMessage(c, body)
		if err != nil {
			return fmt.Errorf("storing message: %w", err)
		}
		received++

		mm.mu.Lock()
		callback := mm.messageCallback
		mm.mu.Unlock()
		if callback != nil {
			callback(c, &db.Message{ID: id, ContactID: c, Timestamp: time.Now().UTC(), Body: body})
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "HandleStream",
		"contact":   c,
		"transport": t,
		"messages":  received,
	}).Info("Received messages")
	return nil
}

// WriteStream writes queued messages for c, oldest first, while they fit
// in w, then an end record. The messages stay queued until the returned
// Commit runs, which removes them and reports them sent.
func (mm *MessageManager) WriteStream(c transport.ContactID, t transport.TransportID, w tsync.StreamWriter) (tsync.Commit, error) {
	messages, err := mm.store.GetOutgoingMessages(c)
	if err != nil {
		return nil, fmt.Errorf("loading outbox: %w", err)
	}

	var written []uint64
	endLength := RecordLength(0)
	for _, m := range messages {
		if RecordLength(len(m.Body))+endLength > w.RemainingCapacity() {
			break
		}
		if err := WriteRecord(w, RecordMessage, m.Body); err != nil {
			return nil, err
		}
		written = append(written, m.ID)
	}
	if endLength <= w.RemainingCapacity() {
		if err := WriteRecord(w, RecordEnd, nil); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "WriteStream",
		"contact":   c,
		"transport": t,
		"messages":  len(written),
		"queued":    len(messages) - len(written),
	}).Debug("Wrote messages")
	if len(written) == 0 {
		return nil, nil
	}
	return func() { mm.markSent(c, t, written) }, nil
}

// markSent removes messages whose stream was delivered to the transport.
func (mm *MessageManager) markSent(c transport.ContactID, t transport.TransportID, ids []uint64) {
	sent := 0
	for _, id := range ids {
		if err := mm.store.RemoveOutgoingMessage(c, id); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "markSent",
				"contact":  c,
				"message":  id,
				"error":    err.Error(),
			}).Warn("Failed to remove sent message")
			continue
		}
		sent++
		mm.notifyDelivery(c, id, MessageStateSent)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "markSent",
		"contact":   c,
		"transport": t,
		"messages":  sent,
	}).Info("Sent messages")
}

func (mm *MessageManager) notifyDelivery(c transport.ContactID, id uint64, state MessageState) {
	mm.mu.Lock()
	callback := mm.deliveryCallback
	mm.mu.Unlock()
	if callback != nil {
		callback(c, id, state)
	}
}
