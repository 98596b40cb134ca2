// Package messaging is the application layer carried by tagmesh streams.
//
// # Records
//
// A decrypted stream is a sequence of records, each a one-byte type and a
// big-endian uint16 body length followed by the body:
//
//	type(1) | length(2) | body(length)
//
// A message record carries one queued message. An end record closes the
// stream; simplex streams may also simply end at a frame boundary. Any
// other type, an oversized body or a truncated record is a format error
// and fails the connection.
//
// # Message Flow
//
// [MessageManager] queues outgoing messages in the database outbox and
// implements both ends of the sync layer: it fills outgoing streams with
// as many queued messages as fit in the stream's remaining capacity, and
// stores the messages of incoming streams in the inbox.
//
//	mm := messaging.NewMessageManager(database)
//	mm.OnMessage(func(c transport.ContactID, m *db.Message) {
//		fmt.Printf("%d: %s\n", c, m.Body)
//	})
//	dispatcher := sync.NewDispatcher(ctx, sync.Config{
//		Handler: mm,
//		Source:  mm,
//		...
//	})
//
// A message is removed from the outbox once it has been written to a
// stream. There are no acknowledgements.
package messaging
