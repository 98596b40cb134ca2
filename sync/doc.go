// Package sync drives connections once a transport plugin has produced
// them. Incoming streams are identified by their tag, decrypted with the
// keys of the contact that owns them and handed to a RecordHandler.
// Outgoing streams are opened with a fresh stream context from the key
// manager and filled by a RecordSource.
//
// Every connection is registered with the connection registry while it
// runs. Whatever the exit path, its stream context is erased once, the
// transport is disposed of once and the registration is dropped.
package sync
