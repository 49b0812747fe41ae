// Package wire defines the JSON wire contract shared by every transport:
// event names, request and payload structs, the frame and ack envelopes, and
// the Transport interface a channel implementation satisfies. The contract
// is closed; adding an event means adding it here.
package wire
