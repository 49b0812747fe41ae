// Package ws serves the websocket wire contract for customers and agents.
//
// # Endpoints
//
//	/ws/customer?tenant=<key>
//	/ws/agent?tenant=<key>
//
// An unknown tenant key fails the HTTP handshake with 404 before any
// upgrade. After upgrade, frames are JSON envelopes carrying an event name,
// an optional ack id, and an event-specific payload.
//
// # Acks
//
// Every inbound frame with an ack id gets exactly one ack: {code, data} on
// success, {code, message} on failure. Frames without an ack id report
// failures as message/error notices. Error-to-code mapping lives in
// ackCode.
//
// # Connections
//
// Each Conn runs a read pump and a write pump. Writes go through a buffered
// channel with non-blocking enqueue: a consumer that cannot keep up is
// disconnected rather than allowed to stall the sender.
package ws
