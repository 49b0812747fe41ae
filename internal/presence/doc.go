// Package presence binds durable participant identity to whichever live
// transport currently carries it.
//
// # Tokens
//
// CustomerToken and AgentToken outlive individual connections. A new
// connection replaces the old one; if the transport ids differ, the old
// transport is told about the duplicate login before being closed. Sends to
// an offline token fail with ErrTransportUnavailable rather than queueing.
//
// # Grace
//
// Customer tokens are destroyed only after staying offline for the table's
// grace period, so a page refresh reconnects to the same chat key and talk.
// Agent tokens are never destroyed while the process runs: reconnecting with
// a valid session token recovers the same identity.
package presence
