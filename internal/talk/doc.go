// Package talk implements the live state machine for one customer-support
// conversation.
//
// # Lifecycle
//
// A Talk wraps a persisted store.Talk record and moves it through its
// statuses:
//
//	waiting -> start -> closed
//	waiting -> unprocessed        (closed before any agent took it)
//
// Shutdown is a recovery marker applied at startup, never set here. Closed,
// unprocessed, and shutdown are terminal: every mutating operation on a
// terminal talk fails with ErrTalkClosed.
//
// # Operations
//
//   - Start: bind an executive and record the waiting time
//   - TransferTo: hand the talk to another executive, preserving StartAt
//   - Close: finish the talk; an unstarted talk becomes unprocessed unless
//     forced
//   - SendMessage / EditMessage / DeleteMessage: message flow
//   - JoinWatcher / LeaveWatcher: supervisors observing without ownership
//   - OnReconnected / OnDisconnected: customer transport lifecycle
//
// # Ordering guarantees
//
// Every state change persists before anything is broadcast: a message that
// fails to save is never cached or delivered, and a close that fails to
// persist leaves the talk open. The ten most recent messages are cached
// newest-first so reconnecting participants get context without a store
// round-trip.
//
// Broadcasts happen outside the talk mutex. Cross-cutting notifications
// (agent fan-out, close bookkeeping) go through the Notifier interface so
// the package stays independent of the dispatcher that drives it.
package talk
