// Package dispatch assigns waiting talks to ready agents, one dispatcher per
// tenant.
//
// # Rooms
//
// Each connected agent owns a room: a capacity-bounded slot set plus a ready
// flag. Agents opt in and out of assignment with SetReady; an offline or
// unready agent never receives work, but keeps the talks already assigned.
//
// # Assignment
//
// A dispatch pass snapshots the ready rooms (sorted by agent id) and walks
// the waiting talks in creation order, picking a room per the configured
// mode:
//
//   - balance: first room with free capacity
//   - loop: round-robin over the snapshot, driven by a persistent cursor
//
// The pass is best-effort: talks that cannot be placed stay waiting and are
// retried on the next trigger (agent ready, talk closed, customer connect).
//
// # Serialization
//
// All dispatcher state is guarded by a single mutex. Talk methods are called
// outside that mutex; the lock order is always dispatcher before talk, never
// the reverse.
package dispatch
