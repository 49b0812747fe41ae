// Package store provides persistent storage for livedesk using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with two
// interfaces:
//
//   - Store: operations the dispatch core consumes (tenants, agents, talks,
//     messages, stickers, articles)
//   - AdminStore: provisioning operations used by the bootstrap command
//
// SQLiteStore implements both in a single struct.
//
// # Data Models
//
//   - Tenant: one company account, looked up by routing key
//   - Agent: support staff member (executive or supervisor)
//   - Talk: durable snapshot of one customer-support conversation
//   - Message: single talk message; image/sticker content is a stored file
//     name, resolved against the files base URL at read time
//   - Sticker: pre-existing sticker record referenced by sticker messages
//   - Article: canned support article; "connected"/"start" tags drive
//     auto-send
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// ErrNotFound is returned whenever a requested entity does not exist. All
// methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests; it implements Store and AdminStore
// in memory. Use NewSQLiteStore(":memory:") for integration tests with
// real SQLite.
package store
