// Package store provides SQLite-backed durable storage for pending
// confirmations.
//
// Two tables back the store:
//   - pending_confirmations: one row per staged transaction
//   - confirmation_links: advisory or mandatory primary/dependent pairs
//
// # Critical Patterns
//
// Status compare-and-set
//   - Every transition is UPDATE ... WHERE id = ? AND status = ?
//   - Zero affected rows means another caller won; the store returns
//     confirm.ErrConflict and never overwrites
//
// Expiry is lazy
//   - Expired rows are invisible to Get/List and rejected by the
//     pending → consumed CAS even before they are swept
//   - Consumed rows inside the in-flight window survive sweeps so a
//     broadcast in progress can still record its outcome
//
// Forward migration
//   - schema.sql holds the oldest layout; newer columns are added when
//     PRAGMA table_info reports them missing, and legacy rows are
//     back-filled as pending
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Links cascade with their records
//   - One open connection: SQLite has a single writer
package store
