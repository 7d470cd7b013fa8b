// Package engine implements the txgate confirmation engine.
//
// The engine stages a built but unsigned transaction, hands back its
// summary hash, and only signs and broadcasts once a caller presents that
// hash again (plus a second-factor token when policy asks for one).
//
// ARCHITECTURE:
//
// Store as the serialization point:
// The engine holds no locks of its own. Every state change is a
// compare-and-set in the Store, so N concurrent confirms of one record
// produce exactly one pending -> consumed transition; the losers observe a
// conflict. Signing and broadcasting happen after that transition with no
// lock held.
//
// Lifecycle:
//
//	pending --confirm--> consumed --broadcast ok--> sent
//	   |                    |  \--broadcast err--> failed --retry--> consumed
//	   \------skip-------> skipped <---skip---/
//
// Expired records are inert: every operation reports NOT_FOUND_OR_EXPIRED
// for them whether or not the sweeper has deleted the row yet.
//
// Outcome writes after a broadcast use context.WithoutCancel, so a caller
// that disconnects mid-broadcast cannot drop the sent/failed result.
package engine
