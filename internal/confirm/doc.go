// Package confirm defines the pending-confirmation domain: the record staged
// for a built-but-unsigned transaction, its closed status machine, the
// second-factor token, and the error taxonomy returned to callers.
//
// # State machine
//
//	pending ──► consumed ──► sent
//	   │            │   └──► failed ──► consumed (retry)
//	   │            └──► consumed (crash-recovery retry)
//	   └──► skipped ◄┘
//
// pending is initial; sent, failed and skipped are terminal for a single
// attempt (failed re-enters consumed only through an explicit retry).
// consumed exists only for the duration of a sign+broadcast attempt and acts
// as the lock that makes double broadcast impossible.
//
// Records past their expiry are inert: every caller-facing operation reports
// them as not found, even before garbage collection removes them.
package confirm
