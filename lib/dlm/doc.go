// Package dlm implements a cooperative distributed lock manager on top of a
// strongly-consistent, conditional-write store.Adapter.
//
// The protocol is the "version-lease technique": acquiring a lock writes a
// record carrying a fresh, UUID-shaped fencing token (its VersionNumber); as
// long as the holder keeps refreshing that record before its advertised
// lease expires, no other caller can acquire the same lock. A holder that
// stops refreshing (crash, GC pause, network partition) eventually has its
// lock stolen by the next caller that notices the record has gone stale.
//
// A Session is the entry point: it is bound to one table (one logical
// namespace of lock records) and hands out Handles via CreateLock or
// DeserializeLock. Every Handle acquired from a Session is kept alive by a
// single background goroutine owned by the Session - not one goroutine per
// Handle - which refreshes every held lock in order of nearest deadline.
//
// This package deliberately does not provide fairness, byte-for-byte
// byzantine safety, or automatic table provisioning; see the package-level
// documentation on Session for the exact guarantees it does provide.
package dlm
