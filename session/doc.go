// Package session provides the in-memory SessionStore used by the turn engine
// and the per-session LockManager that keeps at most one turn in flight per
// session. The store is a registry for the lifetime of the process, not a
// system of record.
package session
