// Package lock grants short-lived exclusive access to a session.
//
// A lock has a single holder and an expiry. Acquiring by the current holder
// refreshes it, heartbeats extend it, and a periodic sweep removes expired
// entries. When a sweep leaves no session locked the manager asks its
// BackupTrigger for a deferred backup; the next Acquire cancels it.
package lock
