// Package backup copies session snapshots off the host and back.
//
// Service archives the sessions directory as tar.gz into a Store, either a
// local DirStore or an S3Store pointed at Cloudflare R2, and Restore unpacks
// the newest archive.
//
// Trigger decides when to back up. A winning reveal requests an immediate
// backup through the event bus. The lock manager arms a single deferred
// backup once every session has gone idle, and the next acquisition anywhere
// cancels it. Backups run on one worker goroutine and failures are only
// logged.
package backup
