// Package session is the registry of scratch card sessions.
//
// Manager maps case-insensitive session codes to *service.Session values.
// The map has its own lock and every session carries its own mutex, so
// operations on different codes never contend.
//
// Persistence:
//
// Each mutation is followed by a snapshot written through SessionPersistence.
// Create, Reset and Reconfigure save synchronously; reveals use SaveAsync so
// the caller never waits on disk. Save failures are logged, never returned to
// the player. FilePersistence keeps one JSON file per session:
//
//	{
//	  "code": "lobby",
//	  "grid_size": 9,
//	  "numbers": [3, 8, 1, 7, 2, 9, 5, 4, 6],
//	  "scratched": [null, 8, null, null, null, null, null, null, null],
//	  "winning_values": [{"value": 7, "threshold": 3}],
//	  "manager_secret": "...",
//	  "last_activity_at": "2024-01-01T12:00:00Z"
//	}
//
// Usage:
//
//	fp, err := session.NewFilePersistence("sessions")
//	manager := session.NewManagerWithPersistence(fp)
//	if err := manager.LoadPersistedSessions(); err != nil {
//		log.Fatal(err)
//	}
//	defer manager.SaveAllSessions()
package session
