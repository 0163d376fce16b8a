// Package service is the business layer of the scratch card server.
//
// GameService composes the session registry, the lock manager and the
// engine. Every operation follows the same order: look the session up,
// take its mutex, check the lock, run the engine, release the mutex, then
// persist and publish asynchronously.
//
// Core interfaces:
//
// GameService is consumed by the HTTP API, the websocket hub and the MCP
// tools. SessionManager (implemented by game/session) stores sessions and
// their snapshots. ConfigManager (implemented by game/config) loads preset
// configurations. LockManager (implemented by game/lock) arbitrates holders.
//
// Usage:
//
//	locks := lock.NewManager(lock.Options{TTL: 45 * time.Second})
//	svc := service.NewGameService(sessions, configs, locks, service.WithPublisher(bus))
//
//	info, err := svc.CreateSession(ctx, "lobby", service.CreateRequest{Preset: "classic"})
//	out, err := svc.Reveal(ctx, info.Code, 0, holderID)
//
// Errors are classified with ErrorKind so transports can map them onto
// their own status codes.
package service
