// Package mcp exposes the scratch card game to AI agents over the Model
// Context Protocol.
//
// The Client is a thin proxy: every tool turns into a REST call against a
// running server, so agents go through the same lock and auth rules as
// browsers. The client logs in with the shared player password on first use
// and logs in again when its token is rejected.
//
// Tools:
//   - list_sessions: session codes
//   - game_state: grid rendering with hidden cells as "?"
//   - acquire_lock, heartbeat, release_lock: session lock lifecycle
//   - reveal: scratch one cell by index
//   - game_instructions: rules text
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer()) for local agents
//   - HTTP: the /mcp endpoint of the main server
package mcp
