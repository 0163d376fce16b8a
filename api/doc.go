// Package api provides the HTTP REST API for the scratch card server.
//
// Every route except logins, the public session list, session state,
// /ws and /healthz needs an "Authorization: Bearer <token>" header. Tokens
// come from one of the three login routes and carry a role.
//
// Logins (rate limited):
//   - POST /api/admin/login {password}
//   - POST /api/manager/login {code, password}
//   - POST /api/player/login {password}
//   - POST /api/logout
//
// Admin:
//   - GET|POST /api/admin/sessions
//   - DELETE /api/admin/sessions/{code}
//   - POST /api/admin/sessions/{code}/reset
//   - GET|PATCH /api/admin/sessions/{code}/config
//   - GET /api/admin/sessions/{code}/progress
//   - POST /api/admin/password, POST /api/admin/player-password
//   - POST /api/admin/backup
//   - GET /api/configs
//
// Manager (acts on the session named at login):
//   - GET|PATCH /api/manager/config
//   - POST /api/manager/reset
//   - GET /api/manager/progress
//
// Player:
//   - GET /api/sessions
//   - GET /api/sessions/{code}/state
//   - POST|DELETE /api/sessions/{code}/lock
//   - POST /api/sessions/{code}/heartbeat
//   - POST /api/sessions/{code}/reveal {index}
//
// Errors are JSON objects {"error": message, "kind": kind}. Kinds follow
// service.ErrorKind: not_found is 404, already_exists and conflict are 409,
// invalid_index and invalid_config are 400, unauthorized is 401.
package api
