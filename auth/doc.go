// Package auth resolves bearer tokens to roles.
//
// Admins log in with the admin password, players with the shared player
// password, and managers with the secret of the one session they manage.
// Passwords are kept as bcrypt hashes and tokens are random UUIDs held in
// memory, so a restart logs everyone out.
package auth
