// Package events is the in-process bus that carries session activity to
// whoever cares about it: the backup trigger and websocket viewers.
package events
