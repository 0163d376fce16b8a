// Package websocket pushes live scratch card state to browsers.
//
// A single Hub owns every connection. Clients attach to one session with
// /ws?session=<code> and receive a state_update snapshot on connect. After
// that the hub relays every bus event for the session together with the
// session's current public state, so viewers never see a cell value before
// it has been revealed.
//
// Usage:
//
//	hub := websocket.NewHub(gameService)
//	go hub.Run(ctx)
//	ch, stop := bus.Subscribe(events.DefaultBuffer)
//	defer stop()
//	go hub.Listen(ctx, ch)
//
// Concurrency:
//
// The client map is only touched by the Run goroutine. Broadcasts are
// queued and dropped with a warning when the queue is full, and a client
// whose send buffer fills is disconnected.
package websocket
