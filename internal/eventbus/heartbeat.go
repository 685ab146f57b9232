package eventbus

import "time"

// HeartbeatInterval is the ping/pong cadence a WebSocket transport layer
// built on this bus should use.
const HeartbeatInterval = 30 * time.Second

// MaxMissedPongs is the number of consecutive missed pongs after which a
// transport layer should terminate the connection.
const MaxMissedPongs = 2

// Heartbeat tracks missed pongs for a single connection. It holds no
// reference to the connection itself; a transport layer calls Pong on
// receipt and Tick once per HeartbeatInterval, acting on Tick's result.
type Heartbeat struct {
	missed int
}

// Tick records that a ping was sent without an intervening Pong call
// since the last Tick, and reports whether the connection has now missed
// MaxMissedPongs consecutive pongs.
func (h *Heartbeat) Tick() (shouldTerminate bool) {
	h.missed++
	return h.missed >= MaxMissedPongs
}

// Pong resets the missed-pong counter.
func (h *Heartbeat) Pong() {
	h.missed = 0
}
