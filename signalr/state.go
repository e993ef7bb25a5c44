package signalr

import "sync/atomic"

// ConnectionState is the lifecycle stage of a Connection.
type ConnectionState uint32

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// connState is an atomic ConnectionState, avoiding the boolean-flag races
// a mutex-guarded enum would otherwise invite.
type connState struct {
	v atomic.Uint32
}

func (c *connState) load() ConnectionState { return ConnectionState(c.v.Load()) }

func (c *connState) store(s ConnectionState) { c.v.Store(uint32(s)) }

func (c *connState) compareAndSwap(old, new ConnectionState) bool {
	return c.v.CompareAndSwap(uint32(old), uint32(new))
}
