package signalr

import (
	"context"
	"time"
)

// conn represents the websocket transport underneath one Connection. It is
// owned exclusively by that Connection and never shared.
type conn interface {
	// close performs an abrupt, unclean close (no close frame). Used by
	// the heartbeat supervisor on a missed pong.
	close() error
	// closeGraceful sends a close control frame before closing. Used by
	// a programmatic Disconnect.
	closeGraceful(ctx context.Context) error
	ping(ctx context.Context) error
	readMessage(ctx context.Context) (data []byte, err error)
	writeMessage(ctx context.Context, data []byte) error
	setPongHandler(func())
}

// writeWait bounds how long a single control or data frame write may
// block before it is considered failed.
var writeWait = 5 * time.Second
