package signalr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// unexpectedResponseError wraps the *http.Response a failed websocket
// upgrade returned, letting callers distinguish a remote-origin rejection
// (e.g. an HTTP 401/403 from the front door) from a client-origin dial
// failure (DNS, timeout, TCP reset).
type unexpectedResponseError struct {
	statusCode int
	err        error
}

func (e *unexpectedResponseError) Error() string {
	return fmt.Sprintf("signalr: unexpected response (status %d): %v", e.statusCode, e.err)
}
func (e *unexpectedResponseError) Unwrap() error { return e.err }

// dialGorillaWebsocket opens the transport for the connect handshake
// phase. Permessage-deflate stays disabled, matching the hub's own
// front door, which never negotiates it.
func dialGorillaWebsocket(ctx context.Context, u url.URL, header http.Header, handshakeTimeout time.Duration) (conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: false,
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &unexpectedResponseError{statusCode: resp.StatusCode, err: err}
		}
		return nil, newClientError(err.Error())
	}
	return &gorillaConn{conn: c}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) close() error { return c.conn.Close() }

func (c *gorillaConn) closeGraceful(ctx context.Context) error {
	deadline := writeDeadline(ctx)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

func (c *gorillaConn) ping(ctx context.Context) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, writeDeadline(ctx))
}

func (c *gorillaConn) readMessage(_ context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) writeMessage(ctx context.Context, data []byte) error {
	if err := c.conn.SetWriteDeadline(writeDeadline(ctx)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) setPongHandler(h func()) {
	c.conn.SetPongHandler(func(string) error {
		h()
		return nil
	})
}

func writeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(writeWait)
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
	}
	return deadline
}

// closeInfoFromError extracts the peer-supplied close code/reason from a
// ReadMessage error, falling back to an abnormal-closure code when the
// peer never sent a close frame (e.g. the TCP connection just died).
func closeInfoFromError(err error) (code int, reason string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
