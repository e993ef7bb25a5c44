package signalr

import (
	"context"
	"errors"
	"sync"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn is a channel-driven conn used across this package's tests, in
// the same spirit as the reference client's own mockConn: a test drives
// the read side by pushing onto readCh and observes outbound traffic on
// writeCh.
type fakeConn struct {
	mu        sync.Mutex
	readCh    chan []byte
	writeCh   chan []byte
	pingCh    chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	pongFn    func()
	pingErr   error
}

var _ conn = (*fakeConn)(nil)

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:  make(chan []byte, 16),
		writeCh: make(chan []byte, 16),
		pingCh:  make(chan struct{}, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) closeGraceful(context.Context) error { return c.close() }

func (c *fakeConn) ping(context.Context) error {
	c.mu.Lock()
	err := c.pingErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-c.closeCh:
		return errFakeClosed
	default:
	}
	select {
	case c.pingCh <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) readMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.readCh:
		return data, nil
	case <-c.closeCh:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) writeMessage(_ context.Context, data []byte) error {
	select {
	case <-c.closeCh:
		return errFakeClosed
	default:
	}
	select {
	case c.writeCh <- data:
	default:
	}
	return nil
}

func (c *fakeConn) setPongHandler(h func()) {
	c.mu.Lock()
	c.pongFn = h
	c.mu.Unlock()
}

func (c *fakeConn) deliverPong() {
	c.mu.Lock()
	h := c.pongFn
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

func (c *fakeConn) setPingError(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}
