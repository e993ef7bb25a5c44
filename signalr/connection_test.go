package signalr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder is a connEventHandler that records everything it sees,
// safe for concurrent use by a Connection's own goroutines.
type eventRecorder struct {
	mu           sync.Mutex
	connectedID  []string
	data         []json.RawMessage
	connErrors   []ConnectionErrorEvent
	disconnected []DisconnectedEvent
}

var _ connEventHandler = (*eventRecorder)(nil)

func (r *eventRecorder) onConnected(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedID = append(r.connectedID, id)
}

func (r *eventRecorder) onData(raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, raw)
}

func (r *eventRecorder) onConnectionError(evt ConnectionErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connErrors = append(r.connErrors, evt)
}

func (r *eventRecorder) onDisconnected(evt DisconnectedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, evt)
}

func (r *eventRecorder) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connectedID)
}

func (r *eventRecorder) disconnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disconnected)
}

func (r *eventRecorder) terminalErrors() []ConnectionErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ConnectionErrorEvent
	for _, e := range r.connErrors {
		if !e.Retry {
			out = append(out, e)
		}
	}
	return out
}

// handshakeServer fronts negotiate/start/abort with per-endpoint response
// queues, so a test can script a retry-then-success sequence.
type handshakeServer struct {
	*httptest.Server
	mu    sync.Mutex
	queue map[string][]int // path -> queued status codes, last repeats
}

func newHandshakeServer() *handshakeServer {
	hs := &handshakeServer{queue: make(map[string][]int)}
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.handle))
	return hs
}

func (hs *handshakeServer) handle(w http.ResponseWriter, r *http.Request) {
	hs.mu.Lock()
	codes := hs.queue[r.URL.Path]
	code := http.StatusOK
	if len(codes) > 0 {
		code = codes[0]
		if len(codes) > 1 {
			hs.queue[r.URL.Path] = codes[1:]
		}
	}
	hs.mu.Unlock()

	if r.URL.Path == "/negotiate" && code == http.StatusOK {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(ConnectionDescriptor{
			ConnectionID:            "conn-1",
			ConnectionToken:         "token-1",
			ProtocolVersion:         "1.5",
			TransportConnectTimeout: 5,
		})
		return
	}
	w.WriteHeader(code)
}

func (hs *handshakeServer) script(path string, codes ...int) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.queue[path] = codes
}

func fakeDial(fc *fakeConn, dialErr error) dialFunc {
	return func(ctx context.Context, u url.URL, header http.Header, timeout time.Duration) (conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return fc, nil
	}
}

func newTestConnection(hs *handshakeServer, fc *fakeConn, dialErr error, rec *eventRecorder, cfg HandshakeConfig) *Connection {
	return newConnection(hs.URL, "ws://ignored", Credentials{}, cfg, hs.Client(), fakeDial(fc, dialErr), NoopLogger(), rec)
}

func fastHandshakeConfig() HandshakeConfig {
	cfg := DefaultHandshakeConfig()
	cfg.NegotiateRetries = 2
	cfg.ConnectRetries = 1
	cfg.StartRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.PingTimeout = 0
	cfg.IgnoreStartStep = false
	return cfg
}

func TestConnection_FullHandshakeSucceeds(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, []string{"conn-1"}, rec.connectedID)
}

func TestConnection_NegotiateRetriesThenSucceeds(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	hs.script("/negotiate", http.StatusInternalServerError, http.StatusOK)
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.connErrors, 1)
	assert.Equal(t, "negotiate", rec.connErrors[0].Step)
	assert.True(t, rec.connErrors[0].Retry)
}

func TestConnection_NegotiateExhaustsRetriesEmitsTerminalError(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	hs.script("/negotiate", http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError)
	fc := newFakeConn()
	rec := &eventRecorder{}
	cfg := fastHandshakeConfig()
	c := newTestConnection(hs, fc, nil, rec, cfg)

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, time.Second, time.Millisecond)

	terminal := rec.terminalErrors()
	require.Len(t, terminal, 1)
	assert.Equal(t, "negotiate", terminal[0].Step)
	assert.Equal(t, cfg.NegotiateRetries+1, terminal[0].Attempts)
	assert.Equal(t, 0, rec.connectedCount())
}

func TestConnection_ConnectFatalOn401(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, &unexpectedResponseError{statusCode: http.StatusUnauthorized}, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, time.Second, time.Millisecond)

	terminal := rec.terminalErrors()
	require.Len(t, terminal, 1)
	assert.Equal(t, "connect", terminal[0].Step)
	assert.Equal(t, 1, terminal[0].Attempts) // fatal short-circuits remaining retries
}

func TestConnection_KeepAliveFrameIsIgnored(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	fc.readCh <- []byte("{}")
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.data)
}

func TestConnection_PushFrameDispatchesToOnData(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	push := hubPush{M: "updateExchangeStateLite", A: []json.RawMessage{json.RawMessage(`{"MarketName":"BTC-USD"}`)}}
	pushBytes, _ := json.Marshal(push)
	frame, _ := json.Marshal(map[string]interface{}{"M": []json.RawMessage{pushBytes}})
	fc.readCh <- frame

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.data) == 1
	}, time.Second, time.Millisecond)
}

func TestConnection_ReplyDispatchSuccessAndError(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	type result struct {
		raw json.RawMessage
		err error
	}
	okCh := make(chan result, 1)
	assert.True(t, c.Invoke("SubscribeToExchangeDeltas", []interface{}{"BTC-USD"}, func(raw json.RawMessage, err error) {
		okCh <- result{raw, err}
	}))
	errCh := make(chan result, 1)
	assert.True(t, c.Invoke("QueryExchangeState", []interface{}{"ETH-USD"}, func(raw json.RawMessage, err error) {
		errCh <- result{raw, err}
	}))

	okFrame, _ := json.Marshal(map[string]interface{}{"I": "0", "R": json.RawMessage(`{"ok":true}`)})
	fc.readCh <- okFrame
	errMsg := "bad market"
	errFrame, _ := json.Marshal(map[string]interface{}{"I": "1", "E": &errMsg})
	fc.readCh <- errFrame

	okRes := <-okCh
	require.NoError(t, okRes.err)
	assert.JSONEq(t, `{"ok":true}`, string(okRes.raw))

	errRes := <-errCh
	require.Error(t, errRes.err)
}

func TestConnection_ProgressAndUnknownIDAreDiscarded(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	progress, _ := json.Marshal(map[string]interface{}{"I": "5", "D": json.RawMessage(`"50%"`)})
	fc.readCh <- progress
	unknown, _ := json.Marshal(map[string]interface{}{"I": "999", "R": json.RawMessage(`{}`)})
	fc.readCh <- unknown

	time.Sleep(20 * time.Millisecond) // neither should panic or be observable
}

func TestConnection_InvokeFailsWhenNotConnected(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	called := false
	assert.False(t, c.Invoke("SubscribeToExchangeDeltas", nil, func(json.RawMessage, error) { called = true }))
	assert.False(t, called)
}

func TestConnection_HeartbeatMissedPongHardCloses(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	cfg := fastHandshakeConfig()
	cfg.PingTimeout = 10 * time.Millisecond
	c := newTestConnection(hs, fc, nil, rec, cfg)

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	// Never deliver a pong; the next heartbeat tick should hard-close.
	require.Eventually(t, func() bool { return rec.disconnectedCount() == 1 }, time.Second, time.Millisecond)
}

func TestConnection_HeartbeatSurvivesWithPong(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	cfg := fastHandshakeConfig()
	cfg.PingTimeout = 10 * time.Millisecond
	c := newTestConnection(hs, fc, nil, rec, cfg)

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(5 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				fc.deliverPong()
			}
		}
	}()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, rec.disconnectedCount())
	assert.Equal(t, StateConnected, c.State())
}

func TestConnection_GarbageFrameIsIgnored(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	fc.readCh <- []byte("not-json")
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.data)
	assert.Empty(t, rec.connErrors)
	assert.Equal(t, StateConnected, c.State())
}

func TestConnection_DisconnectNeverEmitsDisconnectedEvent(t *testing.T) {
	hs := newHandshakeServer()
	defer hs.Close()
	fc := newFakeConn()
	rec := &eventRecorder{}
	c := newTestConnection(hs, fc, nil, rec, fastHandshakeConfig())

	require.True(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return rec.connectedCount() == 1 }, time.Second, time.Millisecond)

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, rec.disconnectedCount())
}
