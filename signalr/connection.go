package signalr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// connEventHandler receives a Connection's observable events, delivered
// serially on the Connection's own goroutines. Handlers must not block.
type connEventHandler interface {
	onConnected(connectionID string)
	onData(raw json.RawMessage)
	onConnectionError(evt ConnectionErrorEvent)
	onDisconnected(evt DisconnectedEvent)
}

type closeDisposition uint32

const (
	closeDispositionPending closeDisposition = iota
	closeDispositionSuppressed
	closeDispositionProgrammatic
)

// HandshakeConfig configures retry budgets and timing for one
// Connection's handshake phases and live heartbeat.
type HandshakeConfig struct {
	NegotiateRetries int
	ConnectRetries   int
	StartRetries     int
	RetryDelay       time.Duration
	IgnoreStartStep  bool
	PingTimeout      time.Duration
	UserAgent        string
	HubName          string
}

// DefaultHandshakeConfig matches the reference client's own defaults:
// eleven negotiate retries, one retry apiece for connect/start, a
// ten-second fixed delay, and a thirty-second application ping.
func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		NegotiateRetries: 11,
		ConnectRetries:   1,
		StartRetries:     1,
		RetryDelay:       10 * time.Second,
		PingTimeout:      30 * time.Second,
		UserAgent:        "MPE",
		HubName:          "corehub",
	}
}

type dialFunc func(ctx context.Context, u url.URL, header http.Header, handshakeTimeout time.Duration) (conn, error)

// Connection owns one transport session: negotiate, connect, start, the
// live message pump and heartbeat, and abort. Reconnecting always means
// constructing a new Connection; none of this state is reused across one.
type Connection struct {
	id     uuid.UUID
	logger Logger

	baseHTTPS  string
	baseWSS    string
	cfg        HandshakeConfig
	creds      Credentials
	httpClient *http.Client
	dial       dialFunc

	handler connEventHandler

	state connState

	descriptor   ConnectionDescriptor
	startReached bool

	socket conn

	// nextID is never reset within one Connection; ids start again at 0
	// only because every reconnect constructs a new Connection.
	nextID    atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]func(json.RawMessage, error)

	closeDisp atomic.Uint32
	isAlive   atomic.Bool

	wg sync.WaitGroup
}

func newConnection(
	baseHTTPS, baseWSS string,
	creds Credentials,
	cfg HandshakeConfig,
	httpClient *http.Client,
	dial dialFunc,
	logger Logger,
	handler connEventHandler,
) *Connection {
	return &Connection{
		id:         uuid.New(),
		logger:     logger,
		baseHTTPS:  baseHTTPS,
		baseWSS:    baseWSS,
		cfg:        cfg,
		creds:      creds,
		httpClient: httpClient,
		dial:       dial,
		handler:    handler,
		pending:    make(map[uint32]func(json.RawMessage, error)),
	}
}

// State reports the Connection's current lifecycle stage.
func (c *Connection) State() ConnectionState { return c.state.load() }

// Connect transitions NEW -> CONNECTING and asynchronously drives
// negotiate -> connect -> start. It returns false if called outside NEW.
func (c *Connection) Connect(ctx context.Context) bool {
	if !c.state.compareAndSwap(StateNew, StateConnecting) {
		return false
	}
	go c.runHandshake(ctx)
	return true
}

func (c *Connection) isConnecting() bool { return c.state.load() == StateConnecting }

func (c *Connection) runHandshake(ctx context.Context) {
	desc, err := c.phaseNegotiate(ctx)
	if err != nil {
		c.abandonHandshake(err)
		return
	}
	c.descriptor = desc

	if err := c.phaseConnect(ctx); err != nil {
		c.abandonHandshake(err)
		return
	}

	if !c.cfg.IgnoreStartStep {
		if err := c.phaseStart(ctx); err != nil {
			c.socket.close()
			c.abandonHandshake(err)
			return
		}
		c.startReached = true
	}

	if !c.state.compareAndSwap(StateConnecting, StateConnected) {
		// Disconnect() raced us out of CONNECTING; tear down quietly.
		c.socket.close()
		return
	}

	c.socket.setPongHandler(func() { c.isAlive.Store(true) })

	c.logger.Infof("signalr[%s]: connected, connection id %s", c.id, c.descriptor.ConnectionID)
	// onConnected runs before the reader starts, so it precedes every onData.
	c.handler.onConnected(c.descriptor.ConnectionID)

	c.wg.Add(1)
	go c.readLoop()
	if c.cfg.PingTimeout > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop()
	}
}

func (c *Connection) abandonHandshake(err error) {
	if errors.Is(err, errRetryIgnored) {
		return
	}
	c.closeDisp.Store(uint32(closeDispositionSuppressed))
	c.state.store(StateDisconnected)
}

// Disconnect tears this Connection down programmatically: a graceful
// close, a best-effort abort if start completed, and a transition to
// DISCONNECTED. It never emits DisconnectedEvent.
func (c *Connection) Disconnect() {
	for {
		s := c.state.load()
		if s == StateDisconnected {
			return
		}
		if c.state.compareAndSwap(s, StateDisconnecting) {
			break
		}
	}
	c.closeDisp.Store(uint32(closeDispositionProgrammatic))
	if c.socket != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_ = c.socket.closeGraceful(ctx)
		cancel()
	}
	c.abortBestEffort()
	c.wg.Wait()
	c.state.store(StateDisconnected)
}

// Invoke sends a hub invocation. It is only valid while CONNECTED; it
// returns false (and never calls callback) if the Connection is not
// CONNECTED or the write fails.
func (c *Connection) Invoke(method string, args []interface{}, callback func(json.RawMessage, error)) bool {
	if c.state.load() != StateConnected {
		return false
	}
	id := c.nextID.Add(1) - 1
	if args == nil {
		args = []interface{}{}
	}
	frame, err := json.Marshal(hubInvocation{H: c.cfg.HubName, M: strings.ToLower(method), A: args, I: id})
	if err != nil {
		return false
	}

	if callback != nil {
		c.pendingMu.Lock()
		c.pending[id] = callback
		c.pendingMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.socket.writeMessage(ctx, frame); err != nil {
		if callback != nil {
			c.pendingMu.Lock()
			delete(c.pending, id)
			c.pendingMu.Unlock()
		}
		return false
	}
	return true
}

func (c *Connection) negotiateOnce(ctx context.Context) (ConnectionDescriptor, error) {
	hubs, err := json.Marshal([]hubRef{{Name: c.cfg.HubName}})
	if err != nil {
		return ConnectionDescriptor{}, fatal(err)
	}
	q := url.Values{}
	q.Set("clientProtocol", "1.5")
	q.Set("transport", "serverSentEvents")
	q.Set("connectionData", string(hubs))
	reqURL := strings.TrimRight(c.baseHTTPS, "/") + "/negotiate?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ConnectionDescriptor{}, fatal(err)
	}
	c.setCommonHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConnectionDescriptor{}, newClientError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ConnectionDescriptor{}, fatal(newRemoteError(resp.StatusCode, "negotiate rejected"))
	}
	if resp.StatusCode != http.StatusOK {
		return ConnectionDescriptor{}, newRemoteError(resp.StatusCode, resp.Status)
	}

	var desc ConnectionDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return ConnectionDescriptor{}, newClientError("negotiate: decode: " + err.Error())
	}
	return desc, nil
}

func (c *Connection) phaseNegotiate(ctx context.Context) (ConnectionDescriptor, error) {
	desc, attempts, err := retryDo(ctx, retryConfig{Retries: c.cfg.NegotiateRetries, MinDelay: c.cfg.RetryDelay}, c.isConnecting,
		c.negotiateOnce,
		func(a retryAttempt) {
			c.handler.onConnectionError(ConnectionErrorEvent{Step: "negotiate", Attempt: a.Attempt, Retry: true, Err: a.Err})
		},
	)
	if err != nil && !errors.Is(err, errRetryIgnored) {
		c.handler.onConnectionError(ConnectionErrorEvent{Step: "negotiate", Attempts: attempts, Retry: false, Err: err})
	}
	return desc, err
}

func (c *Connection) connectOnce(ctx context.Context) (struct{}, error) {
	hubs, err := json.Marshal([]hubRef{{Name: c.cfg.HubName}})
	if err != nil {
		return struct{}{}, fatal(err)
	}
	q := url.Values{}
	q.Set("clientProtocol", c.descriptor.ProtocolVersion)
	q.Set("transport", "webSockets")
	q.Set("connectionToken", c.descriptor.ConnectionToken)
	q.Set("connectionData", string(hubs))
	q.Set("tid", strconv.FormatInt(time.Now().UnixMilli(), 10))

	u, err := url.Parse(strings.TrimRight(c.baseWSS, "/") + "/connect?" + q.Encode())
	if err != nil {
		return struct{}{}, fatal(err)
	}

	header := http.Header{}
	c.setCommonHeaders(header)

	// The descriptor's timeout is seconds; the reference client doubles
	// it and converts to milliseconds for the handshake deadline.
	handshakeTimeout := time.Duration(c.descriptor.TransportConnectTimeout*2000) * time.Millisecond

	sock, err := c.dial(ctx, *u, header, handshakeTimeout)
	if err != nil {
		var ur *unexpectedResponseError
		if errors.As(err, &ur) {
			if ur.statusCode == http.StatusUnauthorized || ur.statusCode == http.StatusForbidden {
				return struct{}{}, fatal(newRemoteError(ur.statusCode, "unexpected response"))
			}
			return struct{}{}, newRemoteError(ur.statusCode, "unexpected response")
		}
		return struct{}{}, err
	}
	c.socket = sock
	return struct{}{}, nil
}

func (c *Connection) phaseConnect(ctx context.Context) error {
	_, attempts, err := retryDo(ctx, retryConfig{Retries: c.cfg.ConnectRetries, MinDelay: c.cfg.RetryDelay}, c.isConnecting,
		c.connectOnce,
		func(a retryAttempt) {
			c.handler.onConnectionError(ConnectionErrorEvent{Step: "connect", Attempt: a.Attempt, Retry: true, Err: a.Err})
		},
	)
	if err != nil && !errors.Is(err, errRetryIgnored) {
		c.handler.onConnectionError(ConnectionErrorEvent{Step: "connect", Attempts: attempts, Retry: false, Err: err})
	}
	return err
}

func (c *Connection) startOnce(ctx context.Context) (struct{}, error) {
	reqURL, err := c.controlEndpointURL("start")
	if err != nil {
		return struct{}{}, fatal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return struct{}{}, fatal(err)
	}
	c.setCommonHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return struct{}{}, newClientError(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return struct{}{}, fatal(newRemoteError(resp.StatusCode, "start rejected"))
	}
	if resp.StatusCode != http.StatusOK {
		return struct{}{}, newRemoteError(resp.StatusCode, resp.Status)
	}
	return struct{}{}, nil
}

func (c *Connection) phaseStart(ctx context.Context) error {
	_, attempts, err := retryDo(ctx, retryConfig{Retries: c.cfg.StartRetries, MinDelay: c.cfg.RetryDelay}, c.isConnecting,
		c.startOnce,
		func(a retryAttempt) {
			c.handler.onConnectionError(ConnectionErrorEvent{Step: "start", Attempt: a.Attempt, Retry: true, Err: a.Err})
		},
	)
	if err != nil && !errors.Is(err, errRetryIgnored) {
		c.handler.onConnectionError(ConnectionErrorEvent{Step: "start", Attempts: attempts, Retry: false, Err: err})
	}
	return err
}

func (c *Connection) controlEndpointURL(step string) (string, error) {
	hubs, err := json.Marshal([]hubRef{{Name: c.cfg.HubName}})
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("clientProtocol", "1.5")
	q.Set("transport", "webSockets")
	q.Set("connectionToken", c.descriptor.ConnectionToken)
	q.Set("connectionData", string(hubs))
	return strings.TrimRight(c.baseHTTPS, "/") + "/" + step + "?" + q.Encode(), nil
}

// abortBestEffort notifies the front door the session is over. It only
// fires once start has completed, and failures are swallowed: by the
// time we call this, the socket is already going away.
func (c *Connection) abortBestEffort() {
	if !c.startReached {
		return
	}
	reqURL, err := c.controlEndpointURL("abort")
	if err != nil {
		c.logger.Warnf("signalr[%s]: abort: build url: %v", c.id, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warnf("signalr[%s]: abort: %v", c.id, err)
		return
	}
	c.setCommonHeaders(req.Header)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warnf("signalr[%s]: abort: %v", c.id, err)
		return
	}
	resp.Body.Close()
}

// setCommonHeaders applies the resolved user-agent and the solved cookie
// to every handshake and control request. The configured UserAgent
// overrides the challenge solver's when non-empty.
func (c *Connection) setCommonHeaders(header http.Header) {
	ua := c.cfg.UserAgent
	if ua == "" {
		ua = c.creds.UserAgent
	}
	if ua != "" {
		header.Set("User-Agent", ua)
	}
	if c.creds.Cookie != "" {
		header.Set("Cookie", c.creds.Cookie)
	}
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		data, err := c.socket.readMessage(context.Background())
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Connection) handleReadError(err error) {
	disp := closeDisposition(c.closeDisp.Load())
	if disp == closeDispositionProgrammatic || disp == closeDispositionSuppressed {
		return
	}
	if !c.state.compareAndSwap(StateConnected, StateDisconnected) {
		return
	}
	code, reason := closeInfoFromError(err)
	c.abortBestEffort()
	c.logger.Warnf("signalr[%s]: disconnected, code %d: %s", c.id, code, reason)
	c.handler.onDisconnected(DisconnectedEvent{ConnectionID: c.descriptor.ConnectionID, Code: code, Reason: reason})
}

func (c *Connection) handleFrame(data []byte) {
	if c.state.load() != StateConnected {
		return
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("{}")) {
		return // unacknowledged keep-alive placeholder
	}
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	if len(env.I) > 0 {
		c.handleReply(env)
		return
	}
	for _, raw := range env.M {
		c.handler.onData(raw)
	}
}

func (c *Connection) handleReply(env inboundEnvelope) {
	id, ok := parseInvocationID(env.I)
	if !ok {
		return
	}
	if len(env.D) > 0 {
		return // progress notification, discarded
	}
	c.pendingMu.Lock()
	cb, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !found {
		return
	}
	if len(env.R) > 0 {
		cb(env.R, nil)
		return
	}
	msg := ""
	if env.E != nil {
		msg = *env.E
	}
	cb(nil, newRemoteError(0, msg))
}

func (c *Connection) heartbeatLoop() {
	defer c.wg.Done()
	pingCtx := context.Background()
	if err := c.socket.ping(pingCtx); err != nil {
		return
	}
	t := newTimeTicker(c.cfg.PingTimeout)
	defer t.Stop()
	for range t.C() {
		if c.state.load() != StateConnected {
			return
		}
		if !c.isAlive.CompareAndSwap(true, false) {
			c.socket.close() // hard close, peer missed its pong
			return
		}
		if err := c.socket.ping(pingCtx); err != nil {
			return
		}
	}
}
