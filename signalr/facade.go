package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Facade is the state machine above a Connection: it drives reconnection
// with backoff, owns the Registry, re-applies subscriptions after every
// (re)connect, translates raw hub pushes into typed domain events, and
// fans them out to registered Listeners. Callers see a single logical
// stream; reconnects are entirely internal.
type Facade struct {
	opts     *facadeOptions
	registry *Registry

	mu         sync.Mutex
	current    *Connection
	terminated bool

	credsMu sync.Mutex
	creds   Credentials

	reconnectMu       sync.Mutex
	reconnectAttempts int

	doneCh   chan struct{}
	doneOnce sync.Once

	listenersMu sync.Mutex
	listeners   []*listenerQueue

	seenPairsMu sync.Mutex
	seenPairs   map[string]struct{}

	watchdogs map[string]*watchdog
}

var _ connEventHandler = (*Facade)(nil)

// NewFacade constructs a Facade. It does not connect; call Connect.
func NewFacade(opts ...Option) *Facade {
	o := defaultFacadeOptions()
	for _, opt := range opts {
		opt(o)
	}
	f := &Facade{
		opts:      o,
		registry:  NewRegistry(),
		seenPairs: make(map[string]struct{}),
		watchdogs: make(map[string]*watchdog),
		doneCh:    make(chan struct{}),
	}
	for _, name := range []string{FeedNameMarkets, FeedNameTickers, FeedNameSummary} {
		feed := name
		f.watchdogs[feed] = newWatchdog(feed, o.watchdogs[feed], o.logger, func() { f.onWatchdogFire(feed) })
	}
	return f
}

// AddListener registers a Listener that receives every domain event this
// Facade produces from this point on.
func (f *Facade) AddListener(l Listener) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	name := fmt.Sprintf("listener-%d", len(f.listeners))
	f.listeners = append(f.listeners, newListenerQueue(name, f.opts.listenerBufferSize, f.opts.logger, l))
}

func (f *Facade) broadcast(event interface{}) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	for _, l := range f.listeners {
		l.push(event)
	}
}

// Connect solves credentials via the configured ChallengeSolver and
// establishes the first Connection. The solver is invoked exactly once:
// every later reconnect reuses the same Credentials for the Facade's
// lifetime.
func (f *Facade) Connect(ctx context.Context) error {
	if f.opts.solver == nil {
		return fmt.Errorf("signalr: no ChallengeSolver configured")
	}
	creds, err := f.opts.solver.Solve(ctx)
	if err != nil {
		return fmt.Errorf("signalr: challenge solver: %w", err)
	}
	f.credsMu.Lock()
	f.creds = creds
	f.credsMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return ErrFacadeTerminated
	}
	f.startConnectionLocked(ctx, creds)
	return nil
}

func (f *Facade) startConnectionLocked(ctx context.Context, creds Credentials) {
	conn := newConnection(f.opts.baseHTTPS, f.opts.baseWSS, creds, f.opts.handshake, f.opts.httpClient, dialGorillaWebsocket, f.opts.logger, f)
	f.current = conn
	conn.Connect(ctx)
}

// Disconnect tears the Facade down: the current Connection is closed
// programmatically, all watchdogs are disarmed, no further reconnects
// are scheduled, and every Listener's mailbox is closed.
func (f *Facade) Disconnect() {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return
	}
	f.terminated = true
	conn := f.current
	f.mu.Unlock()

	f.doneOnce.Do(func() { close(f.doneCh) })
	f.disarmAllWatchdogs()
	if conn != nil {
		conn.Disconnect()
	}

	f.listenersMu.Lock()
	for _, l := range f.listeners {
		l.close()
	}
	f.listeners = nil
	f.listenersMu.Unlock()
}

func (f *Facade) disarmAllWatchdogs() {
	for _, w := range f.watchdogs {
		w.disarm()
	}
}

// --- connEventHandler ---

func (f *Facade) onConnected(connectionID string) {
	f.reconnectMu.Lock()
	f.reconnectAttempts = 0
	f.reconnectMu.Unlock()

	f.seenPairsMu.Lock()
	f.seenPairs = make(map[string]struct{})
	f.seenPairsMu.Unlock()

	f.broadcast(ConnectedEvent{ConnectionID: connectionID})

	f.mu.Lock()
	conn := f.current
	f.mu.Unlock()
	if conn != nil {
		f.applyFullSnapshot(conn)
	}
}

func (f *Facade) onData(raw json.RawMessage) {
	var push hubPush
	if err := json.Unmarshal(raw, &push); err != nil {
		return
	}
	decoded, err := f.opts.payloadDecoder.Decode(push.M, push.A)
	if err != nil {
		f.opts.logger.Warnf("signalr: decode push %q: %v", push.M, err)
		return
	}
	switch v := decoded.(type) {
	case OrderBookState:
		f.dispatchOrderBook(v)
	case TickerEvent:
		f.watchdogs[FeedNameTickers].touch()
		f.broadcast(v)
	case SummaryEvent:
		f.watchdogs[FeedNameSummary].touch()
		f.broadcast(v)
	default:
		f.broadcast(decoded)
	}
}

func (f *Facade) onConnectionError(evt ConnectionErrorEvent) {
	f.broadcast(evt)
	if !evt.Retry {
		f.scheduleReconnect()
	}
}

func (f *Facade) onDisconnected(evt DisconnectedEvent) {
	f.disarmAllWatchdogs()
	f.broadcast(evt)
	f.scheduleReconnect()
}

// --- reconnection ---

func (f *Facade) scheduleReconnect() {
	f.mu.Lock()
	terminated := f.terminated
	f.mu.Unlock()
	if terminated {
		return
	}

	if f.opts.reconnectLimit > 0 {
		f.reconnectMu.Lock()
		f.reconnectAttempts++
		exceeded := f.reconnectAttempts > f.opts.reconnectLimit
		f.reconnectMu.Unlock()
		if exceeded {
			f.opts.logger.Errorf("signalr: reconnect limit exceeded, giving up")
			return
		}
	}

	go func() {
		t := time.NewTimer(f.opts.reconnectDelay)
		defer t.Stop()
		select {
		case <-f.doneCh:
			return
		case <-t.C:
		}

		f.credsMu.Lock()
		creds := f.creds
		f.credsMu.Unlock()

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.terminated {
			return
		}
		f.startConnectionLocked(context.Background(), creds)
	}()
}

func (f *Facade) onWatchdogFire(feed string) {
	f.mu.Lock()
	conn := f.current
	terminated := f.terminated
	f.mu.Unlock()
	if conn == nil || terminated {
		return
	}
	f.opts.logger.Warnf("signalr: watchdog %s triggered a reconnect", feed)
	conn.Disconnect() // programmatic: no DisconnectedEvent reaches listeners
	f.disarmAllWatchdogs()
	f.scheduleReconnect()
}

// --- subscription replay ---

func (f *Facade) applyFullSnapshot(conn *Connection) {
	snap := f.registry.Snapshot()
	for _, pair := range snap.Markets {
		f.subscribeMarketOnWire(conn, pair)
	}
	for _, pair := range snap.Tickers {
		f.subscribeTickerOnWire(conn, pair)
	}
	if snap.Summary {
		f.subscribeSummaryOnWire(conn)
	}
}

func (f *Facade) subscribeMarketOnWire(conn *Connection, pair string) {
	conn.Invoke(f.opts.hubMethods.SubscribeMarket, []interface{}{pair}, nil)
	conn.Invoke(f.opts.hubMethods.QueryMarketState, []interface{}{pair}, func(raw json.RawMessage, err error) {
		if err != nil {
			f.opts.logger.Warnf("signalr: query state for %s: %v", pair, err)
			return
		}
		decoded, err := f.opts.payloadDecoder.Decode(f.opts.hubMethods.QueryMarketState, []json.RawMessage{raw})
		if err != nil {
			f.opts.logger.Warnf("signalr: decode state for %s: %v", pair, err)
			return
		}
		if state, ok := decoded.(OrderBookState); ok {
			f.dispatchOrderBook(state)
		}
	})
	f.watchdogs[FeedNameMarkets].arm()
}

func (f *Facade) subscribeTickerOnWire(conn *Connection, pair string) {
	conn.Invoke(f.opts.hubMethods.SubscribeTicker, []interface{}{pair}, nil)
	f.watchdogs[FeedNameTickers].arm()
}

func (f *Facade) subscribeSummaryOnWire(conn *Connection) {
	conn.Invoke(f.opts.hubMethods.SubscribeSummary, []interface{}{}, nil)
	conn.Invoke(f.opts.hubMethods.SubscribeSummaryLite, []interface{}{}, nil)
	f.watchdogs[FeedNameSummary].arm()
}

func (f *Facade) dispatchOrderBook(state OrderBookState) {
	f.watchdogs[FeedNameMarkets].touch()

	f.seenPairsMu.Lock()
	_, seen := f.seenPairs[state.Pair]
	f.seenPairs[state.Pair] = struct{}{}
	f.seenPairsMu.Unlock()

	if !seen {
		f.broadcast(OrderBookSnapshot{Pair: state.Pair, Cseq: state.Cseq, Bids: state.Bids, Asks: state.Asks})
	} else {
		f.broadcast(OrderBookUpdate{Pair: state.Pair, Cseq: state.Cseq, Bids: state.Bids, Asks: state.Asks})
	}
	if len(state.Fills) > 0 {
		f.broadcast(TradesEvent{Pair: state.Pair, Data: state.Fills})
	}
}

// --- subscription mutators ---
//
// None of these throw on a protocol-level subscribe failure: the
// Registry is the source of truth and is updated synchronously; the wire
// effect is best-effort when CONNECTED and deferred to the next
// CONNECTED entry otherwise. Failures surface only as events.

// SubscribeToMarkets adds (or, if replace, sets) the desired set of
// market pairs.
func (f *Facade) SubscribeToMarkets(pairs []string, replace bool) error {
	return f.mutate(FeedMarkets, pairs, replace, true)
}

// UnsubscribeFromMarkets removes pairs from the desired market set.
// Since this hub has no unsubscribe control message, this only updates
// local bookkeeping — the caller simply stops seeing events it cares
// about filtering itself, or a fresh reconnect naturally drops it.
func (f *Facade) UnsubscribeFromMarkets(pairs []string) error {
	return f.mutate(FeedMarkets, pairs, false, false)
}

// SubscribeToTickers adds (or, if replace, sets) the desired set of
// ticker pairs.
func (f *Facade) SubscribeToTickers(pairs []string, replace bool) error {
	return f.mutate(FeedTickers, pairs, replace, true)
}

// UnsubscribeFromTickers removes pairs from the desired ticker set.
func (f *Facade) UnsubscribeFromTickers(pairs []string) error {
	return f.mutate(FeedTickers, pairs, false, false)
}

// SubscribeToSummary enables the market-summary feed.
func (f *Facade) SubscribeToSummary() error {
	return f.mutateSummary(true)
}

// UnsubscribeFromSummary disables the market-summary feed.
func (f *Facade) UnsubscribeFromSummary() error {
	return f.mutateSummary(false)
}

func (f *Facade) mutate(category FeedCategory, pairs []string, replace, subscribing bool) error {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return ErrFacadeTerminated
	}
	conn := f.current
	f.mu.Unlock()

	previous := f.registry.Snapshot()
	switch {
	case replace:
		f.registry.Replace(category, pairs)
	case subscribing:
		f.registry.Add(category, pairs)
	default:
		f.registry.Remove(category, pairs)
	}

	if conn == nil || conn.State() != StateConnected {
		return nil // takes effect on next CONNECTED entry
	}
	if !subscribing && !replace {
		return nil // pure removal: nothing to push
	}

	current := f.registry.Snapshot()
	toSub := diffToSubscribe(category, previous, current)
	for _, pair := range toSub {
		switch category {
		case FeedMarkets:
			f.subscribeMarketOnWire(conn, pair)
		case FeedTickers:
			f.subscribeTickerOnWire(conn, pair)
		}
	}
	return nil
}

func diffToSubscribe(category FeedCategory, previous, current SubscriptionSnapshot) []string {
	switch category {
	case FeedMarkets:
		return setDifference(current.Markets, previous.Markets)
	case FeedTickers:
		return setDifference(current.Tickers, previous.Tickers)
	default:
		return nil
	}
}

func (f *Facade) mutateSummary(enabled bool) error {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return ErrFacadeTerminated
	}
	conn := f.current
	f.mu.Unlock()

	f.registry.SetSummary(enabled)

	if conn == nil || conn.State() != StateConnected {
		return nil
	}
	if enabled {
		f.subscribeSummaryOnWire(conn)
	}
	return nil
}

// Snapshot returns the Facade's current desired subscription state.
func (f *Facade) Snapshot() SubscriptionSnapshot { return f.registry.Snapshot() }
