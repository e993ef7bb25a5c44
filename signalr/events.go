package signalr

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// OrderBookEntry is one rate/quantity entry from a bid or ask side.
type OrderBookEntry struct {
	Rate     decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBookSnapshot is emitted the first time, in a given session, that a
// pair's order book state arrives — either the reply to the initial
// state query, or (if that races or is skipped) the first delta push.
type OrderBookSnapshot struct {
	Pair string
	Cseq int64
	Bids []OrderBookEntry
	Asks []OrderBookEntry
}

// OrderBookUpdate is emitted for every subsequent delta to a pair's order
// book within the same session.
type OrderBookUpdate struct {
	Pair string
	Cseq int64
	Bids []OrderBookEntry
	Asks []OrderBookEntry
}

// TradesEvent carries trade executions that accompanied an order-book
// delta for a pair. Per-trade field decoding is left to the caller.
type TradesEvent struct {
	Pair string
	Data []json.RawMessage
}

// TickerEvent carries a ticker digest update for a pair. Field decoding
// beyond the pair name is left to the caller.
type TickerEvent struct {
	Pair string
	Data json.RawMessage
}

// SummaryEvent carries a market-summary delta across pairs. Field
// decoding of each element is left to the caller.
type SummaryEvent struct {
	Data []json.RawMessage
}

// ConnectedEvent is emitted once per Connection, after the handshake
// completes and the message pump is live.
type ConnectedEvent struct {
	ConnectionID string
}

// ConnectionErrorEvent is emitted after a handshake phase attempt fails.
// Retry is true for attempts the harness will retry, false for the one
// terminal failure that ends the handshake (Attempts then holds the
// total number of attempts made).
type ConnectionErrorEvent struct {
	Step     string // "negotiate", "connect", or "start"
	Attempt  int
	Attempts int
	Retry    bool
	Err      error
}

// DisconnectedEvent is emitted once, after the transport drops outside
// of a programmatic Disconnect or a watchdog-triggered reconnect.
type DisconnectedEvent struct {
	ConnectionID string
	Code         int
	Reason       string
}

// RawEvent is emitted for a hub push method the PayloadDecoder does not
// recognize, so consumers can observe methods this package has no typed
// event for without losing the data.
type RawEvent struct {
	Method string
	Args   []json.RawMessage
}
