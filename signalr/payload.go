package signalr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PayloadDecoder turns one hub push method name and its raw argument
// array into a typed value. Decoding rules beyond what the Facade needs
// for session-coherence framing (telling an order-book snapshot from an
// update) are the decoder's responsibility, not the Facade's.
type PayloadDecoder interface {
	Decode(method string, args []json.RawMessage) (interface{}, error)
}

type jsonPayloadDecoder struct{}

// DefaultPayloadDecoder recognizes this hub's order-book, ticker and
// summary push methods; anything else decodes to a RawEvent.
func DefaultPayloadDecoder() PayloadDecoder { return jsonPayloadDecoder{} }

func (jsonPayloadDecoder) Decode(method string, args []json.RawMessage) (interface{}, error) {
	switch strings.ToLower(method) {
	case "queryexchangestate", "updateexchangestate":
		return decodeOrderBookState(args)
	case "updateexchangestatelite":
		return decodeTicker(args)
	case "updatesummarystate", "updatesummarystate_lite":
		return decodeSummary(args)
	default:
		return RawEvent{Method: method, Args: args}, nil
	}
}

// OrderBookState is the decoded order-book shape shared by the initial
// state query reply and every subsequent delta push. The Facade frames
// the first one it sees per pair, per session, as a snapshot and every
// one after that as an update.
type OrderBookState struct {
	Pair  string
	Cseq  int64
	Bids  []OrderBookEntry
	Asks  []OrderBookEntry
	Fills []json.RawMessage
}

type orderBookWire struct {
	MarketName string            `json:"MarketName"`
	Nonce      int64             `json:"Nonce"`
	Buys       []wireBookEntry   `json:"Buys"`
	Sells      []wireBookEntry   `json:"Sells"`
	Fills      []json.RawMessage `json:"Fills"`
}

type wireBookEntry struct {
	Rate     decimal.Decimal `json:"Rate"`
	Quantity decimal.Decimal `json:"Quantity"`
}

func decodeOrderBookState(args []json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("signalr: order book push carries no arguments")
	}
	var wire orderBookWire
	if err := json.Unmarshal(args[0], &wire); err != nil {
		return nil, fmt.Errorf("signalr: decode order book: %w", err)
	}
	return OrderBookState{
		Pair:  wire.MarketName,
		Cseq:  wire.Nonce,
		Bids:  toEntries(wire.Buys),
		Asks:  toEntries(wire.Sells),
		Fills: wire.Fills,
	}, nil
}

func toEntries(in []wireBookEntry) []OrderBookEntry {
	out := make([]OrderBookEntry, len(in))
	for i, e := range in {
		out[i] = OrderBookEntry{Rate: e.Rate, Quantity: e.Quantity}
	}
	return out
}

type tickerWire struct {
	MarketName string `json:"MarketName"`
}

func decodeTicker(args []json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("signalr: ticker push carries no arguments")
	}
	var wire tickerWire
	if err := json.Unmarshal(args[0], &wire); err != nil {
		return nil, fmt.Errorf("signalr: decode ticker: %w", err)
	}
	return TickerEvent{Pair: wire.MarketName, Data: args[0]}, nil
}

type summaryWire struct {
	Deltas []json.RawMessage `json:"Deltas"`
}

func decodeSummary(args []json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		return SummaryEvent{}, nil
	}
	var wire summaryWire
	if err := json.Unmarshal(args[0], &wire); err != nil {
		return nil, fmt.Errorf("signalr: decode summary: %w", err)
	}
	return SummaryEvent{Data: wire.Deltas}, nil
}
