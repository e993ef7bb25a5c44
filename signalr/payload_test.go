package signalr

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawArgs(t *testing.T, v interface{}) []json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return []json.RawMessage{b}
}

func TestDecode_OrderBookState(t *testing.T) {
	wire := map[string]interface{}{
		"MarketName": "BTC-USD",
		"Nonce":      7,
		"Buys":       []map[string]string{{"Rate": "100.5", "Quantity": "2"}},
		"Sells":      []map[string]string{{"Rate": "101.0", "Quantity": "1"}},
		"Fills":      []map[string]string{{"Rate": "100.7", "Quantity": "0.5"}},
	}
	dec := DefaultPayloadDecoder()
	result, err := dec.Decode("updateExchangeState", rawArgs(t, wire))
	require.NoError(t, err)
	state, ok := result.(OrderBookState)
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", state.Pair)
	assert.Equal(t, int64(7), state.Cseq)
	require.Len(t, state.Bids, 1)
	assert.True(t, decimal.RequireFromString("100.5").Equal(state.Bids[0].Rate))
	require.Len(t, state.Fills, 1)
}

func TestDecode_QueryExchangeStateSharesShape(t *testing.T) {
	wire := map[string]interface{}{"MarketName": "ETH-USD", "Nonce": 1, "Buys": []interface{}{}, "Sells": []interface{}{}}
	dec := DefaultPayloadDecoder()
	result, err := dec.Decode("QueryExchangeState", rawArgs(t, wire))
	require.NoError(t, err)
	_, ok := result.(OrderBookState)
	assert.True(t, ok)
}

func TestDecode_Ticker(t *testing.T) {
	wire := map[string]interface{}{"MarketName": "BTC-USD", "Bid": "1", "Ask": "2"}
	dec := DefaultPayloadDecoder()
	result, err := dec.Decode("updateExchangeStateLite", rawArgs(t, wire))
	require.NoError(t, err)
	ticker, ok := result.(TickerEvent)
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", ticker.Pair)
}

func TestDecode_Summary(t *testing.T) {
	wire := map[string]interface{}{"Deltas": []map[string]string{{"MarketName": "BTC-USD"}}}
	dec := DefaultPayloadDecoder()
	result, err := dec.Decode("updateSummaryState", rawArgs(t, wire))
	require.NoError(t, err)
	summary, ok := result.(SummaryEvent)
	require.True(t, ok)
	assert.Len(t, summary.Data, 1)
}

func TestDecode_UnknownMethodFallsBackToRawEvent(t *testing.T) {
	dec := DefaultPayloadDecoder()
	result, err := dec.Decode("someFutureMethod", rawArgs(t, map[string]string{"x": "y"}))
	require.NoError(t, err)
	raw, ok := result.(RawEvent)
	require.True(t, ok)
	assert.Equal(t, "someFutureMethod", raw.Method)
}

func TestDecode_OrderBookMissingArgsErrors(t *testing.T) {
	dec := DefaultPayloadDecoder()
	_, err := dec.Decode("updateExchangeState", nil)
	assert.Error(t, err)
}

func TestDecode_SummaryMissingArgsIsEmptyNotError(t *testing.T) {
	dec := DefaultPayloadDecoder()
	result, err := dec.Decode("updateSummaryState", nil)
	require.NoError(t, err)
	assert.Equal(t, SummaryEvent{}, result)
}
