package signalr

import (
	"encoding/json"
	"strconv"
	"strings"
)

// hubRef is one entry of the connectionData query parameter SignalR
// expects: the hub the client wants to join.
type hubRef struct {
	Name string `json:"name"`
}

// hubInvocation is the outbound invocation frame: {"H","M","A","I"}.
type hubInvocation struct {
	H string        `json:"H"`
	M string        `json:"M"`
	A []interface{} `json:"A"`
	I uint32        `json:"I"`
}

// inboundEnvelope covers every inbound frame shape this protocol uses: a
// reply/progress/error (I set) or a push of hub invocations (M set).
type inboundEnvelope struct {
	I json.RawMessage   `json:"I,omitempty"`
	R json.RawMessage   `json:"R,omitempty"`
	E *string           `json:"E,omitempty"`
	D json.RawMessage   `json:"D,omitempty"`
	M []json.RawMessage `json:"M,omitempty"`
}

// hubPush is one element of an inbound M array: a push invocation the hub
// makes with no reply expected.
type hubPush struct {
	M string            `json:"M"`
	A []json.RawMessage `json:"A"`
}

// parseInvocationID accepts either bare-numeric or quoted-string encodings
// of an invocation id, since this protocol echoes replies with I as a
// quoted string while outbound invocations encode it as a bare number.
func parseInvocationID(raw json.RawMessage) (uint32, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	s := strings.Trim(string(raw), `"`)
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}
