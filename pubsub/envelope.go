package pubsub

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the routable content of a message body:
//
//	{"pattern": "mission-updated", "data": {"input": 4}}
type Envelope struct {
	Pattern string         `json:"pattern"`
	Data    map[string]any `json:"data"`
}

type wireEnvelope struct {
	Pattern json.RawMessage `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

var jsonNull = []byte("null")

// DecodeEnvelope parses a message body. Any body that is not a JSON object
// with a non-empty string pattern and an optional object data yields an
// error wrapping ErrInvalidEnvelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Envelope{}, invalidEnvelope("empty body", nil)
	}
	if raw[0] != '{' {
		return Envelope{}, invalidEnvelope("body is not an object", nil)
	}
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, invalidEnvelope("malformed json", err)
	}
	if len(wire.Pattern) == 0 || bytes.Equal(wire.Pattern, jsonNull) {
		return Envelope{}, invalidEnvelope("missing pattern", nil)
	}
	var pattern string
	if err := json.Unmarshal(wire.Pattern, &pattern); err != nil {
		return Envelope{}, invalidEnvelope("pattern is not a string", err)
	}
	if pattern == "" {
		return Envelope{}, invalidEnvelope("empty pattern", nil)
	}
	data := map[string]any{}
	if len(wire.Data) > 0 && !bytes.Equal(wire.Data, jsonNull) {
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			return Envelope{}, invalidEnvelope("data is not an object", err)
		}
		if data == nil {
			data = map[string]any{}
		}
	}
	return Envelope{Pattern: pattern, Data: data}, nil
}

func EncodeEnvelope(pattern string, data map[string]any) ([]byte, error) {
	if pattern == "" {
		return nil, invalidEnvelope("empty pattern", nil)
	}
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(Envelope{Pattern: pattern, Data: data})
}

func invalidEnvelope(reason string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, reason, cause)
	}
	return fmt.Errorf("%w: %s", ErrInvalidEnvelope, reason)
}
