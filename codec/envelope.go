package codec

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Envelope is the stored form of an attribute: the value plus the writer's
// modification time in Unix nanoseconds. Replays and syncs compare
// LastModified to decide which side is newer.
type Envelope struct {
	Value        any
	LastModified int64
}

type wireEnvelope struct {
	LastModified int64 `json:"last_modified"`
	Value        any   `json:"value"`
}

// EncodeEnvelope serializes v with its modification time.
func EncodeEnvelope(v any, lastModified int64) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(wireEnvelope{LastModified: lastModified, Value: toWire(n)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return data, nil
}

// DecodeEnvelope parses a stored attribute. Payloads written without an
// envelope (by other clients) are returned as bare values with
// LastModified zero.
func DecodeEnvelope(data []byte) (Envelope, error) {
	v, err := Decode(data)
	if err != nil {
		return Envelope{}, err
	}

	if m, ok := v.(map[string]any); ok && len(m) == 2 {
		value, hasValue := m["value"]
		ts, hasTS := m["last_modified"]
		if hasValue && hasTS {
			if stamp, ok := stampOf(ts); ok {
				return Envelope{Value: value, LastModified: stamp}, nil
			}
		}
	}
	return Envelope{Value: v}, nil
}

// LastModified extracts the modification time of a stored attribute, or
// zero when the payload carries none or cannot be decoded.
func LastModified(data []byte) int64 {
	if len(data) == 0 {
		return 0
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		return 0
	}
	return env.LastModified
}

func stampOf(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}
