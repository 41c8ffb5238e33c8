// Package codec converts attribute values to and from their wire form.
//
// A value is any JSON-representable scalar, sequence or mapping. Values are
// first normalized into a canonical Go form so that the round-trip law
//
//	Decode(Encode(v)) == Normalize(v)
//
// holds for every supported v:
//
//	nil, bool, int64, float64, string, []any, map[string]any
//
// Integers decode as int64 and floats keep their float kind on the wire
// (2.0 is written as "2.0", not "2").
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrUnsupportedValue is returned for values outside the JSON domain.
var ErrUnsupportedValue = errors.New("unsupported value kind")

// Plainer is implemented by container views that can produce a disconnected
// canonical copy of themselves.
type Plainer interface {
	PlainValue() any
}

// Encode serializes v into its JSON wire form.
func Encode(v any) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(toWire(n))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return data, nil
}

// Decode parses a JSON wire form into a canonical value. The input must
// hold exactly one JSON value.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode value: trailing data after offset %d", dec.InputOffset())
	}
	return fromWire(v), nil
}

// toWire replaces float64 values with number literals that keep a fraction
// or exponent, so they decode back as floats.
func toWire(v any) any {
	switch x := v.(type) {
	case float64:
		return json.Number(formatFloat(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toWire(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toWire(e)
		}
		return out
	default:
		return v
	}
}

func fromWire(v any) any {
	switch x := v.(type) {
	case json.Number:
		return parseNumber(string(x))
	case []any:
		for i, e := range x {
			x[i] = fromWire(e)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = fromWire(e)
		}
		return x
	default:
		return v
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func parseNumber(s string) any {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return s
	}
	return f
}
