package codec_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/sharedmem/codec"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "null", value: nil},
		{name: "true", value: true},
		{name: "false", value: false},
		{name: "int", value: int64(42)},
		{name: "negative int", value: int64(-7)},
		{name: "max int64", value: int64(math.MaxInt64)},
		{name: "float", value: 3.25},
		{name: "integral float", value: 2.0},
		{name: "tiny float", value: 1e-12},
		{name: "huge float", value: 1e300},
		{name: "string", value: "hello"},
		{name: "unicode string", value: "héllo ✓"},
		{name: "empty list", value: []any{}},
		{name: "empty map", value: map[string]any{}},
		{name: "mixed list", value: []any{int64(1), "two", 3.5, nil, true}},
		{name: "nested", value: map[string]any{
			"a": []any{int64(1), map[string]any{"b": []any{"c", 2.0}}},
			"d": map[string]any{},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode(%s) error = %v", data, err)
			}
			if diff := cmp.Diff(tt.value, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	type label string

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "int", value: 5, want: int64(5)},
		{name: "int8", value: int8(-3), want: int64(-3)},
		{name: "uint16", value: uint16(9), want: int64(9)},
		{name: "huge uint64", value: uint64(math.MaxUint64), want: float64(math.MaxUint64)},
		{name: "float32", value: float32(1.5), want: 1.5},
		{name: "named string", value: label("x"), want: "x"},
		{name: "typed slice", value: []int{1, 2}, want: []any{int64(1), int64(2)}},
		{name: "nil slice", value: []string(nil), want: []any{}},
		{name: "array", value: [2]string{"a", "b"}, want: []any{"a", "b"}},
		{name: "typed map", value: map[string]int{"a": 1}, want: map[string]any{"a": int64(1)}},
		{name: "pointer", value: ptr(7), want: int64(7)},
		{name: "nil pointer", value: (*int)(nil), want: nil},
		{name: "plainer", value: fakePlain{v: []any{"x"}}, want: []any{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Normalize(tt.value)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_DoesNotAlias(t *testing.T) {
	in := []any{map[string]any{"a": int64(1)}}
	out, err := codec.Normalize(in)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	out.([]any)[0].(map[string]any)["a"] = int64(2)

	if in[0].(map[string]any)["a"] != int64(1) {
		t.Error("Normalize() result aliases its input")
	}
}

func TestEncode_Unsupported(t *testing.T) {
	type point struct{ X int }

	tests := []struct {
		name  string
		value any
	}{
		{name: "func", value: func() {}},
		{name: "channel", value: make(chan int)},
		{name: "complex", value: complex(1, 2)},
		{name: "NaN", value: math.NaN()},
		{name: "infinity", value: math.Inf(1)},
		{name: "struct", value: point{X: 1}},
		{name: "bytes", value: []byte("raw")},
		{name: "int keyed map", value: map[int]string{1: "a"}},
		{name: "nested func", value: map[string]any{"ok": []any{1, func() {}}}},
		{name: "invalid UTF-8 string", value: "a\xffb"},
		{name: "invalid UTF-8 nested string", value: []any{"ok", "b\xfe"}},
		{name: "invalid UTF-8 map key", value: map[string]any{"k\xfe": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Encode(tt.value)
			if !errors.Is(err, codec.ErrUnsupportedValue) {
				t.Errorf("Encode() error = %v, want ErrUnsupportedValue", err)
			}
		})
	}
}

func TestEncode_SortedKeys(t *testing.T) {
	data, err := codec.Encode(map[string]any{"b": 1, "a": 2, "c": 3})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got, want := string(data), `{"a":2,"b":1,"c":3}`; got != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}
}

func TestEncode_IntegralFloatKeepsFraction(t *testing.T) {
	data, err := codec.Encode(2.0)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != "2.0" {
		t.Errorf("Encode(2.0) = %s, want 2.0", data)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []string{
		"{not json",
		"",
		"1 x",
		"true story",
		"[1] extra",
		`"a" "b"`,
		`{"a":1}}`,
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			if v, err := codec.Decode([]byte(input)); err == nil {
				t.Errorf("Decode(%q) = %v, want error", input, v)
			}
		})
	}
}

func TestDecode_TrailingWhitespace(t *testing.T) {
	v, err := codec.Decode([]byte("[1, 2] \n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff([]any{int64(1), int64(2)}, v); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvelope(t *testing.T) {
	value := map[string]any{"items": []any{int64(1), int64(2)}}

	data, err := codec.EncodeEnvelope(value, 1700000000123456789)
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}

	env, err := codec.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if env.LastModified != 1700000000123456789 {
		t.Errorf("LastModified = %d, want 1700000000123456789", env.LastModified)
	}
	if diff := cmp.Diff(value, env.Value); diff != "" {
		t.Errorf("Value mismatch (-want +got):\n%s", diff)
	}
	if got := codec.LastModified(data); got != 1700000000123456789 {
		t.Errorf("LastModified() = %d", got)
	}
}

func TestEnvelope_WireFormat(t *testing.T) {
	data, err := codec.EncodeEnvelope("x", 5)
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}
	if got, want := string(data), `{"last_modified":5,"value":"x"}`; got != want {
		t.Errorf("EncodeEnvelope() = %s, want %s", got, want)
	}
}

func TestDecodeEnvelope_BareValue(t *testing.T) {
	tests := []struct {
		name string
		data string
		want any
	}{
		{name: "scalar", data: `42`, want: int64(42)},
		{name: "plain map", data: `{"value":1}`, want: map[string]any{"value": int64(1)}},
		{name: "extra keys", data: `{"value":1,"last_modified":2,"x":3}`,
			want: map[string]any{"value": int64(1), "last_modified": int64(2), "x": int64(3)}},
		{name: "non numeric stamp", data: `{"value":1,"last_modified":"soon"}`,
			want: map[string]any{"value": int64(1), "last_modified": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := codec.DecodeEnvelope([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeEnvelope() error = %v", err)
			}
			if env.LastModified != 0 {
				t.Errorf("LastModified = %d, want 0", env.LastModified)
			}
			if diff := cmp.Diff(tt.want, env.Value); diff != "" {
				t.Errorf("Value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLastModified_Garbage(t *testing.T) {
	if got := codec.LastModified([]byte("garbage")); got != 0 {
		t.Errorf("LastModified(garbage) = %d, want 0", got)
	}
	if got := codec.LastModified(nil); got != 0 {
		t.Errorf("LastModified(nil) = %d, want 0", got)
	}
}

func TestClone(t *testing.T) {
	orig := map[string]any{"a": []any{int64(1), map[string]any{"b": "c"}}}
	cp := codec.Clone(orig).(map[string]any)

	cp["a"].([]any)[1].(map[string]any)["b"] = "changed"
	if orig["a"].([]any)[1].(map[string]any)["b"] != "c" {
		t.Error("Clone() shares nested containers with the original")
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{name: "ints", a: int64(1), b: int64(1), want: true},
		{name: "int float", a: int64(2), b: 2.0, want: true},
		{name: "different", a: "a", b: "b", want: false},
		{name: "kinds", a: "1", b: int64(1), want: false},
		{name: "lists", a: []any{int64(1), "x"}, b: []any{int64(1), "x"}, want: true},
		{name: "list lengths", a: []any{int64(1)}, b: []any{int64(1), int64(2)}, want: false},
		{name: "maps", a: map[string]any{"k": nil}, b: map[string]any{"k": nil}, want: true},
		{name: "map values", a: map[string]any{"k": true}, b: map[string]any{"k": false}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codec.Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		a, b   any
		want   int
		wantOK bool
	}{
		{name: "ints", a: int64(1), b: int64(2), want: -1, wantOK: true},
		{name: "int float", a: 2.5, b: int64(2), want: 1, wantOK: true},
		{name: "strings", a: "b", b: "b", want: 0, wantOK: true},
		{name: "bools", a: false, b: true, want: -1, wantOK: true},
		{name: "mixed", a: "1", b: int64(1), wantOK: false},
		{name: "nil", a: nil, b: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := codec.Compare(tt.a, tt.b)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("Compare(%v, %v) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

type fakePlain struct{ v any }

func (f fakePlain) PlainValue() any { return f.v }

func ptr[T any](v T) *T { return &v }
