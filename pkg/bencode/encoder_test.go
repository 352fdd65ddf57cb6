package bencode

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
)

func encodeToString(t *testing.T, v any) string {
	t.Helper()

	var buf bytes.Buffer
	e := NewEncoder(&buf)

	if err := e.Encode(v); err != nil {
		t.Fatalf("Encode(%T) error: %v", v, err)
	}
	return buf.String()
}

func TestEncode_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "spam", "4:spam"},
		{"empty-string", "", "0:"},
		{"bytes", []byte("eggs"), "4:eggs"},

		{"bool-true", true, "i1e"},
		{"bool-false", false, "i0e"},

		{"int-1", int(-1), "i-1e"},
		{"int0", int(0), "i0e"},
		{"int42", int(42), "i42e"},
		{"int8-8", int8(-8), "i-8e"},
		{"int16", int16(32000), "i32000e"},
		{"int32", int32(-123456), "i-123456e"},
		{"int64", int64(9007199254740991), "i9007199254740991e"},

		{"uint0", uint(0), "i0e"},
		{"uint42", uint(42), "i42e"},
		{"uint8", uint8(255), "i255e"},
		{"uint16", uint16(65535), "i65535e"},
		{"uint32", uint32(4000000000), "i4000000000e"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := encodeToString(t, tc.in)

			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}

	t.Run("uint64-max", func(t *testing.T) {
		max := ^uint64(0)
		got := encodeToString(t, max)

		want := "i" + strconv.FormatUint(max, 10) + "e"
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
}

func TestEncode_Collections(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{
			name: "slice-nested",
			in:   []any{int64(1), "spam", false, []any{"nested", int(2)}},
			want: "li1e4:spami0el6:nestedi2eee",
		},
		{
			name: "dict-sorted-keys",
			in: map[string]any{
				"b": int(2),
				"a": int(1),
				"c": []any{"x", int(3)},
			},
			want: "d1:ai1e1:bi2e1:cl1:xi3eee",
		},
		{
			name: "nested-structures",
			in: map[string]any{
				"info": map[string]any{
					"name":   "ubuntu.iso",
					"length": int64(1024),
					"pieces": []any{"abc", "def"},
				},
				"announce": "http://tracker",
			},
			want: "d8:announce14:http://tracker4:infod6:lengthi1024e4:name10:ubuntu.iso6:piecesl3:abc3:defeee",
		},
		{
			name: "name-value-pair",
			in: map[string]any{
				"name":  "example",
				"value": int(42),
			},
			want: "d4:name7:example5:valuei42ee",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := encodeToString(t, tc.in)

			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr error
	}{
		{name: "list", in: []any{"a", int(1)}, want: "l1:ai1ee"},
		{name: "unsupported", in: struct{}{}, wantErr: ErrUnsupportedType},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Marshal(tc.in)

			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := string(b)
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	v := map[string]any{"z": int(1), "a": int(2), "m": []any{"x", "y"}}

	a, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Fatalf("Marshal not deterministic: %q != %q", a, b)
	}
}

func TestRoundTrip(t *testing.T) {
	values := []any{
		"spam",
		"",
		int64(0),
		int64(-1),
		int64(42),
		[]any{"a", int64(1), []any{"nested"}},
		map[string]any{"a": int64(1), "b": "x"},
	}

	for _, v := range values {
		encoded, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%#v) error: %v", v, err)
		}

		decoded, err := Unmarshal(encoded)
		if err != nil {
			t.Fatalf("Unmarshal(%q) error: %v", encoded, err)
		}

		if !valuesEqual(v, decoded) {
			t.Fatalf("round trip mismatch: %#v != %#v", v, decoded)
		}
	}
}

// valuesEqual compares decoded []any/map[string]any trees where the
// encoder accepted Go types (int, int64, ...) that the decoder always
// normalizes to int64.
func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case int:
		return valuesEqual(int64(x), b)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			yv, ok := y[k]
			if !ok || !valuesEqual(v, yv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
