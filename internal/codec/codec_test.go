package codec

import (
	"bytes"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func item(key string, cols map[string]string) map[string]types.AttributeValue {
	out := ItemKey([]byte(key))
	for name, value := range cols {
		out[EncodeKey([]byte(name))] = Value([]byte(value))
	}
	return out
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = string(c.Name)
	}
	return out
}

func equalNames(got []Column, want ...string) bool {
	n := names(got)
	if len(n) != len(want) {
		return false
	}
	for i := range n {
		if n[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEncodeDecodeKey(t *testing.T) {
	for _, in := range [][]byte{{0x00}, {0xff, 0x00, 0x10}, []byte("vertex-42")} {
		enc := EncodeKey(in)
		out, err := DecodeKey(enc)
		if err != nil {
			t.Fatalf("DecodeKey(%q): %v", enc, err)
		}
		if !bytes.Equal(in, out) {
			t.Errorf("round trip of %x gave %x", in, out)
		}
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	it := item("K", map[string]string{"c": "v3", "a": "v1", "b": "v2"})

	got := Decode(it, []byte{}, nil, 0)
	if !equalNames(got, "a", "b", "c") {
		t.Fatalf("expected [a b c], got %v", names(got))
	}
	for i, want := range []string{"v1", "v2", "v3"} {
		if string(got[i].Value) != want {
			t.Errorf("column %s: expected %q, got %q", got[i].Name, want, got[i].Value)
		}
	}
}

func TestDecode_NeverSurfacesKeyAttribute(t *testing.T) {
	it := item("K", map[string]string{"a": "1"})
	for _, c := range Decode(it, nil, nil, 0) {
		if string(c.Name) == HashKey {
			t.Fatal("reserved key attribute surfaced as a column")
		}
	}
	if got := Decode(ItemKey([]byte("K")), nil, nil, 0); len(got) != 0 {
		t.Errorf("expected no columns for key-only item, got %d", len(got))
	}
}

func TestDecode_SliceBounds(t *testing.T) {
	it := item("K", map[string]string{"a": "1", "b": "2", "c": "3"})

	tests := []struct {
		name       string
		start, end []byte
		limit      int
		want       []string
	}{
		{"b to c", []byte("b"), []byte("c"), 0, []string{"b"}},
		{"a to c", []byte("a"), []byte("c"), 0, []string{"a", "b"}},
		{"limit one", nil, nil, 1, []string{"a"}},
		{"unbounded end", []byte("b"), nil, 0, []string{"b", "c"}},
		{"empty range", []byte("c"), []byte("c"), 0, nil},
		{"start past all", []byte("d"), nil, 0, nil},
		{"limit larger than row", nil, nil, 10, []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(it, tt.start, tt.end, tt.limit)
			if !equalNames(got, tt.want...) {
				t.Errorf("expected %v, got %v", tt.want, names(got))
			}
		})
	}
}

func TestDecode_UnsignedByteOrder(t *testing.T) {
	it := ItemKey([]byte("K"))
	for _, n := range [][]byte{{0xff}, {0x01}, {0x7f}, {0x80}} {
		it[EncodeKey(n)] = Value([]byte("x"))
	}

	got := Decode(it, nil, nil, 0)
	want := [][]byte{{0x01}, {0x7f}, {0x80}, {0xff}}
	if len(got) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(got))
	}
	for i := range want {
		if !bytes.Equal(got[i].Name, want[i]) {
			t.Errorf("position %d: expected %x, got %x", i, want[i], got[i].Name)
		}
	}
}

func TestDecode_EmptyItem(t *testing.T) {
	if got := Decode(nil, nil, nil, 0); len(got) != 0 {
		t.Errorf("expected empty result for nil item, got %d", len(got))
	}
	if got := Decode(map[string]types.AttributeValue{}, nil, nil, 5); len(got) != 0 {
		t.Errorf("expected empty result for empty item, got %d", len(got))
	}
}

func TestDecode_SkipsForeignAttributes(t *testing.T) {
	it := item("K", map[string]string{"a": "1"})
	it["not base64!"] = Value([]byte("x"))
	it[EncodeKey([]byte("s"))] = &types.AttributeValueMemberS{Value: "string"}

	got := Decode(it, nil, nil, 0)
	if !equalNames(got, "a") {
		t.Errorf("expected [a], got %v", names(got))
	}
}

func TestRowKey(t *testing.T) {
	key, ok := RowKey(ItemKey([]byte{0x00, 0x01}))
	if !ok || !bytes.Equal(key, []byte{0x00, 0x01}) {
		t.Errorf("expected key 0001, got %x (ok=%v)", key, ok)
	}

	if _, ok := RowKey(map[string]types.AttributeValue{}); ok {
		t.Error("expected ok=false for item without key")
	}
	if _, ok := RowKey(map[string]types.AttributeValue{HashKey: &types.AttributeValueMemberN{Value: "1"}}); ok {
		t.Error("expected ok=false for non-string key")
	}
}

func TestOnlyKey(t *testing.T) {
	if !OnlyKey(ItemKey([]byte("K"))) {
		t.Error("expected key-only item to report true")
	}
	if OnlyKey(item("K", map[string]string{"a": "1"})) {
		t.Error("expected item with columns to report false")
	}
	if OnlyKey(map[string]types.AttributeValue{}) {
		t.Error("expected empty item to report false")
	}
}
