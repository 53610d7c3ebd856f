package proposal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestChangeValue_Validate(t *testing.T) {
	valid := []ChangeValue{
		StringValue("two hours on weekdays"),
		NumberValue(150),
		BoolValue(true),
		ListValue([]string{"youtube"}),
		MapValue(map[string]any{"weekends": 240}),
	}
	for _, v := range valid {
		if err := v.Validate(); err != nil {
			t.Fatalf("%s: unexpected error %v", v.Kind, err)
		}
	}

	if err := (ChangeValue{Kind: "tuple"}).Validate(); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if err := (ChangeValue{}).Validate(); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("empty kind: expected ErrInvalidValue, got %v", err)
	}

	oversized := StringValue(strings.Repeat("a", MaxValueLen+1))
	if err := oversized.Validate(); !errors.Is(err, ErrValueTooLarge) {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
}

func TestChangeValue_Equal(t *testing.T) {
	if !NumberValue(150).Equal(NumberValue(150)) {
		t.Fatal("equal numbers must compare equal")
	}
	if NumberValue(150).Equal(NumberValue(120)) {
		t.Fatal("different numbers must not compare equal")
	}
	if NumberValue(1).Equal(BoolValue(true)) {
		t.Fatal("different kinds must not compare equal")
	}

	a := MapValue(map[string]any{"weekends": 240, "school_nights": 120})
	b := MapValue(map[string]any{"school_nights": 120, "weekends": 240})
	if !a.Equal(b) {
		t.Fatal("map equality must not depend on key order")
	}
	if a.Equal(MapValue(map[string]any{"weekends": 240})) {
		t.Fatal("maps with different entries must not compare equal")
	}

	if !ListValue([]string{"a", "b"}).Equal(ListValue([]string{"a", "b"})) {
		t.Fatal("equal lists must compare equal")
	}
	if ListValue([]string{"a", "b"}).Equal(ListValue([]string{"b", "a"})) {
		t.Fatal("list equality is order-sensitive")
	}
}

func TestChangeValue_JSONRoundTrip(t *testing.T) {
	orig := MapValue(map[string]any{"school_nights": 120, "blocked": []any{"tiktok"}})

	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ChangeValue
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !orig.Equal(got) {
		t.Fatalf("round trip changed the value: %+v vs %+v", orig, got)
	}

	// empty collections keep their shape on the wire
	raw, err = json.Marshal(MapValue(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"kind":"map","map":{}}` {
		t.Fatalf("expected empty object payload, got %s", raw)
	}

	if err := json.Unmarshal([]byte(`{"kind":"tuple"}`), &got); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for an unknown kind, got %v", err)
	}
}
