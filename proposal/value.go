package proposal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "boolean"
	KindMap    ValueKind = "map"
	KindList   ValueKind = "list"
)

// ChangeValue is the tagged union of payloads an agreement field can hold.
// Kind selects which payload field is meaningful; the others stay zero.
type ChangeValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Map  map[string]any
	List []string
}

func StringValue(s string) ChangeValue {
	return ChangeValue{Kind: KindString, Str: s}
}

func NumberValue(n float64) ChangeValue {
	return ChangeValue{Kind: KindNumber, Num: n}
}

func BoolValue(b bool) ChangeValue {
	return ChangeValue{Kind: KindBool, Bool: b}
}

func MapValue(m map[string]any) ChangeValue {
	return ChangeValue{Kind: KindMap, Map: m}
}

func ListValue(items []string) ChangeValue {
	return ChangeValue{Kind: KindList, List: items}
}

// Validate rejects unknown kinds and payloads whose serialized form exceeds
// MaxValueLen bytes.
func (v ChangeValue) Validate() error {
	switch v.Kind {
	case KindString, KindNumber, KindBool, KindMap, KindList:
	default:
		return ErrInvalidValue
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("proposal: encode value: %w", err)
	}
	if len(raw) > MaxValueLen {
		return ErrValueTooLarge
	}
	return nil
}

// Equal compares two values structurally. Maps are compared by their
// canonical JSON encoding, which sorts keys.
func (v ChangeValue) Equal(o ChangeValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	case KindMap:
		a, errA := json.Marshal(v.Map)
		b, errB := json.Marshal(o.Map)
		if errA != nil || errB != nil {
			return false
		}
		return bytes.Equal(a, b)
	}
	return false
}

type valueEnvelope struct {
	Kind ValueKind      `json:"kind"`
	Str  *string        `json:"string"`
	Num  *float64       `json:"number"`
	Bool *bool          `json:"boolean"`
	Map  map[string]any `json:"map"`
	List []string       `json:"list"`
}

// MarshalJSON writes only the kind tag and the payload key the kind selects.
// Empty collections stay on the wire as {} and [].
func (v ChangeValue) MarshalJSON() ([]byte, error) {
	out := map[string]any{"kind": v.Kind}
	switch v.Kind {
	case KindString:
		out["string"] = v.Str
	case KindNumber:
		out["number"] = v.Num
	case KindBool:
		out["boolean"] = v.Bool
	case KindMap:
		if v.Map == nil {
			out["map"] = map[string]any{}
		} else {
			out["map"] = v.Map
		}
	case KindList:
		if v.List == nil {
			out["list"] = []string{}
		} else {
			out["list"] = v.List
		}
	}
	return json.Marshal(out)
}

func (v *ChangeValue) UnmarshalJSON(b []byte) error {
	var env valueEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("proposal: decode value: %w", err)
	}
	out := ChangeValue{Kind: env.Kind}
	switch env.Kind {
	case KindString:
		if env.Str != nil {
			out.Str = *env.Str
		}
	case KindNumber:
		if env.Num != nil {
			out.Num = *env.Num
		}
	case KindBool:
		if env.Bool != nil {
			out.Bool = *env.Bool
		}
	case KindMap:
		out.Map = env.Map
	case KindList:
		out.List = env.List
	default:
		return ErrInvalidValue
	}
	*v = out
	return nil
}
