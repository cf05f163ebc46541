package benor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is the ternary domain of the protocol: 0, 1, or "?" (no preference).
// "?" is never a final decision.
type Value uint8

const (
	ValueZero Value = iota
	ValueOne
	ValueUnknown
)

func (v Value) IsValid() bool {
	return v <= ValueUnknown
}

// IsBinary reports whether v is 0 or 1.
func (v Value) IsBinary() bool {
	return v == ValueZero || v == ValueOne
}

func (v Value) String() string {
	switch v {
	case ValueZero:
		return "0"
	case ValueOne:
		return "1"
	case ValueUnknown:
		return "?"
	default:
		return fmt.Sprintf("Value(%d)", uint8(v))
	}
}

// ParseValue accepts "0", "1" and "?".
func ParseValue(s string) (Value, error) {
	switch s {
	case "0":
		return ValueZero, nil
	case "1":
		return ValueOne, nil
	case "?":
		return ValueUnknown, nil
	default:
		return 0, fmt.Errorf("invalid value %q", s)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v {
	case ValueZero:
		return []byte("0"), nil
	case ValueOne:
		return []byte("1"), nil
	case ValueUnknown:
		return []byte(`"?"`), nil
	default:
		return nil, fmt.Errorf("marshal %s: out of domain", v)
	}
}

// UnmarshalJSON decodes 0, 1 and "?". A JSON null is treated as "?".
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "0":
		*v = ValueZero
	case "1":
		*v = ValueOne
	case `"?"`, "null":
		*v = ValueUnknown
	default:
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			parsed, err := ParseValue(s)
			if err != nil {
				return err
			}
			*v = parsed
			return nil
		}
		return fmt.Errorf("invalid value %s", data)
	}
	return nil
}
