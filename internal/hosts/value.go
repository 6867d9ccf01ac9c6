package hosts

import (
	"bytes"
	"encoding/json"
)

// AbsentMarker is the text rendering of a field the scanner did not report.
const AbsentMarker = "-"

// Value is an optional text field of a host record. The zero value is
// absent, which is distinct from a present empty string.
type Value struct {
	text    string
	present bool
}

// Some returns a present value.
func Some(s string) Value {
	return Value{text: s, present: true}
}

// Absent returns the absent value.
func Absent() Value {
	return Value{}
}

// FromField converts a raw protocol field: the empty string means absent.
func FromField(s string) Value {
	if s == "" {
		return Value{}
	}
	return Some(s)
}

// Get returns the text and whether it is present.
func (v Value) Get() (string, bool) {
	return v.text, v.present
}

// IsAbsent reports whether the scanner supplied no data for the field.
func (v Value) IsAbsent() bool {
	return !v.present
}

// String renders absent values as AbsentMarker.
func (v Value) String() string {
	if !v.present {
		return AbsentMarker
	}
	return v.text
}

// MarshalJSON encodes absent values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON decodes null as absent.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = Some(s)
	return nil
}
