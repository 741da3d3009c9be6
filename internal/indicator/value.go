package indicator

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is an indicator reading that may be undefined because history was
// too short. Undefined values marshal to JSON null.
type Value struct {
	V     float64
	Valid bool
}

func Defined(v float64) Value {
	return Value{V: v, Valid: true}
}

// Undefined is the zero Value.
var Undefined = Value{}

func (v Value) Float64() (float64, bool) {
	return v.V, v.Valid
}

func (v Value) String() string {
	if !v.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v.V)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Undefined
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}
