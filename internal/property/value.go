package property

import (
	"encoding/json"
	"fmt"

	"github.com/accordvoice/accord/internal/shared"
)

// Kind is the canonical value type of a property key. Every key has
// exactly one kind; accessing a property through the wrong kind fails
// with CodeTypeMismatch instead of coercing.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindUint64
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint64:
		return "uint64"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one typed property value.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	s    string
}

func Int(v int) Value {
	return Value{kind: KindInt, i: int64(v)}
}

func Uint64(v uint64) Value {
	return Value{kind: KindUint64, u: v}
}

func String(v string) Value {
	return Value{kind: KindString, s: v}
}

func (v Value) Kind() Kind {
	return v.kind
}

// Zero reports whether the value was never set.
func (v Value) Zero() bool {
	return v.kind == 0
}

func (v Value) AsInt() (int, error) {
	if v.kind != KindInt {
		return 0, shared.CodeTypeMismatch
	}
	return int(v.i), nil
}

func (v Value) AsUint64() (uint64, error) {
	if v.kind != KindUint64 {
		return 0, shared.CodeTypeMismatch
	}
	return v.u, nil
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", shared.CodeTypeMismatch
	}
	return v.s, nil
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUint64:
		return fmt.Sprintf("%d", v.u)
	case KindString:
		return v.s
	}
	return "<unset>"
}

func (v Value) Equal(other Value) bool {
	return v == other
}

type valueJSON struct {
	Kind Kind   `json:"k"`
	Int  int64  `json:"i,omitempty"`
	Uint uint64 `json:"u,omitempty"`
	Str  string `json:"s,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(valueJSON{Kind: v.kind, Int: v.i, Uint: v.u, Str: v.s})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Value{kind: raw.Kind, i: raw.Int, u: raw.Uint, s: raw.Str}
	return nil
}
