package property

import (
	"fmt"

	"github.com/accordvoice/accord/internal/shared"
)

// Table is the property map of one entity. Not safe for concurrent use;
// the owning store serializes access.
type Table[K Key] struct {
	values map[K]Value
}

func NewTable[K Key]() Table[K] {
	return Table[K]{values: make(map[K]Value)}
}

// Get returns the current value of key, or CodeNotFound if the key was
// never set on this entity.
func (t Table[K]) Get(key K) (Value, error) {
	v, ok := t.values[key]
	if !ok {
		return Value{}, shared.CodeNotFound
	}
	return v, nil
}

// Set stores a value after checking it against the key's canonical kind.
func (t Table[K]) Set(key K, value Value) error {
	if value.Kind() != key.Kind() {
		return fmt.Errorf("set %v as %v: %w", key, value.Kind(), shared.CodeTypeMismatch)
	}
	t.values[key] = value
	return nil
}

func (t Table[K]) Len() int {
	return len(t.values)
}

// Snapshot copies the table, for event payloads and persistence.
func (t Table[K]) Snapshot() map[K]Value {
	out := make(map[K]Value, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Apply merges a batch of values, all-or-nothing: if any value fails the
// kind check, nothing is written.
func (t Table[K]) Apply(values map[K]Value) error {
	for k, v := range values {
		if v.Kind() != k.Kind() {
			return fmt.Errorf("apply %v as %v: %w", k, v.Kind(), shared.CodeTypeMismatch)
		}
	}
	for k, v := range values {
		t.values[k] = v
	}
	return nil
}
