package domain

import (
	"bytes"
	"encoding/json"
)

type patchState uint8

const (
	patchUnchanged patchState = iota
	patchClear
	patchSet
)

// Patch describes an update to a single field: leave it unchanged, clear it,
// or set it to a value. The zero value is Unchanged.
//
// When decoded from JSON an absent key stays Unchanged, null becomes Clear,
// and any other value becomes Set.
type Patch[T any] struct {
	state patchState
	value T
}

// Unchanged returns a patch that leaves the field as is.
func Unchanged[T any]() Patch[T] {
	return Patch[T]{}
}

// Clear returns a patch that removes the field value.
func Clear[T any]() Patch[T] {
	return Patch[T]{state: patchClear}
}

// Set returns a patch that assigns v.
func Set[T any](v T) Patch[T] {
	return Patch[T]{state: patchSet, value: v}
}

func (p Patch[T]) IsUnchanged() bool { return p.state == patchUnchanged }
func (p Patch[T]) IsClear() bool     { return p.state == patchClear }
func (p Patch[T]) IsSet() bool       { return p.state == patchSet }

// Value returns the assigned value for Set patches.
func (p Patch[T]) Value() (T, bool) {
	return p.value, p.state == patchSet
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Patch[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Clear[T]()
		return nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Set(v)
	return nil
}

// ApplyOptional resolves an optional field against its patch.
func ApplyOptional[T any](p Patch[T], current *T) *T {
	switch p.state {
	case patchClear:
		return nil
	case patchSet:
		v := p.value
		return &v
	default:
		return current
	}
}
