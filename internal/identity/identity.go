// Package identity maps natural object keys to surrogate ids.
//
// A Resolver holds one bijection per object type. It is rebuilt on every
// import run from the rows already present in the store, so the same name
// keeps the same id across runs.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrIntegrity marks a contradiction between the dump and the mapping.
// Callers treat it as fatal.
var ErrIntegrity = errors.New("identity integrity violation")

// ErrUnknownObject marks a must-exist reference to a name with no binding.
// It always comes with ErrIntegrity.
var ErrUnknownObject = errors.New("no such object")

// IntegrityError describes which binding could not be honored.
type IntegrityError struct {
	Type   string
	Name   string
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %q (id %s): %s", e.Type, e.Name, e.ID, e.Reason)
}

func (e *IntegrityError) Unwrap() []error {
	if e.Reason == ErrUnknownObject.Error() {
		return []error{ErrIntegrity, ErrUnknownObject}
	}
	return []error{ErrIntegrity}
}

// Resolver is not safe for concurrent use.
type Resolver struct {
	byName map[string]map[string]int64
	byID   map[string]map[int64]string
	next   map[string]int64
}

func New() *Resolver {
	return &Resolver{
		byName: make(map[string]map[string]int64),
		byID:   make(map[string]map[int64]string),
		next:   make(map[string]int64),
	}
}

// Set binds name to id for typ. Re-registering an identical pair is a no-op.
func (r *Resolver) Set(typ, name string, id int64) error {
	if id < 0 {
		return &IntegrityError{Type: typ, Name: name, ID: strconv.FormatInt(id, 10), Reason: "id is negative"}
	}
	names, ok := r.byName[typ]
	if !ok {
		names = make(map[string]int64)
		ids := make(map[int64]string)
		r.byName[typ] = names
		r.byID[typ] = ids
	}
	ids := r.byID[typ]

	if prev, ok := ids[id]; ok && prev != name {
		return &IntegrityError{Type: typ, Name: name, ID: strconv.FormatInt(id, 10),
			Reason: fmt.Sprintf("id already bound to %q", prev)}
	}
	if prev, ok := names[name]; ok && prev != id {
		return &IntegrityError{Type: typ, Name: name, ID: strconv.FormatInt(id, 10),
			Reason: fmt.Sprintf("name already bound to id %d", prev)}
	}

	names[name] = id
	ids[id] = name
	if id >= r.next[typ] {
		r.next[typ] = id + 1
	}
	return nil
}

// SetRaw is Set for ids read back from the store as text.
func (r *Resolver) SetRaw(typ, name, raw string) error {
	raw = strings.TrimSpace(raw)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return &IntegrityError{Type: typ, Name: name, ID: raw, Reason: "id is not a non-negative integer"}
	}
	return r.Set(typ, name, id)
}

// Get returns the id bound to name, if any.
func (r *Resolver) Get(typ, name string) (int64, bool) {
	id, ok := r.byName[typ][name]
	return id, ok
}

// MustGet is Get for references that must already be known.
func (r *Resolver) MustGet(typ, name string) (int64, error) {
	id, ok := r.Get(typ, name)
	if !ok {
		return 0, &IntegrityError{Type: typ, Name: name, ID: "-", Reason: ErrUnknownObject.Error()}
	}
	return id, nil
}

// All returns a copy of the id→name table for typ.
func (r *Resolver) All(typ string) map[int64]string {
	out := make(map[int64]string, len(r.byID[typ]))
	for id, name := range r.byID[typ] {
		out[id] = name
	}
	return out
}

// Len reports how many names are bound for typ.
func (r *Resolver) Len(typ string) int {
	return len(r.byName[typ])
}

// NextID allocates an id one past the highest id seen for typ.
// Ids start at 1.
func (r *Resolver) NextID(typ string) int64 {
	id := r.next[typ]
	if id < 1 {
		id = 1
	}
	r.next[typ] = id + 1
	return id
}
