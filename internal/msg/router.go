package msg

import (
	"fmt"
	"reflect"
)

// Message is anything carrying a declared kind tag.
type Message[K ~string] interface {
	Kind() K
}

// Router dispatches messages to the handler registered for their kind. The
// payload type is checked against the catalog before any handler runs, so a
// handler only ever sees the concrete type it was registered with.
type Router[K ~string, M Message[K], C any] struct {
	lookup   func(K) (Spec, bool)
	families map[Family]bool
	handlers map[K]func(C, M) error
	fallback func(C, M) error
}

// NewActionRouter returns a router for actions. When families are given, any
// kind outside of them is rejected with ErrWrongFamily.
func NewActionRouter[C any](catalog *Catalog, families ...Family) *Router[ActionKind, Action, C] {
	return newRouter[ActionKind, Action, C](catalog.Action, families)
}

// NewEventRouter returns a router for events.
func NewEventRouter[C any](catalog *Catalog, families ...Family) *Router[EventKind, Event, C] {
	return newRouter[EventKind, Event, C](catalog.Event, families)
}

func newRouter[K ~string, M Message[K], C any](lookup func(K) (Spec, bool), families []Family) *Router[K, M, C] {
	r := &Router[K, M, C]{
		lookup:   lookup,
		families: make(map[Family]bool),
		handlers: make(map[K]func(C, M) error),
	}
	for _, f := range families {
		r.families[f] = true
	}
	return r
}

// On registers fn for kind. Registering a handler whose payload type differs
// from the catalog's is a programming error and panics.
func On[K ~string, M Message[K], C any, T any](r *Router[K, M, C], kind K, fn func(C, T) error) {
	spec, ok := r.lookup(kind)
	if !ok {
		panic(fmt.Sprintf("msg: no catalog entry for %q", kind))
	}
	if want := reflect.TypeOf((*T)(nil)).Elem(); want != spec.Type {
		panic(fmt.Sprintf("msg: handler for %q takes %v, catalog has %v", kind, want, spec.Type))
	}
	r.handlers[kind] = func(c C, m M) error {
		t, ok := any(m).(T)
		if !ok {
			return &InconsistentTypeError{Kind: string(kind), Expected: spec.Type, Got: reflect.TypeOf(m)}
		}
		return fn(c, t)
	}
}

// Fallback handles every accepted kind without a handler of its own.
func (r *Router[K, M, C]) Fallback(fn func(C, M) error) {
	r.fallback = fn
}

// Dispatch validates m and hands it to its handler.
func (r *Router[K, M, C]) Dispatch(c C, m M) error {
	if isNil(m) {
		return &InconsistentTypeError{Kind: "<nil>"}
	}

	kind := m.Kind()
	spec, err := check(kind, m, r.lookup)
	if err != nil {
		return err
	}
	if len(r.families) > 0 && !r.families[spec.Family] {
		return fmt.Errorf("%w: %q is a %s message", ErrWrongFamily, kind, spec.Family)
	}

	if h, ok := r.handlers[kind]; ok {
		return h(c, m)
	}
	if r.fallback != nil {
		return r.fallback(c, m)
	}
	return fmt.Errorf("%w: %q", ErrNoHandler, kind)
}
