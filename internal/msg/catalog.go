package msg

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrInconsistentType is raised when the declared kind of a message does
	// not match the concrete type of its payload.
	ErrInconsistentType = errors.New("inconsistent message type")
	ErrUnknownKind      = errors.New("unknown message kind")
	ErrUnknownType      = errors.New("unknown payload type")
	ErrWrongFamily      = errors.New("message kind not accepted here")
	ErrNoHandler        = errors.New("no handler for message kind")
)

// InconsistentTypeError details an ErrInconsistentType.
type InconsistentTypeError struct {
	Kind     string
	Expected reflect.Type
	Got      reflect.Type
}

func (e *InconsistentTypeError) Error() string {
	return fmt.Sprintf("%v: %q expects %v, got %v", ErrInconsistentType, e.Kind, e.Expected, e.Got)
}

func (e *InconsistentTypeError) Is(target error) bool { return target == ErrInconsistentType }

// Spec is what the catalog knows about a kind.
type Spec struct {
	Family Family
	// Type is the payload type, always a pointer to a struct.
	Type reflect.Type
	// Name identifies Type on the wire.
	Name string
}

// Catalog pairs every kind with its family and payload type. Game plugins
// extend it with their own kinds when they are registered.
type Catalog struct {
	mu      sync.RWMutex
	actions map[ActionKind]Spec
	events  map[EventKind]Spec
	byName  map[string]reflect.Type
	byType  map[reflect.Type]string
}

// NewCatalog returns a catalog holding every built-in kind.
func NewCatalog() *Catalog {
	c := &Catalog{
		actions: make(map[ActionKind]Spec),
		events:  make(map[EventKind]Spec),
		byName:  make(map[string]reflect.Type),
		byType:  make(map[reflect.Type]string),
	}
	for _, a := range builtinActions {
		if err := c.RegisterAction(a.kind, a.family, a.name, a.sample); err != nil {
			panic(err)
		}
	}
	for _, e := range builtinEvents {
		if err := c.RegisterEvent(e.kind, e.family, e.name, e.sample); err != nil {
			panic(err)
		}
	}
	return c
}

func (c *Catalog) RegisterAction(kind ActionKind, family Family, name string, sample Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.actions[kind]; ok {
		return fmt.Errorf("action kind %q already registered", kind)
	}
	t, err := c.bind(name, sample)
	if err != nil {
		return fmt.Errorf("registering action %q: %w", kind, err)
	}
	c.actions[kind] = Spec{Family: family, Type: t, Name: name}
	return nil
}

func (c *Catalog) RegisterEvent(kind EventKind, family Family, name string, sample Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.events[kind]; ok {
		return fmt.Errorf("event kind %q already registered", kind)
	}
	t, err := c.bind(name, sample)
	if err != nil {
		return fmt.Errorf("registering event %q: %w", kind, err)
	}
	c.events[kind] = Spec{Family: family, Type: t, Name: name}
	return nil
}

// bind records the wire name of a payload type. A type keeps the same name
// when it is registered for more than one kind.
func (c *Catalog) bind(name string, sample any) (reflect.Type, error) {
	t := reflect.TypeOf(sample)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("payload %T must be a pointer to a struct", sample)
	}
	if existing, ok := c.byName[name]; ok && existing != t {
		return nil, fmt.Errorf("type name %q already bound to %v", name, existing)
	}
	if existing, ok := c.byType[t]; ok && existing != name {
		return nil, fmt.Errorf("%v already bound to type name %q", t, existing)
	}
	c.byName[name] = t
	c.byType[t] = name
	return t, nil
}

func (c *Catalog) Action(kind ActionKind) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.actions[kind]
	return s, ok
}

func (c *Catalog) Event(kind EventKind) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.events[kind]
	return s, ok
}

// CheckAction validates the declared kind of a against its payload type.
func (c *Catalog) CheckAction(a Action) (Spec, error) {
	if isNil(a) {
		return Spec{}, &InconsistentTypeError{Kind: "<nil>"}
	}
	return check(a.Kind(), a, c.Action)
}

// CheckEvent validates the declared kind of e against its payload type.
func (c *Catalog) CheckEvent(e Event) (Spec, error) {
	if isNil(e) {
		return Spec{}, &InconsistentTypeError{Kind: "<nil>"}
	}
	return check(e.Kind(), e, c.Event)
}

func check[K ~string](kind K, v any, lookup func(K) (Spec, bool)) (Spec, error) {
	spec, ok := lookup(kind)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if got := reflect.TypeOf(v); got != spec.Type {
		return spec, &InconsistentTypeError{Kind: string(kind), Expected: spec.Type, Got: got}
	}
	return spec, nil
}

// NameOf returns the wire name of the payload type of v.
func (c *Catalog) NameOf(v any) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byType[reflect.TypeOf(v)]
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
	return name, nil
}

// New allocates a zero payload of the type registered under name.
func (c *Catalog) New(name string) (any, error) {
	c.mu.RLock()
	t, ok := c.byName[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return reflect.New(t.Elem()).Interface(), nil
}

// NewAction allocates the payload expected for kind with its tag set.
func (c *Catalog) NewAction(kind ActionKind) (Action, error) {
	spec, ok := c.Action(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	a := reflect.New(spec.Type.Elem()).Interface().(Action)
	if h, ok := a.(interface{ header() *ActionHeader }); ok {
		h.header().Tag = kind
	}
	return a, nil
}

// NewEvent allocates the payload expected for kind with its tag set.
func (c *Catalog) NewEvent(kind EventKind) (Event, error) {
	spec, ok := c.Event(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	e := reflect.New(spec.Type.Elem()).Interface().(Event)
	if h, ok := e.(interface{ header() *EventHeader }); ok {
		h.header().Tag = kind
	}
	return e, nil
}

func (c *Catalog) ActionKinds() []ActionKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]ActionKind, 0, len(c.actions))
	for k := range c.actions {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (c *Catalog) EventKinds() []EventKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]EventKind, 0, len(c.events))
	for k := range c.events {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}
