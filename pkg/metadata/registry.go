package metadata

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownType       = errors.New("unknown type")
	ErrAlreadyRegistered = errors.New("type already registered")
	ErrInvalidField      = errors.New("invalid field")
)

// TypeID is the stable id of a registered type.
type TypeID int32

type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindTime
	KindReference
	KindList
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindReference:
		return "reference"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Type describes the fields of one object type.  Types are immutable once registered.
type Type struct {
	ID     TypeID
	Name   string
	Fields []Field
	byName map[string]Field
}

func (t *Type) Field(name string) (Field, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// Validate checks that fields hold values of the declared kinds and that required fields
// are set.
func (t *Type) Validate(fields map[string]interface{}) error {
	for name, v := range fields {
		f, ok := t.byName[name]
		if !ok {
			return fmt.Errorf("%w: %s has no field %q", ErrInvalidField, t.Name, name)
		}
		if v != nil && !f.Kind.accepts(v) {
			return fmt.Errorf("%w: %s.%s is %s, got %T", ErrInvalidField, t.Name, name, f.Kind, v)
		}
	}
	for _, f := range t.Fields {
		if v, ok := fields[f.Name]; f.Required && (!ok || v == nil) {
			return fmt.Errorf("%w: %s.%s is required", ErrInvalidField, t.Name, f.Name)
		}
	}
	return nil
}

func (k FieldKind) accepts(v interface{}) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindTime:
		switch v.(type) {
		case time.Time, int64, float64:
			return true
		}
		return false
	case KindReference:
		switch v.(type) {
		case string, int64, float64:
			return true
		}
		return false
	case KindList:
		_, ok := v.([]interface{})
		return ok
	default:
		return false
	}
}

// Registry is the closed set of object types known to one store.
type Registry struct {
	mu     sync.RWMutex
	lastID TypeID
	byID   map[TypeID]*Type
	byName map[string]*Type
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[TypeID]*Type),
		byName: make(map[string]*Type),
	}
}

func (r *Registry) Register(name string, fields ...Field) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	t := &Type{Name: name, Fields: fields, byName: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s has an unnamed field", ErrInvalidField, name)
		}
		if _, ok := t.byName[f.Name]; ok {
			return nil, fmt.Errorf("%w: %s.%s declared twice", ErrInvalidField, name, f.Name)
		}
		t.byName[f.Name] = f
	}
	r.lastID++
	t.ID = r.lastID
	r.byID[t.ID] = t
	r.byName[name] = t
	return t, nil
}

func (r *Registry) Lookup(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

func (r *Registry) ByID(id TypeID) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownType, id)
	}
	return t, nil
}

// Names returns the registered type names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear forgets all types.  Ids are not reused.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[TypeID]*Type)
	r.byName = make(map[string]*Type)
}
