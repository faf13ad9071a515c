// Package hooks implements the named extension points that are triggered
// while a feed is processed.
//
// A Registry maps hook names to callbacks ordered by descending priority;
// callbacks with equal priority run in the order they were added. Trigger
// stops at the first callback that returns a non-empty result, TriggerAll
// runs every callback and discards results.
//
// Registries are mutated while extensions are installed and only read while
// feeds are processed. Trigger may be called from many goroutines.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Sentinel errors returned by Registry methods.
var (
	ErrUnknownHook       = errors.New("unknown hook")
	ErrDuplicateCallback = errors.New("callback already registered")
)

// Built-in hook names.
const (
	BeforeParse = "before_parse"
	AfterParse  = "after_parse"
	Item        = "item"
	GetGUID     = "get_guid"
	NeedGUID    = "need_guid"
	NoGUID      = "no_guid"
	GetItem     = "get_item"
	NeedItem    = "need_item"
	CreateItem  = "create_item"
	NewItem     = "new_item"
	FoundItem   = "found_item"
	ProcessItem = "process_item"
)

var builtin = []string{
	BeforeParse, AfterParse, Item,
	GetGUID, NeedGUID, NoGUID,
	GetItem, NeedItem, CreateItem,
	NewItem, FoundItem, ProcessItem,
}

// Builtin returns the names every registry starts with.
func Builtin() []string {
	return slices.Clone(builtin)
}

// Callback is invoked when its hook is triggered. Returning a nil or
// otherwise empty result means "no opinion".
type Callback interface {
	Call(ctx context.Context, args any) (any, error)
}

type funcCallback struct {
	fn func(ctx context.Context, args any) (any, error)
}

func (c *funcCallback) Call(ctx context.Context, args any) (any, error) {
	return c.fn(ctx, args)
}

// Func wraps fn as a Callback. Every call returns a distinct callback, so
// the same function may be wrapped and registered more than once.
func Func(fn func(ctx context.Context, args any) (any, error)) Callback {
	return &funcCallback{fn: fn}
}

type entry struct {
	cb       Callback
	priority int
}

// Registry holds the valid hook names and their callbacks.
type Registry struct {
	mu        sync.RWMutex
	names     map[string]struct{}
	callbacks map[string][]entry
}

// New returns a registry containing only the built-in hook names.
func New() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset removes every callback and every name added with Register.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = make(map[string]struct{}, len(builtin))
	for _, n := range builtin {
		r.names[n] = struct{}{}
	}
	r.callbacks = make(map[string][]entry)
}

// Register makes name a valid hook. Registering an existing name is a no-op.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = struct{}{}
}

// Exists reports whether name is a valid hook.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Names returns every valid hook name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// AddCallback registers cb for name.
func (r *Registry) AddCallback(name string, cb Callback, priority int) error {
	if cb == nil {
		return fmt.Errorf("add callback to %q: nil callback", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; !ok {
		return fmt.Errorf("add callback to %q: %w", name, ErrUnknownHook)
	}
	entries := r.callbacks[name]
	for _, e := range entries {
		if sameCallback(e.cb, cb) {
			return fmt.Errorf("add callback to %q: %w", name, ErrDuplicateCallback)
		}
	}
	// Insert after every entry with priority >= the new one.
	pos := len(entries)
	for i, e := range entries {
		if e.priority < priority {
			pos = i
			break
		}
	}
	// Copy so snapshots taken by running triggers never change underneath them.
	r.callbacks[name] = slices.Insert(slices.Clone(entries), pos, entry{cb: cb, priority: priority})
	return nil
}

// Any reports whether name has at least one callback.
func (r *Registry) Any(name string) (bool, error) {
	entries, err := r.snapshot(name)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// Trigger runs the callbacks of name in order and returns the first
// non-empty result. A callback error stops the run.
func (r *Registry) Trigger(ctx context.Context, name string, args any) (any, error) {
	entries, err := r.snapshot(name)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		res, err := e.cb.Call(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", name, err)
		}
		if !IsEmpty(res) {
			return res, nil
		}
	}
	return nil, nil
}

// TriggerAll runs every callback of name regardless of results.
func (r *Registry) TriggerAll(ctx context.Context, name string, args any) error {
	entries, err := r.snapshot(name)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := e.cb.Call(ctx, args); err != nil {
			return fmt.Errorf("hook %s: %w", name, err)
		}
	}
	return nil
}

// ReplaceWith copies the names and callbacks of other into r in one step.
func (r *Registry) ReplaceWith(other *Registry) {
	other.mu.RLock()
	names := make(map[string]struct{}, len(other.names))
	for n := range other.names {
		names[n] = struct{}{}
	}
	callbacks := make(map[string][]entry, len(other.callbacks))
	for n, entries := range other.callbacks {
		callbacks[n] = slices.Clone(entries)
	}
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = names
	r.callbacks = callbacks
}

func (r *Registry) snapshot(name string) ([]entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.names[name]; !ok {
		return nil, fmt.Errorf("hook %q: %w", name, ErrUnknownHook)
	}
	return r.callbacks[name], nil
}

// IsEmpty reports whether a callback result means "no opinion": nil, a nil
// pointer, an empty slice or map, false or the empty string.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

func sameCallback(a, b Callback) (same bool) {
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	// Comparable structs may still hold uncomparable interface values.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
