// Package addins installs extensions: it resolves their dependencies and
// binds their capabilities to hook callbacks.
package addins

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"feedplatform/internal/hooks"
	"feedplatform/internal/model"
)

// Configuration errors returned by Install.
var (
	ErrNeedsArguments  = errors.New("extension requires constructor arguments")
	ErrDependencyCycle = errors.New("extension dependency cycle")
	ErrInvalidHook     = errors.New("callback for unknown hook")
)

// Type identifies a kind of extension, optionally with a constructor that
// needs no arguments.
type Type struct {
	rt   reflect.Type
	ctor func() Extension
}

// TypeOf returns the Type of T. ctor may be nil when T cannot be built
// without arguments.
func TypeOf[T Extension](ctor func() T) Type {
	t := Type{rt: reflect.TypeFor[T]()}
	if ctor != nil {
		t.ctor = func() Extension { return ctor() }
	}
	return t
}

func (t Type) String() string {
	if t.rt == nil {
		return "<nil>"
	}
	return t.rt.String()
}

// Is reports whether ext is of type t.
func (t Type) Is(ext Extension) bool {
	return t.rt != nil && reflect.TypeOf(ext) == t.rt
}

// Decl declares an extension either as a ready instance or as a Type to be
// constructed at install time.
type Decl struct {
	ext Extension
	typ Type
}

// Use declares an instance.
func Use(ext Extension) Decl {
	return Decl{ext: ext, typ: Type{rt: reflect.TypeOf(ext)}}
}

// UseType declares a type.
func UseType(t Type) Decl {
	return Decl{typ: t}
}

// Type returns the declared type.
func (d Decl) Type() Type { return d.typ }

func (d Decl) instance() (Extension, error) {
	switch {
	case d.ext != nil:
		return d.ext, nil
	case d.typ.rt == nil:
		return nil, errors.New("empty extension declaration")
	case d.typ.ctor == nil:
		return nil, fmt.Errorf("%s: %w", d.typ, ErrNeedsArguments)
	}
	ext := d.typ.ctor()
	if ext == nil {
		return nil, fmt.Errorf("%s: constructor returned nil", d.typ)
	}
	return ext, nil
}

// Registry holds the active extensions and installs their callbacks into a
// hook registry.
type Registry struct {
	mu        sync.Mutex
	hooks     *hooks.Registry
	declared  []Decl
	active    []Extension
	schema    model.Schema
	installed bool
}

// New returns a registry that installs into h. decls is the configuration
// Active installs when Install was never called.
func New(h *hooks.Registry, decls ...Decl) *Registry {
	return &Registry{hooks: h, declared: decls}
}

// Hooks returns the hook registry extensions are installed into.
func (r *Registry) Hooks() *hooks.Registry {
	return r.hooks
}

// Install resolves decls into the final extension list and replaces the
// active extensions and every hook callback with it. On error nothing
// changes.
func (r *Registry) Install(decls ...Decl) ([]Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.declared
	r.declared = decls
	if err := r.install(); err != nil {
		r.declared = prev
		return nil, err
	}
	return slices.Clone(r.active), nil
}

// Reinstall is Install; it exists to make call sites that change the
// configuration read naturally.
func (r *Registry) Reinstall(decls ...Decl) ([]Extension, error) {
	return r.Install(decls...)
}

// Active returns the installed extensions in order, installing the
// declared configuration first if needed.
func (r *Registry) Active() ([]Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.installed {
		if err := r.install(); err != nil {
			return nil, err
		}
	}
	return slices.Clone(r.active), nil
}

// Schema returns the record fields declared by the active extensions.
func (r *Registry) Schema() (model.Schema, error) {
	if _, err := r.Active(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := model.Schema{}
	if err := out.Merge(r.schema); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) install() error {
	list, err := resolve(r.declared)
	if err != nil {
		return err
	}
	if err := checkCycles(list); err != nil {
		return err
	}

	schema := model.Schema{}
	scratch := hooks.New()
	for _, ext := range list {
		if err := setup(scratch, ext); err != nil {
			return fmt.Errorf("install %s: %w", ext.Name(), err)
		}
		if fp, ok := ext.(FieldProvider); ok {
			if err := schema.Merge(fp.Fields()); err != nil {
				return fmt.Errorf("install %s: %w", ext.Name(), err)
			}
		}
	}

	r.hooks.ReplaceWith(scratch)
	r.active = list
	r.schema = schema
	r.installed = true
	return nil
}

// setup registers the hook names ext introduces, then its callbacks.
func setup(h *hooks.Registry, ext Extension) error {
	if hp, ok := ext.(HookProvider); ok {
		for _, name := range hp.ProvideHooks() {
			h.Register(name)
		}
	}
	priority := func(string) int { return 0 }
	if p, ok := ext.(Prioritizer); ok {
		priority = p.Priority
	}
	for _, b := range bindings(ext) {
		if err := h.AddCallback(b.hook, b.cb, priority(b.hook)); err != nil {
			return err
		}
	}
	if cp, ok := ext.(CallbackProvider); ok {
		for _, reg := range cp.Callbacks() {
			if !h.Exists(reg.Hook) {
				return fmt.Errorf("%w: %q", ErrInvalidHook, reg.Hook)
			}
			if err := h.AddCallback(reg.Hook, reg.Callback, reg.Priority); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve instantiates decls and inserts every missing dependency directly
// before the first extension that needs it. Explicitly declared extensions
// keep their order.
func resolve(decls []Decl) ([]Extension, error) {
	list := make([]Extension, 0, len(decls))
	for _, d := range decls {
		ext, err := d.instance()
		if err != nil {
			return nil, err
		}
		list = append(list, ext)
	}
	for i := 0; i < len(list); i++ {
		var err error
		list, i, err = insertDeps(list, i)
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

// insertDeps resolves the dependencies of list[i] and returns the grown list
// and the new index of that extension.
func insertDeps(list []Extension, i int) ([]Extension, int, error) {
	dep, ok := list[i].(Depender)
	if !ok {
		return list, i, nil
	}
	for _, d := range dep.Depends() {
		if slices.ContainsFunc(list, d.typ.Is) {
			continue
		}
		ext, err := d.instance()
		if err != nil {
			return nil, 0, fmt.Errorf("dependency of %s: %w", list[i].Name(), err)
		}
		list = slices.Insert(list, i, ext)
		var at int
		list, at, err = insertDeps(list, i)
		if err != nil {
			return nil, 0, err
		}
		i = at + 1
	}
	return list, i, nil
}

// checkCycles walks the dependency graph of list depth first.
func checkCycles(list []Extension) error {
	graph := make(map[reflect.Type][]reflect.Type, len(list))
	for _, ext := range list {
		t := reflect.TypeOf(ext)
		if dep, ok := ext.(Depender); ok {
			for _, d := range dep.Depends() {
				graph[t] = append(graph[t], d.typ.rt)
			}
		}
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[reflect.Type]int, len(graph))
	var path []reflect.Type
	var visit func(t reflect.Type) error
	visit = func(t reflect.Type) error {
		switch state[t] {
		case done:
			return nil
		case visiting:
			start := slices.Index(path, t)
			names := make([]string, 0, len(path)-start+1)
			for _, p := range path[start:] {
				names = append(names, p.String())
			}
			names = append(names, t.String())
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(names, " -> "))
		}
		state[t] = visiting
		path = append(path, t)
		for _, next := range graph[t] {
			if err := visit(next); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[t] = done
		return nil
	}
	for _, ext := range list {
		if err := visit(reflect.TypeOf(ext)); err != nil {
			return err
		}
	}
	return nil
}
