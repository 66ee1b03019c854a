// Package action holds the fixed whitelist of callables a job may target.
// Jobs reference actions by stable name only; nothing is evaluated from text.
package action

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Ref is the stable qualified name of a registered action, e.g. "reminder.deliver".
type Ref string

func (r Ref) String() string { return string(r) }

// Invocation is what an action receives when a job fires.
type Invocation struct {
	JobID string
	Args  []any
	Tags  []string

	// Registry lets an action call an action.Ref found in its args.
	Registry *Registry
}

// Func is the body of an action.
type Func func(ctx context.Context, inv Invocation) (any, error)

// Action is a registered callable.
type Action struct {
	Name Ref
	Fn   Func
	// Loop routes execution onto the host's cooperative loop. Actions
	// that talk to the chat transport set this.
	Loop bool
}

// Registry maps names to actions. It is populated once at startup and then
// frozen; lookups are safe from any goroutine.
type Registry struct {
	mu      sync.RWMutex
	actions map[Ref]Action
	frozen  bool
}

func NewRegistry() *Registry {
	return &Registry{actions: map[Ref]Action{}}
}

// Register adds an action. It panics on an empty or duplicate name, a nil
// func, or a frozen registry: all of these are wiring mistakes.
func (r *Registry) Register(a Action) {
	name := Ref(strings.TrimSpace(string(a.Name)))
	if name == "" || a.Fn == nil {
		panic("action: register requires a name and a func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("action: register %q after freeze", name))
	}
	if _, dup := r.actions[name]; dup {
		panic(fmt.Sprintf("action: duplicate %q", name))
	}
	a.Name = name
	r.actions[name] = a
}

// Freeze forbids further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(name Ref) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names lists registered actions in sorted order.
func (r *Registry) Names() []Ref {
	r.mu.RLock()
	out := make([]Ref, 0, len(r.actions))
	for n := range r.actions {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Call runs ref directly on the calling goroutine.
func (r *Registry) Call(ctx context.Context, ref Ref, inv Invocation) (any, error) {
	a, ok := r.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("action %q not registered", ref)
	}
	inv.Registry = r
	return a.Fn(ctx, inv)
}
