package supervisor

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskStats is the health of one named task.
type TaskStats struct {
	Name        string        `json:"name"`
	Running     bool          `json:"running"`
	Starts      uint64        `json:"starts"`
	Restarts    uint64        `json:"restarts"`
	Panics      uint64        `json:"panics"`
	LastStart   time.Time     `json:"last_start"`
	LastRuntime time.Duration `json:"last_runtime"`
	LastErr     string        `json:"last_err,omitempty"`
	LastPanic   string        `json:"last_panic,omitempty"`
}

// Snapshot is the supervisor health view.
type Snapshot struct {
	Running    int         `json:"running"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

type registry struct {
	mu    sync.Mutex
	tasks map[string]*TaskStats
}

func newRegistry() *registry { return &registry{tasks: map[string]*TaskStats{}} }

func (r *registry) get(name string) *TaskStats {
	t, ok := r.tasks[name]
	if !ok {
		t = &TaskStats{Name: name}
		r.tasks[name] = t
	}
	return t
}

func (r *registry) start(name string, restart bool) time.Time {
	now := time.Now()
	r.mu.Lock()
	t := r.get(name)
	t.Running = true
	t.Starts++
	if restart {
		t.Restarts++
	}
	t.LastStart = now
	r.mu.Unlock()
	return now
}

func (r *registry) stop(name string, started time.Time, err error) {
	r.mu.Lock()
	t := r.get(name)
	t.Running = false
	t.LastRuntime = since(started)
	if err != nil {
		t.LastErr = err.Error()
	}
	r.mu.Unlock()
}

func (r *registry) panicked(name string, v any) {
	r.mu.Lock()
	t := r.get(name)
	t.Panics++
	t.LastPanic = fmt.Sprint(v)
	r.mu.Unlock()
}

func (r *registry) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{Tasks: make([]TaskStats, 0, len(r.tasks))}
	for _, t := range r.tasks {
		if t.Running {
			snap.Running++
		}
		snap.Tasks = append(snap.Tasks, *t)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}
