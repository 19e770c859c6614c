package task

import "sync"

// registry is the in-memory index of tasks known to this process. It
// mirrors the durable store for fast access during a process's lifetime
// and is advisory only: on restart it starts empty and the store is the
// source of truth.
type registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func newRegistry() *registry {
	return &registry{tasks: make(map[string]*Task)}
}

func (r *registry) get(taskID string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	return t, ok
}

func (r *registry) put(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
}

func (r *registry) remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
}

// all returns a snapshot of the registered tasks.
func (r *registry) all() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}
