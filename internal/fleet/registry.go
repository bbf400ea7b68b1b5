// Package fleet implements the Fleet Supervisor (C7): periodic re-listing
// of healthy nodes and (re)spawning a log-stream subscriber per node.
package fleet

import (
	"context"
	"sync"

	"github.com/firasghr/xrayguard/internal/model"
)

// nodeTask tracks one running stream subscriber, replacing the reference
// implementation's module-level TASKS / task_node_mapping globals (spec.md
// §5, "Shared resources: TASKS/task_node_mapping: mutated only by the
// supervisor on the main loop") with an explicit, mutex-guarded registry.
type nodeTask struct {
	node   model.Node
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks the currently running per-node stream tasks. All
// mutation happens from the supervisor's single goroutine; Registry guards
// its map anyway so Names, Nodes and Len can be called from elsewhere (the
// Ban Dispatcher's node lookup, diagnostics).
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*nodeTask
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*nodeTask)}
}

// Add records a running task for node. If a task for that name is already
// tracked, its entry is replaced without being cancelled — callers must
// CancelAll before respawning.
func (r *Registry) Add(node model.Node, cancel context.CancelFunc, done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[node.Name] = &nodeTask{node: node, cancel: cancel, done: done}
}

// CancelAll cancels every tracked task and waits for each to signal done,
// then clears the registry. Used by the supervisor before every re-list
// cycle per spec.md §4.7 ("cancels every active stream task").
func (r *Registry) CancelAll() {
	r.mu.Lock()
	tasks := make([]*nodeTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.tasks = make(map[string]*nodeTask)
	r.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}

// Names returns the node names currently tracked.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}

// Nodes returns the model.Node value for every currently tracked task, the
// "current node registry" the Ban Dispatcher (C8) fans a ban decision out
// to (spec.md §4.8).
func (r *Registry) Nodes() []model.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes := make([]model.Node, 0, len(r.tasks))
	for _, t := range r.tasks {
		nodes = append(nodes, t.node)
	}
	return nodes
}

// Len reports how many tasks are currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
