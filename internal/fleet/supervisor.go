package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/notify"
)

// PanelClient is the subset of the panel client the supervisor needs.
type PanelClient interface {
	ListHealthyNodes(ctx context.Context, session *model.PanelSession) ([]model.Node, error)
}

// StreamRunner is implemented by a per-node stream subscriber (see
// internal/logstream.Subscriber.Run). Supervisor calls Run in its own
// goroutine per node and relies on ctx cancellation to stop it.
type StreamRunner interface {
	Run(ctx context.Context)
}

// SpawnFunc builds the stream runner for a single node. The token passed in
// is the panel session's bearer token at spawn time.
type SpawnFunc func(node model.Node, token string) StreamRunner

// Supervisor implements the Fleet Supervisor (C7): periodic re-list +
// respawn of per-node log stream subscribers.
//
// Architecture mirrors the teacher's scheduler/worker-pool split: Supervisor
// owns the control loop and a Registry tracks in-flight per-node tasks, the
// way the teacher's Scheduler owned a SessionManager and a WorkerPool. The
// work unit itself (a stream subscriber) replaces the teacher's
// session-bound job closures.
type Supervisor struct {
	client      PanelClient
	session     *model.PanelSession
	registry    *Registry
	spawn       SpawnFunc
	customNodes map[string]struct{}
	resetEvery  time.Duration
	spawnDelay  time.Duration
	log         *logger.Logger
	notify      notify.Sink

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSupervisor builds a Supervisor. customNodes, if non-empty, restricts
// the fleet to nodes whose name is in the list, per spec.md §4.7/§6
// ("filters to PANEL_CUSTOM_NODES if configured").
func NewSupervisor(client PanelClient, session *model.PanelSession, spawn SpawnFunc, customNodes []string, resetEvery time.Duration, log *logger.Logger, sink notify.Sink) *Supervisor {
	set := make(map[string]struct{}, len(customNodes))
	for _, n := range customNodes {
		set[n] = struct{}{}
	}
	return &Supervisor{
		client:      client,
		session:     session,
		registry:    NewRegistry(),
		spawn:       spawn,
		customNodes: set,
		resetEvery:  resetEvery,
		spawnDelay:  3 * time.Second,
		log:         log,
		notify:      sink,
		stopCh:      make(chan struct{}),
	}
}

// Registry exposes the supervisor's node-task registry, e.g. for the Ban
// Dispatcher (C8) to iterate currently known nodes.
func (s *Supervisor) Registry() *Registry { return s.registry }

// SetSpawnDelay overrides the default 3-second spacing between node-task
// creations. Exposed mainly so tests can shrink it; production callers
// should leave the spec-mandated default in place.
func (s *Supervisor) SetSpawnDelay(d time.Duration) { s.spawnDelay = d }

// Start performs one initial list+spawn cycle so streaming begins
// immediately (spec.md §4.7, "Startup: ... performs one initial list+spawn
// cycle"), then launches the periodic re-list loop in the background.
// Start is non-blocking; call Stop to terminate the loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.cycle(ctx)

	go func() {
		ticker := time.NewTicker(s.resetEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.notify.Notify("fleet supervisor: reloading node list")
				s.cycle(ctx)
			}
		}
	}()
}

// cycle cancels every active stream task, re-lists healthy nodes, filters
// to PANEL_CUSTOM_NODES if configured, and spawns a fresh task per node,
// spacing creations by spawnDelay to smooth panel load.
func (s *Supervisor) cycle(ctx context.Context) {
	s.registry.CancelAll()

	nodes, err := s.client.ListHealthyNodes(ctx, s.session)
	if err != nil {
		s.log.Errorf("fleet: list healthy nodes failed: %v", err)
		s.notify.Notify(fmt.Sprintf("fleet supervisor: failed to list nodes: %v", err))
		return
	}

	nodes = s.filterCustom(nodes)

	for i, node := range nodes {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.spawnDelay):
			}
		}
		s.spawnNode(ctx, node)
	}
}

func (s *Supervisor) filterCustom(nodes []model.Node) []model.Node {
	if len(s.customNodes) == 0 {
		return nodes
	}
	filtered := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := s.customNodes[n.Name]; ok {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

func (s *Supervisor) spawnNode(ctx context.Context, node model.Node) {
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	runner := s.spawn(node, s.session.Token)
	go func() {
		defer close(done)
		runner.Run(taskCtx)
	}()

	s.registry.Add(node, cancel, done)
}

// Stop terminates the re-list loop and cancels every active stream task.
// Stop is idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.registry.CancelAll()
}
