// Package check implements the Check Service (C4): the violation detector.
// It drains the Log Queue on a dedicated goroutine, maintains the per-user
// active-IP view, and runs the hysteresis/debounce policy that decides when
// a repeated over-limit pattern has crossed from "noise" into "ban this IP".
package check

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firasghr/xrayguard/internal/activeusers"
	"github.com/firasghr/xrayguard/internal/ban"
	"github.com/firasghr/xrayguard/internal/exceptedip"
	"github.com/firasghr/xrayguard/internal/limit"
	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/metrics"
	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/notify"
	"github.com/firasghr/xrayguard/internal/queue"
)

// limitResolutionTimeout bounds how long the consumer waits on a limit
// lookup before dropping the observation, per spec.md §4.4 step 1/§7.
const limitResolutionTimeout = 10 * time.Second

// rlHardCap bounds the debouncer list's worst-case growth. spec.md §9
// design notes call out the unbounded "repeated_out_of_limits" list as a
// risk under extreme violation rates and recommend an additional bound
// beyond the purge-on-resolution that normally keeps it small; this is a
// blunt backstop, not a tuning knob.
const rlHardCap = 200000

// NodeLister is the subset of fleet.Registry the dispatcher needs: the
// current set of nodes to fan a ban out to.
type NodeLister interface {
	Nodes() []model.Node
}

// Service implements the violation detector described in spec.md §4.4.
type Service struct {
	queue      *queue.Queue
	resolver   limit.Resolver
	excepted   exceptedip.Store
	active     *activeusers.Store
	dispatcher *ban.Dispatcher
	nodes      NodeLister
	notify     notify.Sink
	log        *logger.Logger
	metrics    *metrics.Metrics

	stl, iul     int
	defaultLimit int
	banLastUser  bool
	accepted     bool

	mu           sync.Mutex
	rl           []model.Observation
	inProcessIPs map[string]struct{}
}

// Config bundles the per-deployment tuning parameters of the violation
// detector, mirroring spec.md §6's STL/IUL/BAN_LAST_USER/ACCEPTED/
// DEFAULT_LIMIT configuration surface.
type Config struct {
	STL          int
	IUL          int
	DefaultLimit int
	BanLastUser  bool
	Accepted     bool
}

// New builds a Service. q is drained by Run; resolver/excepted/active are
// the C6/excepted-IP/C5 collaborators; dispatcher fans a ban decision out to
// nodes.Nodes() per spec.md §4.8.
func New(q *queue.Queue, resolver limit.Resolver, excepted exceptedip.Store, active *activeusers.Store, dispatcher *ban.Dispatcher, nodes NodeLister, sink notify.Sink, log *logger.Logger, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		queue:        q,
		resolver:     resolver,
		excepted:     excepted,
		active:       active,
		dispatcher:   dispatcher,
		nodes:        nodes,
		notify:       sink,
		log:          log,
		metrics:      m,
		stl:          cfg.STL,
		iul:          cfg.IUL,
		defaultLimit: cfg.DefaultLimit,
		banLastUser:  cfg.BanLastUser,
		accepted:     cfg.Accepted,
		inProcessIPs: make(map[string]struct{}),
	}
}

// Run drains the queue until done is closed. It is meant to run on its own
// goroutine for the lifetime of the process, matching spec.md §5's
// "dedicated consumer" that keeps C5 and the debouncer state confined to a
// single goroutine.
func (s *Service) Run(ctx context.Context, done <-chan struct{}) {
	for {
		obs, ok := s.queue.Take(done)
		if !ok {
			return
		}
		s.process(ctx, obs)
	}
}

// process implements the nine-step decision in spec.md §4.4 for a single
// observation.
//
// Reconciling an internal inconsistency: §4.4 step 3 reads "if limit == 0,
// or if ip appears in the excepted-IP store, return without recording", but
// §8 scenario 1 ("No enforcement") explicitly expects all ten observations
// for a limit-0 user to still land in C5. The two exemption reasons are
// treated differently here, matching the scenario: an excepted IP is never
// admitted (scenario 2), while limit == 0 still admits the observation and
// only skips the ban decision (scenario 1). See DESIGN.md.
func (s *Service) process(ctx context.Context, obs model.Observation) {
	resolveCtx, cancel := context.WithTimeout(ctx, limitResolutionTimeout)
	resolved, err := s.resolver.Get(resolveCtx, obs.Name)
	cancel()
	if err != nil {
		if resolveCtx.Err() == context.DeadlineExceeded {
			s.metrics.IncrementLimitResolutionTimeouts()
		}
		s.log.Warnf("check: limit resolution failed for %q: %v", obs.Name, err)
		return
	}

	// resolved.Resolved is false only for the panel-mode sentinel a
	// concurrent second resolution can observe mid-fetch (spec.md §4.6/§9).
	// That sentinel carries Limit 0, and per the documented fail-open intent
	// ("erring on the side of not banning during races") it must stay 0 —
	// mapping it to DEFAULT_LIMIT would enforce against a user whose limit
	// is still in flight, the opposite of what the sentinel is for. With a
	// single consumer the sentinel is seen here when an earlier panel fetch
	// for the same name returned an error: PanelResolver then leaves the
	// sentinel cached, and later lookups return it until the TTL expires.
	userLimit := resolved.Limit

	excepted, err := s.excepted.IsExcepted(ctx, obs.IP)
	if err != nil {
		s.log.Warnf("check: excepted-ip lookup failed for %q: %v", obs.IP, err)
	}
	if excepted {
		return
	}

	s.active.AddUser(obs)
	s.metrics.IncrementObservationsProcessed()

	if userLimit == 0 {
		return
	}

	users := s.active.GetUsers(obs.Name)
	if len(users) <= userLimit {
		return
	}

	s.mu.Lock()
	_, inProcess := s.inProcessIPs[obs.IP]
	s.mu.Unlock()
	if inProcess {
		return
	}

	targetByEmail, ok := s.active.GetUser(obs.Name)
	if !ok {
		return
	}
	targetLast, ok := s.active.GetLastUser(obs.Name)
	if !ok {
		targetLast = targetByEmail
	}

	s.mu.Lock()
	s.rl = append(s.rl, obs)
	s.enforceRLCap()
	rlLen := countMatching(s.rl, targetByEmail)
	rlLastLen := countMatching(s.rl, targetLast)

	if rlLen < s.stl || rlLastLen < s.stl {
		if abs(rlLen-rlLastLen) > s.iul {
			s.purgeRL(targetByEmail, obs)
			s.mu.Unlock()
			s.active.DeleteUser(targetByEmail.Name, targetByEmail.IP)
			return
		}
		s.mu.Unlock()
		return
	}
	s.purgeRL(targetByEmail, obs)
	s.inProcessIPs[obs.IP] = struct{}{}
	s.mu.Unlock()

	banTarget := targetByEmail
	if s.banLastUser {
		banTarget = targetLast
	}

	episodeID := uuid.NewString()
	go s.dispatchBan(episodeID, banTarget)

	s.mu.Lock()
	delete(s.inProcessIPs, obs.IP)
	s.mu.Unlock()

	s.active.DeleteUser(targetByEmail.Name, targetByEmail.IP)
	s.metrics.IncrementBansIssued()

	s.reportBan(episodeID, banTarget)
}

// dispatchBan fans banTarget out to the current node registry. It runs on
// its own goroutine, fire-and-forget, matching spec.md §5's description of
// the ban RPC as scheduled onto the main loop without the consumer blocking
// on its result; failures are logged inside Dispatch per node.
func (s *Service) dispatchBan(episodeID string, target model.Observation) {
	nodes := s.nodes.Nodes()
	s.dispatcher.Dispatch(context.Background(), target, nodes)
	s.log.Debugf("check: ban episode %s dispatched to %d node(s)", episodeID, len(nodes))
}

func (s *Service) reportBan(episodeID string, target model.Observation) {
	msg := fmt.Sprintf("banned user %s with ip %s\nnode: %s\ninbound: %s\nepisode: %s",
		target.Name, target.IP, target.Node, target.Inbound, episodeID)
	if s.accepted {
		msg += "\naccepted: " + target.Accepted
	}
	s.log.Info(msg)
	s.notify.NotifyWithAction(msg, notify.Action{Label: "Unban IP", CallbackData: target.IP})
}

// enforceRLCap must be called with s.mu held.
func (s *Service) enforceRLCap() {
	if len(s.rl) <= rlHardCap {
		return
	}
	keep := rlHardCap / 2
	s.rl = append([]model.Observation(nil), s.rl[len(s.rl)-keep:]...)
}

// purgeRL must be called with s.mu held. It removes every rl entry matching
// either target or obs by (name, ip) — spec.md §9 design notes: the source's
// AND-chained purge is "almost certainly a logical bug", and the spec
// prescribes OR-style pruning (remove entries matching either) as the
// documented intent.
func (s *Service) purgeRL(target, obs model.Observation) {
	kept := s.rl[:0:0]
	for _, r := range s.rl {
		if matches(r, target) || matches(r, obs) {
			continue
		}
		kept = append(kept, r)
	}
	s.rl = kept
}

func countMatching(rl []model.Observation, target model.Observation) int {
	n := 0
	for _, r := range rl {
		if matches(r, target) {
			n++
		}
	}
	return n
}

func matches(a, b model.Observation) bool {
	return a.Name == b.Name && a.IP == b.IP
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
