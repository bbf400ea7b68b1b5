// Package ban implements the Ban Dispatcher (C8): fanning a single ban
// decision out to every node in the fleet, with bounded concurrency so
// per-node RPC fan-out stays flat regardless of fleet size.
package ban

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/metrics"
	"github.com/firasghr/xrayguard/internal/model"
)

// Transport issues a single per-node BanUser RPC.
type Transport interface {
	BanUser(ctx context.Context, node model.Node, obs model.Observation) error
}

// Dispatcher implements the Ban Dispatcher (C8). It iterates the current
// node registry and invokes BanUser on each, bounding fan-out concurrency
// with a semaphore so a fleet of hundreds of nodes does not spawn hundreds
// of concurrent RPCs per ban decision (spec.md §4.8, "exceptions from
// individual nodes are logged and swallowed — one failed node must not
// block bans elsewhere"). A single ban episode fans out to, at most, a
// handful of nodes at once; that doesn't warrant a standing worker pool —
// a bounded semaphore held for the lifetime of one Dispatch call is enough.
type Dispatcher struct {
	transport Transport
	sem       chan struct{}
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher builds a Dispatcher backed by transport, bounding
// concurrent per-node calls to concurrency.
func NewDispatcher(transport Transport, concurrency int, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{transport: transport, sem: make(chan struct{}, concurrency), log: log, metrics: m}
}

// Dispatch invokes BanUser(obs) on every node in nodes. A failure on one
// node is logged and swallowed; it never prevents the ban from being
// attempted on the others. Dispatch blocks until every node has been
// attempted. It does not increment metrics.BansIssued itself — that counter
// tracks ban decisions, one per (name, ip) episode, and is incremented once
// by the Check Service when it makes the decision; the Check Service runs
// Dispatch on its own goroutine and does not wait for it to return.
func (d *Dispatcher) Dispatch(ctx context.Context, obs model.Observation, nodes []model.Node) {
	var wg sync.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Add(1)
		d.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-d.sem }()
			if err := d.transport.BanUser(ctx, node, obs); err != nil {
				d.log.Errorf("ban: node %s: BanUser(%s, %s) failed: %v", node.Name, obs.Name, obs.IP, err)
				if d.metrics != nil {
					d.metrics.IncrementBanRPCFailures()
				}
			}
		}()
	}
	wg.Wait()
}

// Stop is a no-op retained so callers that defer it at process shutdown
// don't need special-casing; Dispatch starts and tears down its own
// per-call goroutines and holds no goroutines across calls.
func (d *Dispatcher) Stop() {}

// banRequest is the minimal payload a node's ban endpoint needs to identify
// and drop the offending connection.
type banRequest struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Inbound string `json:"inbound"`
}

// HTTPTransport is the default Transport: a plain HTTP POST to each node's
// own ban endpoint. Grounded on internal/panel's request-building style,
// since the teacher's grpc-based node transport depended on a generated
// protobuf package never present in the retrieval pack and so could not be
// adapted (see DESIGN.md).
type HTTPTransport struct {
	client *http.Client
	path   string
}

// NewHTTPTransport builds an HTTPTransport. path is the ban endpoint path
// appended to each node's scheme://address:port, e.g. "/api/ban".
func NewHTTPTransport(client *http.Client, path string) *HTTPTransport {
	return &HTTPTransport{client: client, path: path}
}

// BanUser POSTs a banRequest to the node's ban endpoint over HTTPS, falling
// back to HTTP on a transport-level failure the way internal/panel falls
// back when a node presents a self-signed certificate it still can't
// negotiate.
func (t *HTTPTransport) BanUser(ctx context.Context, node model.Node, obs model.Observation) error {
	body, err := json.Marshal(banRequest{Name: obs.Name, IP: obs.IP, Inbound: obs.Inbound})
	if err != nil {
		return fmt.Errorf("ban: encode request: %w", err)
	}

	var lastErr error
	for _, scheme := range []string{"https", "http"} {
		url := fmt.Sprintf("%s://%s:%d%s", scheme, node.Address, node.Port, t.path)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("node %s returned status %d", node.Name, resp.StatusCode)
	}
	return lastErr
}
