// Package logstream implements the Log Stream Subscriber (C2): one
// long-lived WebSocket-style reader per node, feeding parsed observations
// into the Log Queue (C3).
package logstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/metrics"
	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/notify"
	"github.com/firasghr/xrayguard/internal/queue"
)

// intervals is the set the spec requires a random interval be drawn from
// per connection, to de-synchronize polling across many streams (spec.md
// §4.2).
var intervals = []float64{0.9, 1.3, 1.5, 1.7}

// reconnectDelay is the fixed sleep between any disconnect and the next
// reconnect attempt, per spec.md §4.2.
const reconnectDelay = 10 * time.Second

// Subscriber streams xray logs for a single node and enqueues parsed
// observations onto a shared Queue.
type Subscriber struct {
	node    model.Node
	domain  string
	token   string
	parser  Parser
	q       *queue.Queue
	log     *logger.Logger
	notify  notify.Sink
	metrics *metrics.Metrics

	httpClient *http.Client
}

// NewSubscriber builds a Subscriber for node, dialing domain with the
// current panel token. m may be nil; when set, a dropped-on-full
// observation increments metrics.ObservationsDropped (spec.md §7).
func NewSubscriber(node model.Node, domain, token string, parser Parser, q *queue.Queue, log *logger.Logger, sink notify.Sink, m *metrics.Metrics) *Subscriber {
	return &Subscriber{
		node:    node,
		domain:  domain,
		token:   token,
		parser:  parser,
		q:       q,
		log:     log,
		notify:  sink,
		metrics: m,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 – node certs are commonly self-signed
			},
		},
	}
}

// Run streams the node's log endpoint until ctx is cancelled. On every
// disconnect it logs the event, emits a notification, sleeps
// reconnectDelay, and reconnects, alternating schemes: wss first, then ws
// after the next disconnect, then wss again, and so on.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.streamOnce(ctx, "wss")
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		if ctx.Err() != nil {
			return
		}
		s.streamOnce(ctx, "ws")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Subscriber) streamOnce(ctx context.Context, scheme string) {
	interval := intervals[rand.Intn(len(intervals))]
	endpoint := fmt.Sprintf("%s://%s/api/nodes/%d/xray/logs?interval=%v&token=%s", scheme, s.domain, s.node.ID, interval, s.token)

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		s.log.Errorf("logstream: node %s: dial %s failed: %v", s.node.Name, scheme, err)
		s.notify.Notify(fmt.Sprintf("log stream for node %s failed to connect (%s): %v", s.node.Name, scheme, err))
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.log.Infof("logstream: node %s: stream closed: %v", s.node.Name, err)
			s.notify.Notify(fmt.Sprintf("log stream for node %s disconnected: %v", s.node.Name, err))
			return
		}
		s.handleFrame(string(data))
	}
}

func (s *Subscriber) handleFrame(frame string) {
	obs, err := s.parser.ParseLogToUser(frame)
	if err != nil {
		s.log.Debugf("logstream: node %s: parse error: %v", s.node.Name, err)
		return
	}
	if obs == nil {
		return
	}
	obs.Node = s.node.Name
	obs.At = time.Now()

	if !s.q.Offer(*obs) {
		s.log.Warnf("logstream: node %s: queue full, dropping observation for %q", s.node.Name, obs.Name)
		if s.metrics != nil {
			s.metrics.IncrementObservationsDropped()
		}
	}
}
