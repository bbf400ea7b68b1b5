// Command xrayguard runs the per-user concurrent-IP ban-enforcement engine:
// it streams xray access logs from every healthy node behind a control
// panel, tracks each user's active IPs, and bans an IP once it has crossed
// the configured concurrency limit often enough to no longer look like
// transient noise.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/firasghr/xrayguard/internal/activeusers"
	"github.com/firasghr/xrayguard/internal/ban"
	"github.com/firasghr/xrayguard/internal/check"
	"github.com/firasghr/xrayguard/internal/config"
	"github.com/firasghr/xrayguard/internal/exceptedip"
	"github.com/firasghr/xrayguard/internal/fleet"
	"github.com/firasghr/xrayguard/internal/limit"
	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/logstream"
	"github.com/firasghr/xrayguard/internal/metrics"
	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/notify"
	"github.com/firasghr/xrayguard/internal/panel"
	"github.com/firasghr/xrayguard/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("xrayguard: " + err.Error() + "\n")
		os.Exit(1)
	}

	level := logger.LevelInfo
	if cfg.Debug {
		level = logger.LevelDebug
	}
	log := logger.New(level)
	m := metrics.New()
	sink := notify.NewLoggingSink(log)

	session := &model.PanelSession{
		Username: cfg.PanelUsername,
		Password: cfg.PanelPassword,
		Domain:   cfg.PanelAddress,
	}
	httpClient := panel.NewInsecureHTTPClient(cfg.PanelRequestTimeout)
	panelClient := panel.NewClient(httpClient, log, sink, m)

	exceptedStore, err := exceptedip.NewSQLiteStore(cfg.ExceptedIPStorePath)
	if err != nil {
		log.Errorf("xrayguard: open excepted-ip store: %v", err)
		os.Exit(1)
	}
	defer exceptedStore.Close() //nolint:errcheck

	resolver, closeResolver, err := buildResolver(cfg, panelClient, session)
	if err != nil {
		log.Errorf("xrayguard: build limit resolver: %v", err)
		os.Exit(1)
	}
	if closeResolver != nil {
		defer closeResolver() //nolint:errcheck
	}

	active := activeusers.New()
	q := queue.New()

	transport := ban.NewHTTPTransport(&http.Client{Transport: httpClient.Transport}, cfg.BanEndpointPath)
	dispatcher := ban.NewDispatcher(transport, cfg.BanConcurrency, log, m)
	defer dispatcher.Stop()

	parser := logstream.NewMarzneshinParser()
	spawn := func(node model.Node, token string) fleet.StreamRunner {
		return logstream.NewSubscriber(node, session.Domain, token, parser, q, log, sink, m)
	}
	supervisor := fleet.NewSupervisor(panelClient, session, spawn, cfg.PanelCustomNodes, cfg.PanelNodeReset, log, sink)

	checkSvc := check.New(q, resolver, exceptedStore, active, dispatcher, supervisor.Registry(), sink, log, m, check.Config{
		STL:          cfg.STL,
		IUL:          cfg.IUL,
		DefaultLimit: cfg.DefaultLimit,
		BanLastUser:  cfg.BanLastUser,
		Accepted:     cfg.Accepted,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go checkSvc.Run(ctx, done)

	supervisor.Start(ctx)
	log.Info("xrayguard: started")

	<-ctx.Done()
	log.Info("xrayguard: shutting down")
	supervisor.Stop()
	close(done)
}

// buildResolver selects the Limit Resolver (C6) implementation per
// cfg.SyncWithPanel: panel mode resolves against the control panel through
// a TTL cache, local mode resolves against a durable sqlite table the
// operator maintains directly. The returned close func is nil for panel
// mode, which owns no resources of its own.
func buildResolver(cfg *config.Config, panelClient *panel.Client, session *model.PanelSession) (limit.Resolver, func() error, error) {
	if cfg.SyncWithPanel {
		return limit.NewPanelResolver(panelClient, session, cfg.MarzneshinServices, cfg.CacheTTL), nil, nil
	}
	store, err := limit.NewSQLiteStore(cfg.LimitStorePath)
	if err != nil {
		return nil, nil, err
	}
	return limit.NewLocalResolver(store, cfg.DefaultLimit), store.Close, nil
}
