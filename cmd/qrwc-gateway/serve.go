package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qrwc/gateway/adapter"
	"github.com/qrwc/gateway/changegroup"
	"github.com/qrwc/gateway/config"
	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/eventstore"
	"github.com/qrwc/gateway/index"
	"github.com/qrwc/gateway/internal/version"
	"github.com/qrwc/gateway/logger"
	"github.com/qrwc/gateway/ringcache"
	"github.com/qrwc/gateway/supervisor"
	"github.com/qrwc/gateway/tools"
	"github.com/qrwc/gateway/wire"
)

// shutdownBudget is the hard ceiling on graceful shutdown: flush the event
// buffer, close the database, destroy change groups, and disconnect the
// wire client. Exceeding it forces a non-zero exit rather than hang.
const shutdownBudget = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Connect to a Q-SYS Core and serve MCP tools over stdio",
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	printStartupBanner(cfg)

	log := logger.Logger

	wireCfg := wire.DefaultConfig(cfg.QSYSHost, cfg.QSYSPort)
	sup := supervisor.New(
		wireCfg,
		supervisor.ReconnectPolicy{BaseInterval: time.Second, Ceiling: 30 * time.Second, MaxAttempts: 0, Enabled: true},
		supervisor.BreakerPolicy{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 15 * time.Second},
		log,
	)

	a := adapter.New(&supervisorSender{sup: sup}, sup, nil, log)
	idx := index.New(&indexSource{adapter: a})
	a.SetIndex(idx)

	ring := ringcache.New(ringcache.DefaultConfig(), log)

	var store *eventstore.Store
	if cfg.EventMonitoringEnabled {
		storeCfg := eventstore.DefaultConfig(cfg.EventMonitoringDBPath)
		storeCfg.BufferSize = cfg.EventMonitoringBufferSize
		storeCfg.FlushInterval = cfg.EventMonitoringFlushInterval
		storeCfg.RetentionDays = cfg.EventMonitoringRetentionDays
		storeCfg.BackupDir = cfg.EventBackupPath
		storeCfg.MaxBackups = cfg.EventMaxBackups
		storeCfg.BackupInterval = cfg.EventBackupInterval
		store = eventstore.New(storeCfg, log)
	}

	groups := changegroup.New(pollFunc(a), compositeSink(ring, store), nil, log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	if store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Run(ctx)
		}()
	}

	if err := sup.Connect(ctx); err != nil {
		log.Warnw("initial connect failed, will keep retrying in the background", "error", err)
	} else if err := idx.Refresh(ctx); err != nil {
		log.Warnw("initial discovery refresh failed", "error", err)
	}

	reg := tools.NewHandlerRegistry()
	tools.RegisterAll(reg, tools.Deps{
		Adapter:           a,
		Index:             idx,
		Groups:            groups,
		Ring:              ring,
		Supervisor:        sup,
		MonitoringEnabled: cfg.EventMonitoringEnabled,
	})

	dispatcher := tools.New(reg, sup, log)
	mcpServer := tools.NewServer(dispatcher, reg, log)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- mcpServer.ServeStdio()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shuttingDown := false
	for {
		select {
		case err := <-serveErrCh:
			shutdown(cancel, sup, groups, store, &wg, log)
			return err
		case sig := <-sigCh:
			if shuttingDown {
				log.Info("already shutting down, ignoring repeated signal")
				continue
			}
			shuttingDown = true
			log.Infow("received signal, shutting down", "signal", sig.String())
			if err := shutdownWithBudget(cancel, sup, groups, store, &wg, log); err != nil {
				log.Errorw("shutdown exceeded its budget", "error", err)
				os.Exit(1)
			}
			return nil
		}
	}
}

// shutdownWithBudget runs shutdown and force-exits if it doesn't complete
// within shutdownBudget.
func shutdownWithBudget(cancel context.CancelFunc, sup *supervisor.Supervisor, groups *changegroup.Registry, store *eventstore.Store, wg *sync.WaitGroup, log *zap.SugaredLogger) error {
	done := make(chan struct{})
	go func() {
		shutdown(cancel, sup, groups, store, wg, log)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownBudget):
		return errors.NewCategory(errors.CategoryNetworkTimeout, "graceful shutdown did not complete in time")
	}
}

func shutdown(cancel context.CancelFunc, sup *supervisor.Supervisor, groups *changegroup.Registry, store *eventstore.Store, wg *sync.WaitGroup, log *zap.SugaredLogger) {
	for _, id := range groups.List() {
		_ = groups.Destroy(id)
	}

	if store != nil {
		_ = store.Close()
	}

	_ = sup.Disconnect()
	cancel()
	wg.Wait()
	log.Infow("shutdown complete")
}

// supervisorSender routes adapter frames through whatever wire.Client the
// supervisor currently holds, so reconnects transparently swap the
// underlying socket without the adapter needing to know.
type supervisorSender struct {
	sup *supervisor.Supervisor
}

func (s *supervisorSender) SendFrame(ctx context.Context, method string, params interface{}) (*wire.Response, error) {
	client := s.sup.Client()
	if client == nil {
		return nil, errors.NewCategory(errors.CategoryConnectionFailed, "not connected to Q-SYS Core")
	}
	return client.SendFrame(ctx, method, params)
}

// indexSource adapts *adapter.Adapter to index.Source; a separate type
// avoids an import cycle (index depends on adapter, not the reverse).
type indexSource struct {
	adapter *adapter.Adapter
}

func (s *indexSource) GetComponents(ctx context.Context, policy adapter.RetryPolicy) ([]adapter.Component, error) {
	return s.adapter.GetComponents(ctx, policy)
}

func (s *indexSource) GetComponentControls(ctx context.Context, name string, policy adapter.RetryPolicy) (*adapter.ComponentControls, error) {
	return s.adapter.GetComponentControls(ctx, name, policy)
}

// pollFunc adapts the adapter's GetControlValues into the change-group
// registry's batch-poll shape.
func pollFunc(a *adapter.Adapter) changegroup.PollFunc {
	return func(ctx context.Context, paths []string) (map[string]changegroup.ControlSnapshot, error) {
		values, err := a.GetControlValues(ctx, paths, adapter.DefaultRetryPolicy())
		if err != nil {
			return nil, err
		}
		out := make(map[string]changegroup.ControlSnapshot, len(values))
		for _, v := range values {
			out[v.Name] = changegroup.ControlSnapshot{Value: v.Value, String: v.String}
		}
		return out, nil
	}
}

// compositeSink fans change events out to the in-memory ring cache
// (always) and the durable event store (only when monitoring is enabled).
type fanOutSink struct {
	ring  *ringcache.Cache
	store *eventstore.Store
}

func compositeSink(ring *ringcache.Cache, store *eventstore.Store) changegroup.Sink {
	return &fanOutSink{ring: ring, store: store}
}

func (f *fanOutSink) Append(changes []changegroup.ChangeEvent) {
	for _, c := range changes {
		f.ring.Append(ringcache.Event{
			ChangeGroupID:   c.ChangeGroupID,
			ControlPath:     c.ControlPath,
			ComponentName:   c.ComponentName,
			ControlName:     c.ControlName,
			Value:           c.Value,
			StringValue:     c.StringValue,
			Source:          c.Source,
			TimestampMillis: c.TimestampMillis,
		})
	}
	if f.store != nil {
		f.store.Append(changes)
	}
}

func printStartupBanner(cfg *config.Config) {
	info := version.Get()
	pterm.Info.Printf("qrwc-gateway %s (%s)\n", info.Version, info.Short())
	pterm.Info.Printf("connecting to %s:%d\n", cfg.QSYSHost, cfg.QSYSPort)
	if cfg.EventMonitoringEnabled {
		pterm.Info.Printf("event monitoring enabled, writing to %s\n", filepath.Clean(cfg.EventMonitoringDBPath))
	} else {
		pterm.Info.Println("event monitoring disabled")
	}
}
