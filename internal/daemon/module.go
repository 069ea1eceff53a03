package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/orrbarkat/whatsapp-mcp/internal/bridge"
	"github.com/orrbarkat/whatsapp-mcp/internal/bus"
	"github.com/orrbarkat/whatsapp-mcp/internal/config"
	"github.com/orrbarkat/whatsapp-mcp/internal/lock"
	"github.com/orrbarkat/whatsapp-mcp/internal/logging"
	"github.com/orrbarkat/whatsapp-mcp/internal/paths"
	"github.com/orrbarkat/whatsapp-mcp/internal/status"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage/rest"
	"github.com/orrbarkat/whatsapp-mcp/internal/storage/sqlite"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	ConfigPath string // empty = use the default path
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStorage,
			provideMonitor,
			provideSupervisor,
			provideClient,
			provideOrchestrator,
		),
		fx.Invoke(registerEventLog),
		fx.Invoke(registerLifecycle),
	)
}

// registerEventLog subscribes to bridge events for the daemon's lifetime and
// surfaces them into the log: QR captures and lifecycle state changes at info,
// raw console output at debug.
func registerEventLog(lc fx.Lifecycle, b *bus.Bus, logger *zap.Logger) {
	var unsubscribe func()
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			events, cancel := b.Subscribe("bridge.", 256)
			unsubscribe = cancel
			go func() {
				defer close(done)
				logBridgeEvents(events, logger)
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			unsubscribe()
			<-done
			return nil
		},
	})
}

func logBridgeEvents(events <-chan bus.Event, logger *zap.Logger) {
	for evt := range events {
		switch evt.Kind {
		case "bridge.qr_captured":
			logger.Info("qr code captured, scan it with the whatsapp app")
		case "bridge.status_changed":
			if change, ok := evt.Payload.(status.StatusChange); ok {
				logger.Info("bridge status changed",
					zap.String("from", string(change.From)),
					zap.String("to", string(change.To)))
			}
		case "bridge.output":
			if line, ok := evt.Payload.(string); ok {
				logger.Debug("bridge output", zap.String("line", line))
			}
		}
	}
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(paths.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock")
	l, err := lock.Acquire(paths.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideStorage(cfg *config.Config, logger *zap.Logger) (storage.Adapter, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		adapter, err := sqlite.NewAdapter(cfg.Database.SQLite.MessagesPath, cfg.Database.SQLite.SessionPath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite storage initialized",
			zap.String("messages", cfg.Database.SQLite.MessagesPath),
			zap.String("session", cfg.Database.SQLite.SessionPath))
		return adapter, nil
	case "rest":
		adapter, err := rest.NewAdapter(cfg.Database.REST.BaseURL, cfg.Database.REST.APIKey, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("rest storage initialized", zap.String("base_url", cfg.Database.REST.BaseURL))
		return adapter, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func provideMonitor(b *bus.Bus, logger *zap.Logger) *bridge.OutputMonitor {
	return bridge.NewOutputMonitor(b, logger)
}

func provideSupervisor(cfg *config.Config, monitor *bridge.OutputMonitor, machine *status.Machine, logger *zap.Logger) *bridge.Supervisor {
	return bridge.NewSupervisor(bridge.SupervisorConfig{
		Dir:             cfg.Bridge.Dir,
		Executable:      cfg.Bridge.Executable,
		StartupWatch:    time.Duration(cfg.Bridge.StartupWatchSeconds) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Bridge.ShutdownTimeoutSeconds) * time.Second,
	}, monitor, machine, logger)
}

func provideClient(cfg *config.Config, logger *zap.Logger) *bridge.Client {
	return bridge.NewClient(cfg.Bridge.APIBaseURL, logger)
}

func provideOrchestrator(sup *bridge.Supervisor, client *bridge.Client, adapter storage.Adapter, monitor *bridge.OutputMonitor, logger *zap.Logger) *bridge.Orchestrator {
	return bridge.NewOrchestrator(sup, client, adapter.Authentication(), monitor, logger)
}

func registerLifecycle(lc fx.Lifecycle, sup *bridge.Supervisor, orch *bridge.Orchestrator, adapter storage.Adapter, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Bring the bridge up in the background so daemon startup
			// never blocks on QR authentication.
			go func() {
				ready, message, qrURL := orch.EnsureReady(context.Background())
				if ready {
					logger.Info("bridge ready", zap.String("message", message))
					return
				}
				fields := []zap.Field{zap.String("message", message)}
				if qrURL != "" {
					fields = append(fields, zap.String("qr_url", qrURL))
				}
				logger.Warn("bridge not ready", fields...)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := sup.Stop(); err != nil {
				logger.Warn("error stopping bridge", zap.Error(err))
			}
			if err := adapter.Close(); err != nil {
				logger.Warn("error closing storage", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
