// Package daemon composes the knot client engines into a running process.
package daemon

import (
	"context"
	"errors"

	"github.com/knotmsg/knot/internal/bus"
	"github.com/knotmsg/knot/internal/call"
	"github.com/knotmsg/knot/internal/chat"
	"github.com/knotmsg/knot/internal/config"
	"github.com/knotmsg/knot/internal/directory"
	"github.com/knotmsg/knot/internal/lock"
	"github.com/knotmsg/knot/internal/logging"
	"github.com/knotmsg/knot/internal/remote"
	"github.com/knotmsg/knot/internal/session"
	"github.com/knotmsg/knot/internal/store"
	"github.com/knotmsg/knot/internal/stream"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	UserID      string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRemoteClient,
			provideDirectory,
			provideCallSession,
			provideChatEngine,
			provideCallEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemoteClient(cfg *config.Config) *remote.Client {
	return remote.New(cfg.Server.ChatURL, cfg.Server.UserURL, cfg.Server.IdentityURL)
}

func provideDirectory(db *store.DB, client *remote.Client, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(db, client, b, logger)
}

func provideCallSession(b *bus.Bus) *call.Session {
	return call.NewSession(b)
}

func provideChatEngine(cfg *config.Config, db *store.DB, client *remote.Client, dir *directory.Directory, b *bus.Bus, logger *zap.Logger) *chat.Engine {
	dialer := stream.NewWSDialer(cfg.Server.ChatStreamURL, logger.Named("chat_stream"))
	return chat.NewEngine(db, client, dir, dialer, b, logger.Named("chat"))
}

func provideCallEngine(cfg *config.Config, cs *call.Session, b *bus.Bus, logger *zap.Logger) *call.Engine {
	dialer := stream.NewWSDialer(cfg.Server.SignalURL, logger.Named("signal_stream"))
	return call.NewEngine(dialer, cs, b, logger.Named("call"))
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, p Params, chatEngine *chat.Engine, callEngine *call.Engine, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("daemon starting", zap.String("session", p.SessionName), zap.String("user", p.UserID))

			chatEngine.SubscribeEvents(runCtx, p.UserID)

			go func() {
				if _, err := chatEngine.LoadIncremental(runCtx, p.UserID); err != nil {
					logger.Error("startup sync failed", zap.Error(err))
				}
			}()

			// The signaling stream does not reconnect: a transport failure
			// aborts the session and shuts the daemon down for a clean
			// restart by the supervisor.
			go func() {
				err := callEngine.StartEventListener(runCtx, p.UserID)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("signaling stream ended", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			logger.Info("daemon stopping")
			cancel()
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	})
}
