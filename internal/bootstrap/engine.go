package bootstrap

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/accordvoice/accord/internal/gateway"
	"github.com/accordvoice/accord/internal/health"
	"github.com/accordvoice/accord/internal/persist"
	"github.com/accordvoice/accord/internal/relay"
	"github.com/accordvoice/accord/server"
)

func ProvidePersist(db *gorm.DB, logger *slog.Logger) (*persist.Store, error) {
	if db == nil {
		return nil, nil
	}
	store := persist.NewStore(db, logger)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func ProvideRelay(redisClient *redis.Client, logger *slog.Logger) *relay.Relay {
	if redisClient == nil {
		return nil
	}
	return relay.New(redisClient, logger)
}

func ProvideLibrary(cfg *Config, store *persist.Store, r *relay.Relay, logger *slog.Logger) (*server.Library, error) {
	return server.NewLibrary(server.Options{
		Logger:      logger,
		StorageRoot: cfg.StorageRoot,
		AuthSecret:  cfg.AuthSecret,
		Persist:     store,
		Relay:       r,
	})
}

func ProvideGateway(lib *server.Library, cfg *Config, logger *slog.Logger) *gateway.Server {
	return gateway.NewServer(lib, cfg.RequireAuth, logger)
}

func ProvideHealthHandler(db *gorm.DB, redisClient *redis.Client, lib *server.Library, cfg *Config) *health.Handler {
	return health.NewHandler(db, redisClient, lib, cfg.Version)
}

func RegisterRoutes(e *echo.Echo, gw *gateway.Server, h *health.Handler, cfg *Config) {
	gw.RegisterRoutes(e, gateway.RateLimiter(gateway.RateLimiterConfig{
		RequestsPerSecond: cfg.RateRequestsPerSecond,
		Burst:             cfg.RateBurst,
		CleanupInterval:   gateway.DefaultRateLimiterConfig().CleanupInterval,
	}))
	h.RegisterRoutes(e)
}

// StartEngine brings the default virtual server up on start and tears
// the whole library down on stop.
func StartEngine(lc fx.Lifecycle, lib *server.Library, r *relay.Relay, cfg *Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if r != nil {
				r.SetHandler(lib.HandleRelayed)
			}
			lib.SetInstanceSpeedLimit(cfg.InstanceSpeedLimit)

			vs, err := lib.CreateServer(cfg.DefaultServerName, cfg.DefaultServerMaxClients, cfg.DefaultServerPassword)
			if err != nil {
				return err
			}
			logger.Info("default virtual server up", "server_id", vs.ID(), "name", cfg.DefaultServerName)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lib.Shutdown("server shutting down")
			if r != nil {
				r.Close()
			}
			return nil
		},
	})
}

var EngineModule = fx.Options(
	fx.Provide(
		ProvidePersist,
		ProvideRelay,
		ProvideLibrary,
		ProvideGateway,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(StartEngine),
)
