// The collabservice command runs the realtime collaboration service: the
// WebSocket fan-out server plus the internal dispatch API.
package main

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/evgenyalesich/project-manager/collabservice"
	"github.com/evgenyalesich/project-manager/collabservice/config"
	"github.com/evgenyalesich/project-manager/internal/api"
	"github.com/evgenyalesich/project-manager/internal/app"
	"github.com/evgenyalesich/project-manager/internal/auth"
	"github.com/evgenyalesich/project-manager/internal/dispatch"
	"github.com/evgenyalesich/project-manager/internal/guard"
	platformcache "github.com/evgenyalesich/project-manager/internal/platform/cache"
	"github.com/evgenyalesich/project-manager/internal/platform/persistence"
	"github.com/evgenyalesich/project-manager/internal/realtime"
	"github.com/evgenyalesich/project-manager/internal/test/fakes"
)

//go:embed config.yaml
var configFile []byte

// dependencies is the container for everything the two services need.
type dependencies struct {
	members    guard.MembershipStore
	viewCache  dispatch.ViewCache
	memberPing api.Pinger
	cachePing  api.Pinger
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "collabservice").Logger()

	cfg, err := config.Parse(configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize token verifier")
	}

	registry := realtime.NewRegistry(logger)
	broker := realtime.NewBroker(registry, cfg.Broker.MaxConsecutiveOverflows, logger)
	accessGuard := guard.New(deps.members, logger)

	invalidator := dispatch.NewInvalidator(deps.viewCache, deps.members, logger)
	dispatcher := dispatch.NewDispatcher(broker, invalidator, logger)

	apiService, err := collabservice.New(cfg, dispatcher, deps.memberPing, deps.cachePing, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API service")
	}

	wsServer, err := realtime.NewServer(
		realtime.ServerConfig{
			Port:           cfg.WebSocketPort,
			AllowedOrigins: cfg.Cors.AllowedOrigins,
			SendQueueSize:  cfg.Broker.SendQueueSize,
		},
		verifier,
		accessGuard,
		registry,
		broker,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create WebSocket server")
	}

	app.Run(ctx, logger, apiService, wsServer)
}

// newVerifier builds the credential verifier from config.
func newVerifier(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*auth.Verifier, error) {
	if cfg.Auth.JWKSURL != "" {
		return auth.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL, logger)
	}
	return auth.NewHMACVerifier([]byte(cfg.Auth.HMACSecret), logger)
}

// newDependencies builds the external-store adapters. Local mode swaps in
// in-memory fakes so the service can run without Postgres or Redis.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*dependencies, error) {
	if cfg.RunMode == "local" {
		logger.Warn().Msg("Running in 'local' mode. External dependencies are faked.")
		members := fakes.NewMembershipStore()
		viewCache := fakes.NewViewCache()
		return &dependencies{members: members, viewCache: viewCache}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	members, err := persistence.NewPostgresMembershipStore(pool, logger)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis view cache")
	viewCache, err := platformcache.NewRedisViewCache(rdb, logger)
	if err != nil {
		return nil, err
	}

	return &dependencies{
		members:    members,
		viewCache:  viewCache,
		memberPing: members,
		cachePing:  viewCache,
	}, nil
}
