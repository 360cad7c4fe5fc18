package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"background-agents/internal/agents"
	"background-agents/internal/api"
	"background-agents/internal/blackboard"
	"background-agents/internal/config"
	"background-agents/internal/eventbus"
	"background-agents/internal/host"
	"background-agents/internal/manifest"
)

func newServeCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the host and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, rf.logger(cmd))
		},
	}
}

// runtime is everything serve wires together.
type runtime struct {
	bus   eventbus.Bus
	store blackboard.Store
	host  *host.Host
	api   *api.Server
}

func (rt *runtime) close() error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(append(errs, rt.bus.Close())...)
}

// build wires the bus, blackboard, host and API from cfg and spawns the
// agents the manifest declares. The host is not started.
func build(ctx context.Context, cfg config.Config, logger *log.Logger) (*runtime, error) {
	if logger == nil {
		logger = log.Default()
	}
	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, err
	}

	rt := &runtime{}
	switch cfg.Bus {
	case config.BusLocal:
		rt.bus = eventbus.NewLocalBus(cfg.Host.MailboxSize, logger)
	default:
		rt.bus = eventbus.NewRedisBus(redisOptions(cfg), logger)
		rt.store = blackboard.NewRedisStore(redisOptions(cfg), logger)
	}

	rt.host = host.New(rt.bus, host.Options{
		TopicPrefix:        cfg.Host.TopicPrefix,
		MailboxSize:        cfg.Host.MailboxSize,
		MaxConcurrentHooks: cfg.Host.MaxConcurrentHooks,
		HookTimeout:        cfg.Host.HookTimeout,
		Store:              rt.store,
	}, logger)
	if err := agents.Register(rt.host); err != nil {
		rt.close()
		return nil, err
	}
	if err := manifest.Apply(ctx, rt.host, m); err != nil {
		rt.close()
		return nil, err
	}
	logger.Printf("loaded %s %s with %d agent types", m.Name, m.Version, len(m.Agents))

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	rt.api = api.New(rt.host, api.Config{
		JWTSecret:   cfg.HTTP.JWTSecret,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}, logger)
	return rt, nil
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	rt, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.host.Start(ctx); err != nil {
		if errors.Is(err, host.ErrSubscribe) || errors.Is(err, host.ErrStopped) {
			return err
		}
		logger.Printf("some agents failed to start: %v", err)
	}
	apiErr := rt.api.Run(ctx, cfg.HTTP.Listen)

	stopErr := rt.host.Stop(context.Background())
	if apiErr != nil {
		return fmt.Errorf("api: %w", apiErr)
	}
	return stopErr
}
