package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/Visecy/Karuha-sub000/internal/adapter/channel"
	"github.com/Visecy/Karuha-sub000/internal/domain"
	"github.com/Visecy/Karuha-sub000/internal/infra/config"
	"github.com/Visecy/Karuha-sub000/internal/infra/logger"
	"github.com/Visecy/Karuha-sub000/internal/infra/tracer"
	"github.com/Visecy/Karuha-sub000/internal/message"
	"github.com/Visecy/Karuha-sub000/internal/usecase"
	"github.com/Visecy/Karuha-sub000/internal/usecase/dispatch"
	"github.com/Visecy/Karuha-sub000/internal/usecase/eventbus"
	"github.com/Visecy/Karuha-sub000/internal/usecase/session"
)

const shutdownTimeout = 10 * time.Second

var errConnectionLost = errors.New("server connection lost")

func run(ctx context.Context, cfgPath string) error {
	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger,
		slog.String("bot", cfg.Bot.Name),
		slog.String("mode", cfg.Server.ConnectMode),
	)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, cfg.Bot.Name)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Transport
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}
	var ch domain.Channel = client
	if cfg.Server.Breaker.Enabled {
		ch = channel.NewBreaker(client, cfg.Server.Breaker, log)
	}

	// 5. Dispatch, sessions and commands
	reg := dispatch.NewRegistry[*message.Message]("message", log,
		dispatch.WithDefaultThreshold(cfg.Dispatch.Threshold))
	deps := session.Deps{
		Channel:     ch,
		Registry:    reg,
		Limiter:     session.NewLimiter(float64(cfg.Server.SendRate), cfg.Server.SendBurst),
		Bus:         bus,
		Logger:      log,
		WaitTimeout: cfg.Dispatch.WaitTimeout,
	}
	commands, err := newBotCommands(deps, cfg.Command.Prefixes)
	if err != nil {
		return fmt.Errorf("commands: %w", err)
	}
	commands.Listen(reg)
	unsubscribe := bus.Subscribe(domain.EventCommandNotFound, replyUnknownCommand(deps, cfg.Command.Prefixes[0]))
	defer unsubscribe()

	// 6. Router
	router := usecase.NewRouter(ch, reg, bus, log)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if _, err := listenGreetings(reg, deps, client.UserID()); err != nil {
		return fmt.Errorf("greeting listener: %w", err)
	}
	log.Info("karuha started",
		"host", cfg.Server.Host,
		"user", client.UserID(),
		"commands", len(commands.Commands()),
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-client.Done():
		runErr = errConnectionLost
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := ch.Stop(shutdownCtx); err != nil {
		log.Error("channel stop error", "error", err)
	}
	router.Wait()
	log.Info("karuha stopped", "stats", reg.Stats())
	return runErr
}

func newClient(cfg *config.Config, log *slog.Logger) (*channel.Client, error) {
	opts := []channel.Option{
		channel.WithTimeout(cfg.Server.Timeout),
		channel.WithRetry(cfg.Server.Retry),
	}
	switch cfg.Server.ConnectMode {
	case config.ModeWebSocket:
		ws := channel.WebSocketConfig{Host: cfg.Server.Host, APIKey: cfg.Server.APIKey, Secure: cfg.Server.Secure}
		return channel.NewWebSocket(ws, cfg.Bot.Scheme, cfg.Bot.Secret, log, opts...), nil
	case config.ModeGRPC:
		return channel.NewGRPC(cfg.Server.Host, cfg.Bot.Scheme, cfg.Bot.Secret, log, opts...), nil
	default:
		return nil, fmt.Errorf("%w: connect mode %q", domain.ErrInvalidInput, cfg.Server.ConnectMode)
	}
}
