package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"triarb/internal/api/rest"
	"triarb/internal/arbitrage"
	"triarb/internal/backtest"
	"triarb/internal/config"
	"triarb/internal/exchange/binance"
	"triarb/internal/exchange/bybit"
	"triarb/internal/exchange/common"
	"triarb/internal/infra/health"
	"triarb/internal/infra/log"
	"triarb/internal/infra/metrics"
	"triarb/internal/infra/runner"
	"triarb/internal/ledger"
	"triarb/internal/notify"
)

func main() { os.Exit(run()) }

func run() int {
	cfg := config.Load()
	logger := log.NewLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// offline replay of recorded books, no venue or notifier involved
	if ran, err := backtest.RunCSV(ctx, cfg, logger, os.Stdout); ran {
		if err != nil {
			logger.Error().Err(err).Msg("replay failed")
			return 1
		}
		return 0
	}

	registry := metrics.Init(logger)

	var senders []notify.Sender
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		if cfg.Telegram.BaseURL != "" {
			senders = append(senders, notify.NewTelegramSenderWithBaseURL(cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.ChatID))
		} else {
			senders = append(senders, notify.NewTelegramSender(cfg.Telegram.Token, cfg.Telegram.ChatID))
		}
	} else {
		logger.Warn().Msg("telegram not configured, reports go to the log only")
	}
	notifier := notify.New(senders, cfg.Trading.Verbose, logger)
	defer func() { _ = notifier.Close() }()

	led, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.Path)
	if err != nil {
		logger.Error().Err(err).Msg("open ledger")
		notifier.Send(ctx, arbitrage.CriticalText(err))
		return 1
	}
	defer func() { _ = led.Close() }()

	gw := newGateway(cfg, logger)
	if err := gw.Start(ctx); err != nil {
		logger.Error().Err(err).Str("venue", gw.Name()).Msg("gateway start failed")
		notifier.Send(ctx, arbitrage.CriticalText(err))
		return 1
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Stop(stopCtx)
	}()

	logger.Info().Str("venue", gw.Name()).Bool("live", cfg.Trading.Live).
		Str("ledger", cfg.Ledger.Path).Msg("Arbitrage scanner starting")

	eng := arbitrage.New(cfg, gw, notifier, led, logger)
	if err := eng.Prepare(ctx); err != nil {
		logger.Error().Err(err).Msg("startup failed")
		if !errors.Is(err, arbitrage.ErrConnection) {
			notifier.Send(context.Background(), arbitrage.CriticalText(err))
		}
		return 1
	}
	health.SetReady(true)
	defer health.SetReady(false)

	g := runner.NewGroup()
	g.Go(ctx, "engine", eng.Loop)
	if cfg.Server.Enabled {
		admin := rest.New(cfg, registry, eng, logger)
		g.Go(ctx, "admin", func(ctx context.Context) error {
			if err := admin.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("admin server error")
			}
			<-ctx.Done()
			return nil
		})
	}

	code := 0
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case ex := <-g.Done():
		if ex.Err != nil {
			code = 1
			logger.Error().Err(ex.Err).Str("worker", ex.Name).Msg("worker stopped")
			notifier.Send(context.Background(), arbitrage.CriticalText(ex.Err))
		}
	}
	health.SetReady(false)
	stop()
	g.Wait()
	logger.Info().Msg("shutdown complete")
	return code
}

func newGateway(cfg config.Config, logger log.Logger) common.Gateway {
	if cfg.Exchange.Venue == "binance" {
		return binance.New(cfg, logger)
	}
	return bybit.New(cfg, logger)
}
