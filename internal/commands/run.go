package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/suman-kim/auto-trade-server-sub000/internal/broker/kis"
	"github.com/suman-kim/auto-trade-server-sub000/internal/config"
	"github.com/suman-kim/auto-trade-server-sub000/internal/engine"
	"github.com/suman-kim/auto-trade-server-sub000/internal/events"
	"github.com/suman-kim/auto-trade-server-sub000/internal/exchange"
	"github.com/suman-kim/auto-trade-server-sub000/internal/execution"
	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/metrics"
	"github.com/suman-kim/auto-trade-server-sub000/internal/notify"
	"github.com/suman-kim/auto-trade-server-sub000/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream market data and evaluate strategies until interrupted",
	Long: `Run connects to the KIS realtime feed (or polls REST snapshots when feed.mode is poll),
dispatches every market event to the active strategies and persists the resulting signals.

Secrets are read from the environment or a .env file:
  KIS_APP_KEY, KIS_APP_SECRET   broker credentials
  DATABASE_URL                  required when store.driver is postgres
  NATS_URL, KAFKA_BROKERS       signal notification targets`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	secrets, err := config.LoadSecrets(envFiles...)
	if err != nil {
		return err
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat).With().Str("app", cfg.App.Name).Logger()

	ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	insts := instruments(cfg)
	strats, err := strategies(cfg)
	if err != nil {
		return err
	}

	var repos repositories
	switch cfg.Store.Driver {
	case "postgres":
		repos, err = postgresRepositories(ctx, secrets.DatabaseURL, insts, strats)
	default:
		repos, _, err = memoryRepositories(cfg, insts, strats)
	}
	if err != nil {
		return err
	}
	defer repos.close()

	client, err := kis.New(cfg.KIS.RestURL, kis.Credentials{AppKey: secrets.AppKey, AppSecret: secrets.AppSecret}, log)
	if err != nil {
		return err
	}
	defer client.Close()

	dispatcher := engine.New(repos.instruments, repos.strategies, repos.signals, log,
		engine.WithExecutor(execution.NewExecutor(log, limits(cfg))),
		engine.WithHistory(market.NewHistory(cfg.Feed.HistorySize)),
		engine.WithExecutionTimeout(cfg.Engine.ExecutionTimeout),
	)

	pub, err := publisher(cfg, secrets, log)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		sub, unsubscribe := dispatcher.Signals().Subscribe(cfg.Engine.EventBuffer)
		defer unsubscribe()
		go func() {
			if err := notify.Forward(ctx, sub, pub, cfg.Notify.PublishTimeout, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("signal forwarding stopped")
			}
		}()
	}

	feedEvents := make(chan market.MarketEvent, cfg.Engine.EventBuffer)
	feedErr := make(chan error, 1)
	switch cfg.Feed.Mode {
	case config.FeedPoll:
		poller := exchange.NewPoller(client, insts, cfg.Feed.PollInterval, log)
		go func() { feedErr <- poller.Run(ctx, feedEvents) }()
	default:
		manager := exchange.NewManager(client, log,
			exchange.WithURL(cfg.KIS.WSURL),
			exchange.WithReconnect(cfg.Feed.BaseReconnectInterval, cfg.Feed.MaxReconnectAttempts),
			exchange.WithHeartbeat(cfg.Feed.HeartbeatInterval),
			exchange.WithReadTimeout(cfg.Feed.ReadTimeout),
			exchange.WithApprovalTTL(cfg.KIS.ApprovalTTL),
			exchange.WithSubscriptions(subscriptions(cfg, insts)...),
		)
		conn, unsubscribe := manager.Events().Subscribe(16)
		defer unsubscribe()
		go logConnectionEvents(ctx, conn, log)
		go func() { feedErr <- manager.Run(ctx, feedEvents) }()
	}

	go func() {
		err := <-feedErr
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feed stopped")
		}
		cancel()
	}()

	log.Info().Str("mode", cfg.Feed.Mode).Int("instruments", len(insts)).Int("strategies", len(strats)).Msg("pipeline started")
	if err := dispatcher.Run(ctx, feedEvents); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	waitWithTimeout(dispatcher, cfg.Engine.ExecutionTimeout+time.Second, log)
	log.Info().Uint64("signals_dropped", dispatcher.Signals().Dropped()).Msg("shutting down")
	return nil
}

func logConnectionEvents(ctx context.Context, in <-chan events.ConnectionEvent, log zerolog.Logger) {
	log = log.With().Str("component", "feed").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			level := zerolog.InfoLevel
			switch {
			case ev.Kind == events.MaxReconnectAttemptsReached:
				level = zerolog.ErrorLevel
			case ev.Err != nil:
				level = zerolog.WarnLevel
			}
			log.WithLevel(level).Err(ev.Err).
				Str("event", ev.Kind.String()).
				Int("attempt", ev.Attempt).
				Dur("delay", ev.Delay).
				Msg("connection event")
		}
	}
}

func waitWithTimeout(d *engine.Dispatcher, timeout time.Duration, log zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("pending executions did not finish")
	}
}
