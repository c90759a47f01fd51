package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/config"
	"github.com/suman-kim/auto-trade-server-sub000/internal/engine"
	"github.com/suman-kim/auto-trade-server-sub000/internal/exchange"
	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/notify"
	"github.com/suman-kim/auto-trade-server-sub000/internal/risk"
	"github.com/suman-kim/auto-trade-server-sub000/internal/store"
	"github.com/suman-kim/auto-trade-server-sub000/internal/store/postgres"
	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

// repositories bundles the dispatcher's storage ports and how to release them.
type repositories struct {
	instruments engine.InstrumentRepository
	strategies  engine.StrategyRepository
	signals     engine.SignalRepository
	close       func()
}

func instruments(cfg *config.Config) []market.Instrument {
	out := make([]market.Instrument, 0, len(cfg.Feed.Instruments))
	for _, in := range cfg.Feed.Instruments {
		out = append(out, exchange.FillCodes(market.Instrument{
			Symbol:    strings.ToUpper(strings.TrimSpace(in.Symbol)),
			Exchange:  strings.ToUpper(strings.TrimSpace(in.Exchange)),
			DayCode:   in.DayCode,
			NightCode: in.NightCode,
		}))
	}
	return out
}

func strategies(cfg *config.Config) ([]strategy.Strategy, error) {
	out := make([]strategy.Strategy, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		built, err := strategy.Build(s)
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}

func limits(cfg *config.Config) risk.Limits {
	return risk.Limits{
		MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade,
		MaxPositionSize:     cfg.Risk.MaxPositionSize,
	}
}

// subscriptions pairs every configured transaction with the codes it addresses.
// Domestic trades are keyed by the bare symbol; overseas transactions by venue codes.
func subscriptions(cfg *config.Config, insts []market.Instrument) []exchange.Subscription {
	var out []exchange.Subscription
	for _, tr := range cfg.Feed.TrIDs {
		for _, inst := range insts {
			if tr == exchange.TrDomesticTrade {
				out = append(out, exchange.Subscription{TrID: tr, Code: inst.Symbol})
				continue
			}
			for _, code := range inst.Codes() {
				out = append(out, exchange.Subscription{TrID: tr, Code: code})
			}
		}
	}
	return out
}

// memoryRepositories seeds an in-process store; the journal, when configured, records every signal.
func memoryRepositories(cfg *config.Config, insts []market.Instrument, strats []strategy.Strategy) (repositories, *store.Memory, error) {
	mem := store.NewMemory(0)
	for _, inst := range insts {
		mem.AddInstrument(inst)
	}
	for _, s := range strats {
		mem.AddStrategy(s)
	}
	repos := repositories{instruments: mem, strategies: mem, signals: mem, close: func() {}}
	if cfg.Store.JournalPath != "" {
		journal, err := store.NewJournal(cfg.Store.JournalPath, mem)
		if err != nil {
			return repositories{}, nil, fmt.Errorf("open journal: %w", err)
		}
		repos.signals = journal
		repos.close = func() { _ = journal.Close() }
	}
	return repos, mem, nil
}

func postgresRepositories(ctx context.Context, dsn string, insts []market.Instrument, strats []strategy.Strategy) (repositories, error) {
	if dsn == "" {
		return repositories{}, fmt.Errorf("store.driver postgres requires DATABASE_URL")
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return repositories{}, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return repositories{}, fmt.Errorf("migrate: %w", err)
	}
	for _, inst := range insts {
		if _, err := db.UpsertInstrument(ctx, inst); err != nil {
			db.Close()
			return repositories{}, fmt.Errorf("seed instrument %s: %w", inst.Symbol, err)
		}
	}
	for _, s := range strats {
		if _, err := db.SaveStrategy(ctx, s); err != nil {
			db.Close()
			return repositories{}, fmt.Errorf("seed strategy %q: %w", s.Name, err)
		}
	}
	return repositories{instruments: db, strategies: db, signals: db, close: db.Close}, nil
}

// publisher builds one publisher per configured driver; several are combined in a notify.Fanout.
func publisher(cfg *config.Config, secrets config.Secrets, log zerolog.Logger) (notify.Publisher, error) {
	var pubs notify.Fanout
	for _, driver := range cfg.Notify.Drivers() {
		var (
			pub notify.Publisher
			err error
		)
		switch driver {
		case "nats":
			subject := cfg.Notify.Subject
			if subject == "" {
				subject = "autotrade.signals"
			}
			pub, err = notify.NewNATSPublisher(secrets.NATSURL, subject, log)
		case "kafka":
			pub, err = notify.NewKafkaPublisher(secrets.KafkaBrokers, cfg.Notify.Topic)
		default:
			err = fmt.Errorf("unknown notify driver %q", driver)
		}
		if err != nil {
			_ = pubs.Close()
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	switch len(pubs) {
	case 0:
		return nil, nil
	case 1:
		return pubs[0], nil
	default:
		return pubs, nil
	}
}
