package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/suman-kim/auto-trade-server-sub000/internal/config"
	"github.com/suman-kim/auto-trade-server-sub000/internal/engine"
	"github.com/suman-kim/auto-trade-server-sub000/internal/exchange"
	"github.com/suman-kim/auto-trade-server-sub000/internal/execution"
	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/util"
)

var (
	framesPath    string
	replayJournal bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed recorded raw frames through the pipeline offline",
	Long: `Replay parses a file of recorded feed messages (one per line), dispatches the events to the
configured strategies against an in-memory store and prints every generated signal as JSON.

Example:
  autotrade replay --config internal/config/config.yaml --frames testdata/frames.txt`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&framesPath, "frames", "", "file with one raw feed message per line")
	replayCmd.Flags().BoolVar(&replayJournal, "journal", false, "also append signals to store.journal_path")
	_ = replayCmd.MarkFlagRequired("frames")
	rootCmd.AddCommand(replayCmd)
}

// replayStats summarizes a replay run.
type replayStats struct {
	Lines    int
	Control  int
	Rejected int
	Events   int
	Signals  int
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !replayJournal {
		cfg.Store.JournalPath = ""
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	f, err := os.Open(framesPath)
	if err != nil {
		return fmt.Errorf("open frames: %w", err)
	}
	defer f.Close()

	stats, err := replay(cmd.Context(), cfg, f, cmd.OutOrStdout(), log)
	if err != nil {
		return err
	}
	log.Info().
		Int("lines", stats.Lines).
		Int("control", stats.Control).
		Int("rejected", stats.Rejected).
		Int("events", stats.Events).
		Int("signals", stats.Signals).
		Msg("replay finished")
	return nil
}

// replay drives raw frames through the dispatcher synchronously and writes each new signal to w.
func replay(ctx context.Context, cfg *config.Config, r io.Reader, w io.Writer, log zerolog.Logger) (replayStats, error) {
	var stats replayStats
	insts := instruments(cfg)
	strats, err := strategies(cfg)
	if err != nil {
		return stats, err
	}
	repos, mem, err := memoryRepositories(cfg, insts, strats)
	if err != nil {
		return stats, err
	}
	defer repos.close()

	// The dispatcher evaluates strategies at the replayed frame time, not the wall clock.
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	dispatcher := engine.New(repos.instruments, repos.strategies, repos.signals, log,
		engine.WithExecutor(execution.NewExecutor(log, limits(cfg))),
		engine.WithHistory(market.NewHistory(cfg.Feed.HistorySize)),
		engine.WithExecutionTimeout(cfg.Engine.ExecutionTimeout),
		engine.WithClock(func() time.Time { return time.Unix(0, clock.Load()) }),
	)

	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++
		if exchange.ClassifyControl(line) != exchange.ControlNone {
			stats.Control++
			continue
		}
		frame, err := exchange.ParseFrame(line)
		if err != nil {
			stats.Rejected++
			log.Warn().Err(err).Int("line", stats.Lines).Msg("frame rejected")
			continue
		}
		ts, ok := frame.Time()
		if !ok {
			ts = time.Unix(0, clock.Load()).Add(time.Second)
		}
		clock.Store(ts.UnixNano())
		for _, ev := range frame.Events(ts) {
			stats.Events++
			before := len(mem.Signals())
			if err := dispatcher.Handle(ctx, ev); err != nil {
				if errors.Is(err, engine.ErrInstrumentNotFound) || errors.Is(err, engine.ErrInvalidEvent) {
					continue
				}
				return stats, err
			}
			for _, sig := range mem.Signals()[before:] {
				stats.Signals++
				if err := enc.Encode(sig); err != nil {
					return stats, err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read frames: %w", err)
	}
	dispatcher.Wait()
	return stats, nil
}
