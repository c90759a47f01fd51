// Package postgres persists instruments, strategies and signals with pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

//go:embed schema.sql
var schema string

// Store implements the dispatcher repositories on a pgx pool.
type Store struct{ DB *pgxpool.Pool }

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.DB.Close() }

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

const instrumentColumns = `id, symbol, exchange, day_code, night_code, last_price, high, low, volume, updated_at`

func scanInstrument(row pgx.Row) (market.Instrument, error) {
	var inst market.Instrument
	err := row.Scan(&inst.ID, &inst.Symbol, &inst.Exchange, &inst.DayCode, &inst.NightCode,
		&inst.LastPrice, &inst.High, &inst.Low, &inst.Volume, &inst.UpdatedAt)
	return inst, err
}

// UpsertInstrument inserts inst or refreshes its codes, keyed by symbol.
func (s *Store) UpsertInstrument(ctx context.Context, inst market.Instrument) (market.Instrument, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO instruments (symbol, exchange, day_code, night_code)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol)
		DO UPDATE SET exchange = EXCLUDED.exchange,
		              day_code = EXCLUDED.day_code,
		              night_code = EXCLUDED.night_code
		RETURNING `+instrumentColumns,
		inst.Symbol, inst.Exchange, inst.DayCode, inst.NightCode)
	return scanInstrument(row)
}

// FindByCode resolves a feed code or bare symbol.
func (s *Store) FindByCode(ctx context.Context, code string) (market.Instrument, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+instrumentColumns+` FROM instruments
		WHERE upper(day_code) = upper($1) OR upper(night_code) = upper($1) OR upper(symbol) = upper($1)
		ORDER BY id LIMIT 1`, code)
	inst, err := scanInstrument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Instrument{}, fmt.Errorf("%q: %w", code, market.ErrInstrumentNotFound)
	}
	return inst, err
}

// UpsertPriceVolume stores the latest observation. Non-positive values keep the stored column.
func (s *Store) UpsertPriceVolume(ctx context.Context, code string, price, high, low, volume float64) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE instruments SET
		    last_price = CASE WHEN $2::float8 > 0 THEN $2::float8 ELSE last_price END,
		    high       = CASE WHEN $3::float8 > 0 THEN $3::float8 ELSE high END,
		    low        = CASE WHEN $4::float8 > 0 THEN $4::float8 ELSE low END,
		    volume     = CASE WHEN $5::float8 > 0 THEN $5::float8 ELSE volume END,
		    updated_at = now()
		WHERE upper(day_code) = upper($1) OR upper(night_code) = upper($1) OR upper(symbol) = upper($1)`,
		code, price, high, low, volume)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%q: %w", code, market.ErrInstrumentNotFound)
	}
	return nil
}

// SaveStrategy inserts s, or replaces the row with the same id when s.ID is set.
func (s *Store) SaveStrategy(ctx context.Context, st strategy.Strategy) (strategy.Strategy, error) {
	conditions, err := json.Marshal(st.Conditions)
	if err != nil {
		return st, fmt.Errorf("encode conditions: %w", err)
	}
	auto, err := json.Marshal(st.AutoTrading)
	if err != nil {
		return st, fmt.Errorf("encode auto trading: %w", err)
	}
	symbols := st.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	if st.ID == 0 {
		err = s.DB.QueryRow(ctx, `
			INSERT INTO strategies (user_id, name, preset, status, symbols, conditions, auto_trading)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			st.UserID, st.Name, st.Preset, string(st.Status), symbols, conditions, auto).Scan(&st.ID)
		return st, err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO strategies (id, user_id, name, preset, status, symbols, conditions, auto_trading)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET user_id = EXCLUDED.user_id, name = EXCLUDED.name, preset = EXCLUDED.preset,
		              status = EXCLUDED.status, symbols = EXCLUDED.symbols,
		              conditions = EXCLUDED.conditions, auto_trading = EXCLUDED.auto_trading`,
		st.ID, st.UserID, st.Name, st.Preset, string(st.Status), symbols, conditions, auto)
	return st, err
}

// ListActive returns active strategies ordered by id.
func (s *Store) ListActive(ctx context.Context) ([]strategy.Strategy, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, name, preset, status, symbols, conditions, auto_trading, last_executed_at
		FROM strategies WHERE status = $1 ORDER BY id`, string(strategy.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]strategy.Strategy, 0)
	for rows.Next() {
		var st strategy.Strategy
		var status string
		var conditions, auto []byte
		if err := rows.Scan(&st.ID, &st.UserID, &st.Name, &st.Preset, &status, &st.Symbols,
			&conditions, &auto, &st.LastExecutedAt); err != nil {
			return nil, err
		}
		st.Status = strategy.Status(status)
		if err := json.Unmarshal(conditions, &st.Conditions); err != nil {
			return nil, fmt.Errorf("strategy %d conditions: %w", st.ID, err)
		}
		if err := json.Unmarshal(auto, &st.AutoTrading); err != nil {
			return nil, fmt.Errorf("strategy %d auto trading: %w", st.ID, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// TouchLastExecuted stamps the strategy's last evaluation time.
func (s *Store) TouchLastExecuted(ctx context.Context, id int64, at time.Time) error {
	_, err := s.DB.Exec(ctx, `UPDATE strategies SET last_executed_at = $2 WHERE id = $1`, id, at)
	return err
}

// Save persists an actionable signal; saving the same id twice is a no-op.
func (s *Store) Save(ctx context.Context, sig signal.Signal) error {
	indicators, err := json.Marshal(sig.Indicators)
	if err != nil {
		return fmt.Errorf("encode indicators: %w", err)
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO signals (id, strategy_id, user_id, instrument_id, symbol, type, confidence, price, volume, indicators, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		sig.ID, sig.StrategyID, sig.UserID, sig.InstrumentID, sig.Symbol, string(sig.Type),
		sig.Confidence, sig.Price, sig.Volume, indicators, sig.CreatedAt)
	return err
}

// MarkExecuted flags the signal as executed.
func (s *Store) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.DB.Exec(ctx, `UPDATE signals SET executed = true, executed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("signal %s not found", id)
	}
	return nil
}

// RecentSignals returns the newest signals of a strategy.
func (s *Store) RecentSignals(ctx context.Context, strategyID int64, limit int) ([]signal.Signal, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, strategy_id, user_id, instrument_id, symbol, type, confidence, price, volume,
		       indicators, executed, executed_at, created_at
		FROM signals WHERE strategy_id = $1 ORDER BY created_at DESC LIMIT $2`, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]signal.Signal, 0)
	for rows.Next() {
		var sig signal.Signal
		var typ string
		var indicators []byte
		if err := rows.Scan(&sig.ID, &sig.StrategyID, &sig.UserID, &sig.InstrumentID, &sig.Symbol, &typ,
			&sig.Confidence, &sig.Price, &sig.Volume, &indicators, &sig.Executed, &sig.ExecutedAt, &sig.CreatedAt); err != nil {
			return nil, err
		}
		sig.Type = signal.Type(typ)
		if err := json.Unmarshal(indicators, &sig.Indicators); err != nil {
			return nil, fmt.Errorf("signal %s indicators: %w", sig.ID, err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
