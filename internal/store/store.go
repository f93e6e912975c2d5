// Package store provides the bot's single-writer, WAL-mode SQLite
// persistent store: trade history, arbitrage/sports positions, signal
// state, redemption tracking, and price history all live in one file at
// the configured DB path (default ./data/trading.db). The schema
// self-migrates at Open() via sequential, idempotent migration blocks,
// following the same versioned-migration idiom used elsewhere in this
// dependency pack for evolving an embedded database without a separate
// migration tool.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection and exposes typed accessors for every
// table the engine needs. All writes go through this single connection —
// SQLite WAL mode allows concurrent readers but this process is the only
// writer, so no additional locking is needed above what database/sql
// already serializes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; avoids SQLITE_BUSY under WAL from this process alone

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the database connection, checkpointing the WAL.
func (s *Store) Close() error {
	s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying *sql.DB for callers that need raw access
// (e.g. ad-hoc reporting queries).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	var version int
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS positions (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				market_slug    TEXT NOT NULL,
				condition_id   TEXT NOT NULL,
				token_id       TEXT NOT NULL,
				outcome_index  INTEGER NOT NULL,
				shares         TEXT NOT NULL,
				avg_cost       TEXT NOT NULL,
				realized_pnl   TEXT NOT NULL DEFAULT '0',
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market_slug);

			CREATE TABLE IF NOT EXISTS arbitrage_positions (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				condition_id   TEXT NOT NULL,
				neg_risk       INTEGER NOT NULL DEFAULT 0,
				split_amount   TEXT NOT NULL,
				outcome1_cost  TEXT NOT NULL,
				outcome2_cost  TEXT NOT NULL,
				opened_at      TEXT NOT NULL,
				closed_at      TEXT
			);

			CREATE TABLE IF NOT EXISTS arbitrage_trades (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				position_id    INTEGER NOT NULL REFERENCES arbitrage_positions(id),
				token_id       TEXT NOT NULL,
				side           TEXT NOT NULL,
				shares         TEXT NOT NULL,
				price          TEXT NOT NULL,
				executed_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_arb_trades_position ON arbitrage_trades(position_id);

			CREATE TABLE IF NOT EXISTS scalp_orders (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				market_slug    TEXT NOT NULL,
				token_id       TEXT NOT NULL,
				side           TEXT NOT NULL,
				price          TEXT NOT NULL,
				shares         TEXT NOT NULL,
				order_id       TEXT NOT NULL,
				placed_at      TEXT NOT NULL,
				filled_at      TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_scalp_orders_market ON scalp_orders(market_slug);

			CREATE TABLE IF NOT EXISTS trade_log (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				market_slug    TEXT NOT NULL,
				token_id       TEXT NOT NULL,
				side           TEXT NOT NULL,
				shares         TEXT NOT NULL,
				price          TEXT NOT NULL,
				order_type     TEXT NOT NULL,
				recorded_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trade_log_market ON trade_log(market_slug, recorded_at);

			CREATE TABLE IF NOT EXISTS capital_baseline (
				id               INTEGER PRIMARY KEY CHECK (id = 1),
				starting_capital TEXT NOT NULL,
				recorded_at      TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS signal_state (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp      INTEGER NOT NULL,
				market_start   INTEGER NOT NULL UNIQUE,
				state          TEXT NOT NULL,
				received_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_signal_state_market_start ON signal_state(market_start DESC);

			CREATE TABLE IF NOT EXISTS redemption_tracking (
				condition_id     TEXT PRIMARY KEY,
				attempts         INTEGER NOT NULL DEFAULT 0,
				side1_redeemed   INTEGER NOT NULL DEFAULT 0,
				side2_redeemed   INTEGER NOT NULL DEFAULT 0,
				last_attempt_at  TEXT,
				redeemed_at      TEXT,
				last_error       TEXT
			);

			CREATE TABLE IF NOT EXISTS price_history (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				market_slug    TEXT NOT NULL,
				token_id       TEXT NOT NULL,
				price          REAL NOT NULL,
				sampled_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_price_history_market ON price_history(market_slug, sampled_at);

			CREATE TABLE IF NOT EXISTS user_fills (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				trade_id       TEXT NOT NULL UNIQUE,
				market_slug    TEXT NOT NULL,
				token_id       TEXT NOT NULL,
				side           TEXT NOT NULL,
				shares         TEXT NOT NULL,
				price          TEXT NOT NULL,
				filled_at      TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS simulation_runs (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				label          TEXT NOT NULL,
				started_at     TEXT NOT NULL,
				finished_at    TEXT
			);

			CREATE TABLE IF NOT EXISTS simulation_trades (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id         INTEGER NOT NULL REFERENCES simulation_runs(id),
				market_slug    TEXT NOT NULL,
				side           TEXT NOT NULL,
				shares         TEXT NOT NULL,
				price          TEXT NOT NULL,
				executed_at    TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		s.logger.Info("applied migration v1 (base schema)")
	}

	if version < 2 {
		// pnl_synced/recovery_attempts track whether a settled position's PnL
		// has been reconciled against the dashboard relay, and how many times
		// redemption recovery has retried after a crash mid-settlement.
		if err := s.ensureTableColumn("positions", "pnl_synced", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("migration v2 positions.pnl_synced: %w", err)
		}
		if err := s.ensureTableColumn("redemption_tracking", "recovery_attempts", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("migration v2 redemption_tracking.recovery_attempts: %w", err)
		}
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (2);`); err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		s.logger.Info("applied migration v2 (pnl_synced + recovery_attempts)")
	}

	return nil
}

func (s *Store) tableExists(name string) (bool, error) {
	var got string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=? LIMIT 1`, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) ensureTableColumn(table, column, def string) error {
	rows, err := s.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, typ string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + def)
	return err
}

// marketStartFor floors a unix-second timestamp to its containing
// 15-minute market window, expressed in unix milliseconds.
func marketStartFor(timestamp int64) int64 {
	const windowMs = int64(15 * 60 * 1000)
	ms := timestamp * 1000
	return (ms / windowMs) * windowMs
}

// InsertSignal upserts the signal state for the 15-minute window
// containing timestamp (unix seconds). Re-inserting for the same window
// replaces the stored state, matching the UNIQUE constraint on market_start.
func (s *Store) InsertSignal(timestamp int64, state string) (int64, error) {
	marketStart := marketStartFor(timestamp)

	res, err := s.db.Exec(`
		INSERT INTO signal_state (timestamp, market_start, state, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(market_start) DO UPDATE SET
			timestamp = excluded.timestamp,
			state = excluded.state,
			received_at = excluded.received_at
	`, timestamp, marketStart, state, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert signal: %w", err)
	}
	return res.LastInsertId()
}

// SignalRow is the persisted shape of one signal_state row.
type SignalRow struct {
	Timestamp   int64
	MarketStart int64
	State       string
	ReceivedAt  string
}

// LatestSignal returns the most recently received signal, or nil if none.
func (s *Store) LatestSignal() (*SignalRow, error) {
	row := s.db.QueryRow(`SELECT timestamp, market_start, state, received_at FROM signal_state ORDER BY market_start DESC LIMIT 1`)
	return scanSignalRow(row)
}

// SignalForWindow returns the stored signal for the given market_start
// window, or nil if none was ever recorded for it.
func (s *Store) SignalForWindow(marketStart int64) (*SignalRow, error) {
	row := s.db.QueryRow(`SELECT timestamp, market_start, state, received_at FROM signal_state WHERE market_start = ?`, marketStart)
	return scanSignalRow(row)
}

func scanSignalRow(row *sql.Row) (*SignalRow, error) {
	var r SignalRow
	err := row.Scan(&r.Timestamp, &r.MarketStart, &r.State, &r.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan signal: %w", err)
	}
	return &r, nil
}

// RedemptionAttempts returns the current attempt count and redemption
// status for a condition. Returns zero values if no row exists yet.
func (s *Store) RedemptionAttempts(conditionID string) (attempts int, side1, side2 bool, err error) {
	row := s.db.QueryRow(`SELECT attempts, side1_redeemed, side2_redeemed FROM redemption_tracking WHERE condition_id = ?`, conditionID)
	var s1, s2 int
	err = row.Scan(&attempts, &s1, &s2)
	if err == sql.ErrNoRows {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("scan redemption tracking: %w", err)
	}
	return attempts, s1 != 0, s2 != 0, nil
}

// LastRedemptionError returns the error text recorded on the most recent
// redemption attempt for conditionID, or "" if no attempt has been made.
func (s *Store) LastRedemptionError(conditionID string) (string, error) {
	var lastErr sql.NullString
	row := s.db.QueryRow(`SELECT last_error FROM redemption_tracking WHERE condition_id = ?`, conditionID)
	err := row.Scan(&lastErr)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan last redemption error: %w", err)
	}
	return lastErr.String, nil
}

// RecordRedemptionAttempt increments the attempt counter for a condition
// and records the outcome, creating the row if this is the first attempt.
func (s *Store) RecordRedemptionAttempt(conditionID string, side1Done, side2Done bool, lastErr string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO redemption_tracking (condition_id, attempts, side1_redeemed, side2_redeemed, last_attempt_at, last_error)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(condition_id) DO UPDATE SET
			attempts = attempts + 1,
			side1_redeemed = side1_redeemed OR excluded.side1_redeemed,
			side2_redeemed = side2_redeemed OR excluded.side2_redeemed,
			last_attempt_at = excluded.last_attempt_at,
			last_error = excluded.last_error
	`, conditionID, boolToInt(side1Done), boolToInt(side2Done), now, lastErr)
	if err != nil {
		return fmt.Errorf("record redemption attempt: %w", err)
	}
	return nil
}

// MarkRedeemed stamps the final redeemed_at time once both sides settle.
func (s *Store) MarkRedeemed(conditionID string) error {
	_, err := s.db.Exec(`UPDATE redemption_tracking SET redeemed_at = ? WHERE condition_id = ?`,
		time.Now().UTC().Format(time.RFC3339), conditionID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RecordFill durably logs a user-channel fill. Idempotent on trade_id:
// re-delivering the same trade ID (e.g. after a WS reconnect replay) is a
// no-op rather than a duplicate row.
func (s *Store) RecordFill(tradeID, marketSlug, tokenID, side, shares, price string, filledAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO user_fills (trade_id, market_slug, token_id, side, shares, price, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tradeID, marketSlug, tokenID, side, shares, price, filledAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record fill: %w", err)
	}
	return nil
}

// RecordPriceSample appends one price history point.
func (s *Store) RecordPriceSample(marketSlug, tokenID string, price float64, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO price_history (market_slug, token_id, price, sampled_at) VALUES (?, ?, ?, ?)`,
		marketSlug, tokenID, price, at.UTC().Format(time.RFC3339))
	return err
}

// SetCapitalBaseline records the single starting-capital baseline row.
func (s *Store) SetCapitalBaseline(startingCapital string) error {
	_, err := s.db.Exec(`
		INSERT INTO capital_baseline (id, starting_capital, recorded_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET starting_capital = excluded.starting_capital, recorded_at = excluded.recorded_at
	`, startingCapital, time.Now().UTC().Format(time.RFC3339))
	return err
}

// CapitalBaseline returns the starting capital, or "" if never set.
func (s *Store) CapitalBaseline() (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT starting_capital FROM capital_baseline WHERE id = 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}
