package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qmtbridge/internal/domain"
	"qmtbridge/internal/event"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderJournal = (*Journal)(nil)
var _ TradeJournal = (*Journal)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS order_history (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	handle  TEXT    NOT NULL,
	symbol  TEXT    NOT NULL,
	status  TEXT    NOT NULL,
	traded  INTEGER NOT NULL,
	price   REAL    NOT NULL,
	message TEXT    NOT NULL,
	at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_history_handle ON order_history(handle);

CREATE TABLE IF NOT EXISTS trades (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id  TEXT    NOT NULL,
	handle    TEXT    NOT NULL,
	gateway   TEXT    NOT NULL,
	symbol    TEXT    NOT NULL,
	exchange  TEXT    NOT NULL,
	direction TEXT    NOT NULL,
	price     REAL    NOT NULL,
	volume    INTEGER NOT NULL,
	at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_handle ON trades(handle);
`

// Journal implements OrderJournal and TradeJournal on an in-memory SQLite
// database.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenJournal creates an empty in-memory journal.
func OpenJournal(ctx context.Context, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db, log: logger.With("component", "journal")}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Consume records order and trade events from ch until ctx is cancelled or
// ch is closed. Write failures are logged and do not stop consumption.
func (j *Journal) Consume(ctx context.Context, ch <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			var err error
			switch evt.Kind {
			case event.KindOrder:
				err = j.RecordOrder(ctx, *evt.Order)
			case event.KindTrade:
				err = j.RecordTrade(ctx, *evt.Trade)
			}
			if err != nil && ctx.Err() == nil {
				j.log.Warn("journal write failed", "kind", evt.Kind, "error", err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// OrderJournal implementation
// ---------------------------------------------------------------------------

// RecordOrder appends the given order state to the order's history.
func (j *Journal) RecordOrder(ctx context.Context, o domain.Order) error {
	at := o.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO order_history (handle, symbol, status, traded, price, message, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Handle, o.VTSymbol(), string(o.Status), o.Traded, o.Price, o.Message, at.UnixNano())
	if err != nil {
		return fmt.Errorf("recording order %s: %w", o.Handle, err)
	}
	return nil
}

// OrderHistory returns the recorded states of an order, oldest first.
func (j *Journal) OrderHistory(ctx context.Context, handle string) ([]OrderSnapshot, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT handle, status, traded, price, message, at FROM order_history WHERE handle = ? ORDER BY id`, handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderSnapshot
	for rows.Next() {
		var (
			s      OrderSnapshot
			status string
			at     int64
		)
		if err := rows.Scan(&s.Handle, &status, &s.Traded, &s.Price, &s.Message, &at); err != nil {
			return nil, err
		}
		s.Status = domain.Status(status)
		s.At = time.Unix(0, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// TradeJournal implementation
// ---------------------------------------------------------------------------

// RecordTrade appends a fill.
func (j *Journal) RecordTrade(ctx context.Context, t domain.Trade) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (trade_id, handle, gateway, symbol, exchange, direction, price, volume, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Handle, t.GatewayName, t.Symbol, string(t.Exchange), string(t.Direction),
		t.Price, t.Volume, t.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("recording trade %s: %w", t.TradeID, err)
	}
	return nil
}

// ListTrades returns fills matching f, oldest first.
func (j *Journal) ListTrades(ctx context.Context, f TradeFilter) ([]domain.Trade, error) {
	var (
		where []string
		args  []any
	)
	if f.Handle != "" {
		where = append(where, "handle = ?")
		args = append(args, f.Handle)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	q := `SELECT trade_id, handle, gateway, symbol, exchange, direction, price, volume, at FROM trades`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                   domain.Trade
			exchange, direction string
			at                  int64
		)
		if err := rows.Scan(&t.TradeID, &t.Handle, &t.GatewayName, &t.Symbol, &exchange, &direction, &t.Price, &t.Volume, &at); err != nil {
			return nil, err
		}
		t.Exchange = domain.Exchange(exchange)
		t.Direction = domain.Direction(direction)
		t.Time = time.Unix(0, at)
		out = append(out, t)
	}
	return out, rows.Err()
}
