package exchange

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"qmtbridge/internal/dbf"
)

// FileOrderName is the table the terminal polls for file orders.
const FileOrderName = "XT_DBF_ORDER.dbf"

// Layout used when the file-order table does not exist yet. The terminal's
// own table may name these columns in any case.
var fileOrderFields = []dbf.Field{
	{Name: "ORDER_TYPE", Type: 'N', Length: 4},
	{Name: "PRICE_TYPE", Type: 'N', Length: 4},
	{Name: "MODE_PRICE", Type: 'N', Length: 12, Decimals: 3},
	{Name: "STOCK_CODE", Type: 'C', Length: 16},
	{Name: "VOLUME", Type: 'N', Length: 12},
	{Name: "ACCOUNT_ID", Type: 'C', Length: 32},
	{Name: "STRATEGY", Type: 'C', Length: 32},
	{Name: "NOTE", Type: 'C', Length: 32},
}

// FileOrder is one row of the file-order table.
type FileOrder struct {
	OrderType int
	PriceType int
	Price     float64
	StockCode string
	Volume    int64
	Account   string
	Strategy  string
	Note      string
}

// OrderWriter appends file orders to the export directory.
type OrderWriter struct {
	table *dbf.Appender
}

// NewOrderWriter returns a writer for the file-order table in dir.
func NewOrderWriter(dir string) *OrderWriter {
	return &OrderWriter{table: dbf.NewAppender(filepath.Join(dir, FileOrderName), fileOrderFields)}
}

// WriteOrder appends o. The write is synchronous: a nil error means the row
// is on disk for the terminal to pick up.
func (w *OrderWriter) WriteOrder(ctx context.Context, o FileOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := dbf.Record{
		"ORDER_TYPE": strconv.Itoa(o.OrderType),
		"PRICE_TYPE": strconv.Itoa(o.PriceType),
		"MODE_PRICE": strconv.FormatFloat(o.Price, 'f', 3, 64),
		"STOCK_CODE": o.StockCode,
		"VOLUME":     strconv.FormatInt(o.Volume, 10),
		"ACCOUNT_ID": o.Account,
		"STRATEGY":   o.Strategy,
		"NOTE":       o.Note,
	}
	if err := w.table.Append(rec); err != nil {
		return fmt.Errorf("appending file order %s: %w", o.Note, err)
	}
	return nil
}

const maxSessionLen = 16

// NoteGenerator issues note tokens for file-routed orders. A token is the
// session id followed by a counter, so tokens never repeat within a session
// and a restart (new session id) never reuses an old one.
type NoteGenerator struct {
	session string
	n       atomic.Int64
}

// NewNoteGenerator returns a generator for session. An empty session gets a
// random one.
func NewNoteGenerator(session string) *NoteGenerator {
	session = strings.TrimSpace(session)
	if session == "" {
		session = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if len(session) > maxSessionLen {
		session = session[:maxSessionLen]
	}
	return &NoteGenerator{session: session}
}

// Session returns the session id embedded in every token.
func (g *NoteGenerator) Session() string { return g.session }

// Next returns a fresh token.
func (g *NoteGenerator) Next() string {
	return fmt.Sprintf("%s_%06d", g.session, g.n.Add(1))
}
