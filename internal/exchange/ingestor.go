package exchange

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"qmtbridge/internal/broker"
	"qmtbridge/internal/dbf"
)

// Export files written by the terminal.
const (
	OrderResultName   = "XT_DBF_ORDER_result.dbf"
	tradeExportPrefix = "XT_CJCX_Stock_"
	tradeExportDate   = "20060102"
)

// TradeExportName returns the trade export file name for the trading day of t.
func TradeExportName(t time.Time) string {
	return tradeExportPrefix + t.In(broker.Shanghai).Format(tradeExportDate) + ".dbf"
}

// Sink receives parsed rows in file order.
type Sink func(Row)

// Ingestor re-reads export files when they change and forwards every row
// that carries a note to the sink. Rows are forwarded again on each change;
// the receiver is expected to drop repeats.
type Ingestor struct {
	dir  string
	sink Sink
	log  *slog.Logger
	now  func() time.Time
}

// NewIngestor returns an Ingestor for the export directory dir.
func NewIngestor(dir string, sink Sink, logger *slog.Logger) *Ingestor {
	return &Ingestor{dir: dir, sink: sink, log: logger, now: time.Now}
}

// Dir returns the export directory being ingested.
func (in *Ingestor) Dir() string { return in.dir }

// Scan reads both export files once. Missing files are not an error.
func (in *Ingestor) Scan() error {
	var errs []error
	for _, name := range []string{OrderResultName, TradeExportName(in.now())} {
		err := in.HandleChange(filepath.Join(in.dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleChange processes a change notification for path. Paths that are not
// one of the export files of interest are ignored.
func (in *Ingestor) HandleChange(path string) error {
	name := filepath.Base(path)
	switch {
	case strings.EqualFold(name, OrderResultName):
		return in.ingest(path, func(rec dbf.Record) (Row, bool) {
			return ParseOrderResult(rec)
		})
	case strings.EqualFold(name, TradeExportName(in.now())):
		return in.ingest(path, func(rec dbf.Record) (Row, bool) {
			return ParseTradeChange(rec, broker.Shanghai)
		})
	default:
		return nil
	}
}

func (in *Ingestor) ingest(path string, parse func(dbf.Record) (Row, bool)) error {
	table, err := dbf.ReadFile(path)
	if err != nil {
		return err
	}
	forwarded := 0
	for _, rec := range table.Records {
		row, ok := parse(rec)
		if !ok {
			continue
		}
		in.sink(row)
		forwarded++
	}
	in.log.Debug("export file ingested", "file", filepath.Base(path), "records", len(table.Records), "forwarded", forwarded)
	return nil
}

// Watch scans the export directory once, then re-ingests export files as the
// terminal rewrites them until ctx is cancelled.
func (in *Ingestor) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("watching %s: %w", in.dir, err)
	}
	if err := in.Scan(); err != nil {
		in.log.Warn("initial export scan failed", "dir", in.dir, "error", err)
	}
	in.log.Info("watching export directory", "dir", in.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := in.HandleChange(ev.Name); err != nil {
				in.log.Warn("export file ingest failed", "file", ev.Name, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.log.Error("export watcher error", "error", err)
		}
	}
}
