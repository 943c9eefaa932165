// Package exchange handles the QMT export directory: it turns rows of the
// order-result and trade exports into typed records for the reconciliation
// engine, and appends creation/redemption orders to the file-order table the
// terminal picks up.
package exchange

import (
	"strconv"
	"strings"
	"time"

	"qmtbridge/internal/broker"
	"qmtbridge/internal/dbf"
	"qmtbridge/internal/domain"
)

// Column names of the order-result export.
const (
	colOrderNum   = "ORDERNUM"
	colTaskPro    = "TASKPRO"
	colMessage    = "MESSAGE"
	colStatus     = "STATUS"
	colTaskStatus = "TASKSTATUS"
	colNote       = "NOTE"
)

// Column names of the daily trade export.
const (
	colTradeNote   = "投资备注"
	colTradeSide   = "操作"
	colTradeSymbol = "证券代码"
	colTradeMarket = "证券市场"
	colTradePrice  = "成交价格"
	colTradeVolume = "成交数量"
	colTradeDate   = "成交日期"
	colTradeTime   = "成交时间"
	colTradeID     = "成交编号"
)

const tradeTimeLayout = "20060102 15:04:05"

// Row is a parsed export record: either an OrderResultRow or a
// TradeChangeRow.
type Row interface {
	// CorrelationNote returns the engine handle the row refers to.
	CorrelationNote() string
}

// OrderResultRow is a status line for a file-routed order.
type OrderResultRow struct {
	Note       string
	NativeID   string // empty when the terminal has not assigned one yet
	Status     string
	TaskStatus string
	Message    string
	Traded     int64
	Total      int64
}

// CorrelationNote implements Row.
func (r OrderResultRow) CorrelationNote() string { return r.Note }

// TradeChangeRow is a fill reported in the daily trade export.
type TradeChangeRow struct {
	Note      string
	TradeID   string
	Symbol    string
	Exchange  domain.Exchange
	Direction domain.Direction
	Price     float64
	Volume    int64
	Time      time.Time // zero when the export carries no parsable timestamp
}

// CorrelationNote implements Row.
func (r TradeChangeRow) CorrelationNote() string { return r.Note }

// ParseOrderResult converts an order-result record. Records without a note
// did not originate from this gateway and are reported as not ok.
func ParseOrderResult(rec dbf.Record) (OrderResultRow, bool) {
	note := strings.TrimSpace(rec.Get(colNote))
	if note == "" {
		return OrderResultRow{}, false
	}
	traded, total := ParseProgress(rec.Get(colTaskPro))
	return OrderResultRow{
		Note:       note,
		NativeID:   parseOrderNum(rec.Get(colOrderNum)),
		Status:     strings.TrimSpace(rec.Get(colStatus)),
		TaskStatus: strings.TrimSpace(rec.Get(colTaskStatus)),
		Message:    strings.TrimSpace(rec.Get(colMessage)),
		Traded:     traded,
		Total:      total,
	}, true
}

// ParseTradeChange converts a trade-export record. Records without a note
// are reported as not ok. Unparsable numbers become zero and an unparsable
// timestamp becomes the zero time.
func ParseTradeChange(rec dbf.Record, loc *time.Location) (TradeChangeRow, bool) {
	note := strings.TrimSpace(rec.Get(colTradeNote))
	if note == "" {
		return TradeChangeRow{}, false
	}
	symbol := strings.TrimSpace(rec.Get(colTradeSymbol))
	row := TradeChangeRow{
		Note:      note,
		TradeID:   strings.TrimSpace(rec.Get(colTradeID)),
		Symbol:    symbol,
		Exchange:  broker.ParseMarket(rec.Get(colTradeMarket), symbol),
		Direction: parseSide(rec.Get(colTradeSide)),
		Price:     parseFloat(rec.Get(colTradePrice)),
		Volume:    parseInt(rec.Get(colTradeVolume)),
	}
	stamp := strings.TrimSpace(rec.Get(colTradeDate)) + " " + strings.TrimSpace(rec.Get(colTradeTime))
	if t, err := time.ParseInLocation(tradeTimeLayout, stamp, loc); err == nil {
		row.Time = t
	}
	return row, true
}

// ParseProgress parses a "traded/total" task progress string. Any malformed
// part is reported as zero.
func ParseProgress(s string) (traded, total int64) {
	left, right, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return 0, 0
	}
	traded, err := strconv.ParseInt(strings.TrimSpace(left), 10, 64)
	if err != nil || traded < 0 {
		return 0, 0
	}
	total, err = strconv.ParseInt(strings.TrimSpace(right), 10, 64)
	if err != nil {
		total = 0
	}
	return traded, total
}

// Buy is the only side label that maps to long; everything else is short.
func parseSide(s string) domain.Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "买入", "buy", "b":
		return domain.DirectionLong
	default:
		return domain.DirectionShort
	}
}

func parseOrderNum(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return strconv.FormatInt(int64(f), 10)
	}
	return ""
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return int64(parseFloat(s))
}
