package broker

import (
	"fmt"
	"strings"
	"time"

	"qmtbridge/internal/domain"
)

// Order type codes accepted by the trade API and written to file orders.
const (
	StockBuy      = 23
	StockSell     = 24
	ETFPurchase   = 25
	ETFRedemption = 26
)

// Price type codes.
const (
	PriceLatest           = 5
	PriceFix              = 11
	PriceMarketSHConvert5 = 42
	PriceMarketPeerFirst  = 45
	PriceMarketSZConvert5 = 47
)

// Direct-path order status codes reported in Order.OrderStatus.
const (
	OrderUnreported     = 48
	OrderWaitReporting  = 49
	OrderReported       = 50
	OrderReportedCancel = 51
	OrderPartSuccCancel = 52
	OrderPartCancel     = 53
	OrderCanceled       = 54
	OrderPartSucc       = 55
	OrderSucceeded      = 56
	OrderJunk           = 57
	OrderUnknown        = 255
)

var exchangeSuffix = map[domain.Exchange]string{
	domain.ExchangeSSE:  "SH",
	domain.ExchangeSZSE: "SZ",
}

var suffixExchange = map[string]domain.Exchange{
	"SH":   domain.ExchangeSSE,
	"SSE":  domain.ExchangeSSE,
	"SZ":   domain.ExchangeSZSE,
	"SZSE": domain.ExchangeSZSE,
}

// ToCode converts a symbol and exchange into a QMT stock code ("600000.SH").
func ToCode(symbol string, exchange domain.Exchange) (string, error) {
	suffix, ok := exchangeSuffix[exchange]
	if !ok {
		return "", fmt.Errorf("unsupported exchange %q", exchange)
	}
	return symbol + "." + suffix, nil
}

// ParseCode splits a QMT stock code into symbol and exchange.
func ParseCode(code string) (string, domain.Exchange, error) {
	symbol, suffix, ok := strings.Cut(strings.TrimSpace(code), ".")
	if !ok || symbol == "" {
		return "", "", fmt.Errorf("malformed stock code %q", code)
	}
	exchange, ok := suffixExchange[strings.ToUpper(suffix)]
	if !ok {
		return "", "", fmt.Errorf("unsupported market suffix in %q", code)
	}
	return symbol, exchange, nil
}

// ParseMarket resolves a market label from the export files. Labels vary
// between terminal versions, so short codes, venue names and the Chinese
// market names are all accepted. When the label is unrecognised the
// exchange is inferred from the symbol's leading digit.
func ParseMarket(label, symbol string) domain.Exchange {
	label = strings.TrimSpace(label)
	if ex, ok := suffixExchange[strings.ToUpper(label)]; ok {
		return ex
	}
	switch {
	case strings.Contains(label, "上") || strings.Contains(label, "沪"):
		return domain.ExchangeSSE
	case strings.Contains(label, "深"):
		return domain.ExchangeSZSE
	}
	return ExchangeForSymbol(symbol)
}

// ExchangeForSymbol infers the listing venue from an A-share symbol.
func ExchangeForSymbol(symbol string) domain.Exchange {
	if symbol != "" && (symbol[0] == '5' || symbol[0] == '6' || symbol[0] == '9') {
		return domain.ExchangeSSE
	}
	return domain.ExchangeSZSE
}

// OrderTypeFor returns the order type code for a request.
func OrderTypeFor(kind domain.OrderKind, direction domain.Direction) int {
	switch kind {
	case domain.OrderKindPurchase:
		return ETFPurchase
	case domain.OrderKindRedemption:
		return ETFRedemption
	}
	if direction == domain.DirectionShort {
		return StockSell
	}
	return StockBuy
}

// DirectionFor maps an order type code back to a direction. Creation codes
// map to long and redemption codes to short on the basket itself.
func DirectionFor(orderType int) domain.Direction {
	switch orderType {
	case StockSell, ETFRedemption:
		return domain.DirectionShort
	default:
		return domain.DirectionLong
	}
}

// PriceTypeFor returns the price type code for a request. Market orders use
// the venue-specific convert-to-limit variant.
func PriceTypeFor(t domain.PriceType, exchange domain.Exchange) int {
	switch t {
	case domain.PriceTypeMarket:
		if exchange == domain.ExchangeSZSE {
			return PriceMarketSZConvert5
		}
		return PriceMarketSHConvert5
	case domain.PriceTypeBestOrLimit:
		return PriceLatest
	default:
		return PriceFix
	}
}

// Shanghai is the time zone every backend timestamp is expressed in.
var Shanghai = loadShanghai()

func loadShanghai() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// TimestampToTime converts a backend unix-second timestamp.
func TimestampToTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).In(Shanghai)
}
