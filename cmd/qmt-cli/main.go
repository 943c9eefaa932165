package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"qmtbridge/internal/domain"
	"qmtbridge/pkg/qmtbridge"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: qmt-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  orders     List orders (-active for working orders only)\n")
	fmt.Fprintf(os.Stderr, "  history    Show every recorded state of one order\n")
	fmt.Fprintf(os.Stderr, "  trades     List fills (-handle, -symbol, -limit)\n")
	fmt.Fprintf(os.Stderr, "  submit     Place an order\n")
	fmt.Fprintf(os.Stderr, "  basket     Split a basket order into its constituents\n")
	fmt.Fprintf(os.Stderr, "  cancel     Cancel an order by handle\n")
	fmt.Fprintf(os.Stderr, "  stream     Print gateway events as they happen\n")
	fmt.Fprintf(os.Stderr, "\nThe server is taken from QMT_BRIDGE_URL (default http://127.0.0.1:8080)\n")
	fmt.Fprintf(os.Stderr, "and QMT_BRIDGE_GRPC (default 127.0.0.1:9090).\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := qmtbridge.NewClient(envOr("QMT_BRIDGE_URL", "http://127.0.0.1:8080"))
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "version":
		fmt.Printf("qmt-cli %s\n", version)
	case "orders":
		err = runOrders(ctx, client, args)
	case "history":
		err = runHistory(ctx, client, args)
	case "trades":
		err = runTrades(ctx, client, args)
	case "submit":
		err = runSubmit(ctx, client, args)
	case "basket":
		err = runBasket(ctx, client, args)
	case "cancel":
		err = runCancel(ctx, client, args)
	case "stream":
		err = runStream(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runOrders(ctx context.Context, c *qmtbridge.Client, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	active := fs.Bool("active", false, "only orders that can still change")
	fs.Parse(args)

	orders, err := c.Orders(ctx, *active)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tSYMBOL\tKIND\tSIDE\tPRICE\tVOLUME\tTRADED\tSTATUS\tMESSAGE")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.3f\t%d\t%d\t%s\t%s\n",
			o.Handle, o.VTSymbol(), o.Kind, o.Direction, o.Price, o.Volume, o.Traded, o.Status, o.Message)
	}
	return tw.Flush()
}

func runHistory(ctx context.Context, c *qmtbridge.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: qmt-cli history <handle>")
	}
	hist, err := c.OrderHistory(ctx, args[0])
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tTRADED\tPRICE\tMESSAGE")
	for _, s := range hist {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%s\n", s.At.Format(time.DateTime), s.Status, s.Traded, s.Price, s.Message)
	}
	return tw.Flush()
}

func runTrades(ctx context.Context, c *qmtbridge.Client, args []string) error {
	fs := flag.NewFlagSet("trades", flag.ExitOnError)
	handle := fs.String("handle", "", "only fills of this order")
	symbol := fs.String("symbol", "", "only fills of this symbol")
	limit := fs.Int("limit", 0, "maximum number of fills")
	fs.Parse(args)

	trades, err := c.Trades(ctx, *handle, *symbol, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTRADE_ID\tHANDLE\tSYMBOL\tSIDE\tPRICE\tVOLUME")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\t%d\n",
			t.Time.Format(time.DateTime), t.TradeID, t.Handle, t.VTSymbol(), t.Direction, t.Price, t.Volume)
	}
	return tw.Flush()
}

func runSubmit(ctx context.Context, c *qmtbridge.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	symbol := fs.String("symbol", "", "instrument code, e.g. 600000")
	exch := fs.String("exchange", string(domain.ExchangeSSE), "SSE or SZSE")
	kind := fs.String("kind", string(domain.OrderKindNormal), "normal, purchase or redemption")
	side := fs.String("side", string(domain.DirectionLong), "long or short")
	priceType := fs.String("type", string(domain.PriceTypeLimit), "limit, market or best_or_limit")
	volume := fs.Int64("volume", 0, "order volume")
	price := fs.Float64("price", 0, "limit price")
	ref := fs.String("ref", "", "free-form reference")
	fs.Parse(args)

	handle, err := c.SubmitOrder(ctx, qmtbridge.OrderRequest{
		Symbol:    *symbol,
		Exchange:  domain.Exchange(*exch),
		Kind:      domain.OrderKind(*kind),
		Direction: domain.Direction(*side),
		Type:      domain.PriceType(*priceType),
		Volume:    *volume,
		Price:     *price,
		Reference: *ref,
	})
	var apiErr *qmtbridge.APIError
	if errors.As(err, &apiErr) && apiErr.Handle != "" {
		fmt.Println(apiErr.Handle)
	}
	if err != nil {
		return err
	}
	fmt.Println(handle)
	return nil
}

func runBasket(ctx context.Context, c *qmtbridge.Client, args []string) error {
	fs := flag.NewFlagSet("basket", flag.ExitOnError)
	symbol := fs.String("symbol", "", "basket instrument code, e.g. 510300")
	exch := fs.String("exchange", string(domain.ExchangeSSE), "SSE or SZSE")
	side := fs.String("side", string(domain.DirectionLong), "long or short")
	volume := fs.Int64("volume", 1, "basket units")
	ref := fs.String("ref", "", "free-form reference")
	fs.Parse(args)

	handles, err := c.SubmitBasket(ctx, qmtbridge.BasketRequest{
		Symbol:    *symbol,
		Exchange:  domain.Exchange(*exch),
		Direction: domain.Direction(*side),
		Volume:    *volume,
		Reference: *ref,
	})
	for _, h := range handles {
		fmt.Println(h)
	}
	return err
}

func runCancel(ctx context.Context, c *qmtbridge.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: qmt-cli cancel <handle>")
	}
	pending, err := c.CancelOrder(ctx, args[0])
	if err != nil {
		return err
	}
	if pending {
		fmt.Printf("%s: cancel queued until the backend acknowledges the order\n", args[0])
	} else {
		fmt.Printf("%s: cancel sent\n", args[0])
	}
	return nil
}

func runStream(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	var kinds stringList
	fs.Var(&kinds, "kind", "event kind to show (repeatable): order, trade, position, account, contract, basket_component")
	fs.Parse(args)

	enc := json.NewEncoder(os.Stdout)
	return qmtbridge.StreamEvents(ctx, envOr("QMT_BRIDGE_GRPC", "127.0.0.1:9090"), kinds, func(evt qmtbridge.Event) error {
		return enc.Encode(evt)
	})
}

type stringList []string

func (l *stringList) String() string { return fmt.Sprint(*l) }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
