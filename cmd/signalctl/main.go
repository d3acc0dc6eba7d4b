// Command signalctl runs one-shot scans and backtests against the configured
// providers and prints the result as JSON.
//
//	signalctl scan --asset-class=crypto --force
//	signalctl backtest --symbol=BTC,ETH --strategy=SMA-Cross --days=365 --param fast=10
//	signalctl keys
//	signalctl strategies
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"market-signal-engine-go/internal/app"
	"market-signal-engine-go/internal/backtest"
	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/gateway"
	"market-signal-engine-go/internal/logger"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/scanner"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitCooldown = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	flags *pflag.FlagSet
	exec  func(ctx context.Context, a *app.App, out io.Writer) int
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	var cmd command
	switch args[0] {
	case "scan":
		cmd = scanCommand()
	case "backtest":
		cmd = backtestCommand()
	case "keys":
		cmd = command{flags: pflag.NewFlagSet("keys", pflag.ContinueOnError), exec: keysExec}
	case "strategies":
		return emit(stdout, backtest.Catalog(), exitOK)
	case "-h", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}

	configDir := cmd.flags.String("config-dir", "./configs", "directory containing config.yml")
	cmd.flags.String("logger.level", "info", "log level (debug, info, warn, error)")
	cmd.flags.SetOutput(stderr)
	if err := cmd.flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.LoadConfig(*configDir, cmd.flags)
	if err != nil {
		fmt.Fprintf(stderr, "could not load config: %v\n", err)
		return exitUsage
	}
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(stderr, "could not initialize logger: %v\n", err)
		return exitUsage
	}
	defer log.Sync()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize signal engine", zap.Error(err))
		return exitFailure
	}
	code := cmd.exec(ctx, a, stdout)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		log.Warn("Failed to persist key usage", zap.Error(err))
	}
	return code
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: signalctl <scan|backtest|keys|strategies> [flags]")
}

func scanCommand() command {
	fs := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	class := fs.String("asset-class", "", "asset class to scan")
	force := fs.Bool("force", false, "ignore the cooldown")
	return command{flags: fs, exec: func(ctx context.Context, a *app.App, out io.Writer) int {
		if *class == "" {
			return emit(out, failure{Error: "--asset-class is required", AssetClasses: a.Scanner.AssetClasses()}, exitUsage)
		}
		report, err := a.Scanner.RequestScan(ctx, *class, *force)
		var failed *scanner.ScanFailedError
		if errors.As(err, &failed) {
			return emit(out, failure{Error: failed.Error(), Message: failed.UserMessage(), Report: &report}, exitFailure)
		}
		if err != nil {
			return emitError(out, err)
		}
		return emit(out, report, exitOK)
	}}
}

func backtestCommand() command {
	fs := pflag.NewFlagSet("backtest", pflag.ContinueOnError)
	symbols := fs.StringSlice("symbol", nil, "symbol to backtest; repeat or comma-separate for a batch")
	strategy := fs.String("strategy", backtest.SMACross, "catalog strategy name")
	days := fs.Int("days", 365, "number of daily bars")
	params := fs.StringToString("param", nil, "strategy parameter as key=value")
	sortBy := fs.String("sort", "total_return_percent", "batch sort field")
	return command{flags: fs, exec: func(ctx context.Context, a *app.App, out io.Writer) int {
		if len(*symbols) == 0 {
			return emit(out, failure{Error: "--symbol is required"}, exitUsage)
		}
		cfg := models.StrategyConfig{Name: *strategy, Parameters: make(map[string]float64, len(*params))}
		for k, v := range *params {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return emit(out, failure{Error: fmt.Sprintf("parameter %s: %v", k, err)}, exitUsage)
			}
			cfg.Parameters[k] = f
		}

		if len(*symbols) == 1 {
			res, err := a.Backtest.Run(ctx, strings.ToUpper((*symbols)[0]), cfg, *days)
			if err != nil {
				return emitError(out, err)
			}
			return emit(out, res, exitOK)
		}

		batch, err := a.Backtest.RunMultiSymbol(ctx, upper(*symbols), cfg, *days)
		if err != nil {
			return emitError(out, err)
		}
		if err := backtest.SortResults(batch.Results, *sortBy, true); err != nil {
			return emit(out, failure{Error: err.Error()}, exitUsage)
		}
		code := exitOK
		if len(batch.Results) == 0 {
			code = exitFailure
		}
		return emit(out, batch, code)
	}}
}

func keysExec(_ context.Context, a *app.App, out io.Writer) int {
	return emit(out, a.Pool.UsageStatistics(), exitOK)
}

// failure is the JSON shape of every failed command.
type failure struct {
	Error        string              `json:"error"`
	Message      string              `json:"message,omitempty"`
	RemainingMs  int64               `json:"remaining_ms,omitempty"`
	AssetClasses []string            `json:"asset_classes,omitempty"`
	Report       *scanner.ScanReport `json:"report,omitempty"`
}

func emitError(out io.Writer, err error) int {
	f := failure{Error: err.Error()}
	var (
		cooldown *scanner.CooldownActiveError
		scan     *scanner.ScanFailedError
		failed   *gateway.AllProvidersFailedError
	)
	switch {
	case errors.As(err, &cooldown):
		f.RemainingMs = cooldown.RemainingMs()
		f.Message = fmt.Sprintf("try again in %s", cooldown.Remaining.Round(time.Second))
		return emit(out, f, exitCooldown)
	case errors.As(err, &scan):
		f.Message = scan.UserMessage()
	case errors.As(err, &failed):
		f.Message = failed.UserMessage()
	case errors.Is(err, backtest.ErrInvalidStrategy), errors.Is(err, scanner.ErrUnknownAssetClass):
		return emit(out, f, exitUsage)
	}
	return emit(out, f, exitFailure)
}

func emit(out io.Writer, v interface{}, code int) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitFailure
	}
	return code
}

func upper(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
