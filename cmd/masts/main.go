package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"masts-go/backtest"
	"masts-go/config"
	"masts-go/internal/container"
	"masts-go/market"
	"masts-go/timeframe"
	"masts-go/tradelog"
)

const version = "0.3.0"

// 用法：
//
//	masts run -c configs/backtest.yaml
//	masts watch -c configs/backtest.yaml
//	masts trades trades-1a2b3c4d.jsonl
//	masts resample --data-dir data --symbol EURUSD --from M1 --to H1 --out data/EURUSD-H1.parquet
func main() {
	app := cli.NewApp()
	app.Name = "masts"
	app.Version = version
	app.Usage = "bar/tick driven backtester for retail FX strategies"
	app.EnableBashCompletion = true
	app.Commands = []*cli.Command{
		runCommand,
		watchCommand,
		tradesCommand,
		resampleCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "configs/backtest.yaml",
	Usage:   "path to the YAML run config",
}

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run one backtest and print the summary",
	Flags:  []cli.Flag{configFlag},
	Action: runBacktest,
}

func runBacktest(c *cli.Context) error {
	ct, err := container.New(c.String("config"))
	if err != nil {
		return err
	}
	res, path, err := execute(c.Context, ct)
	if err != nil {
		return err
	}
	printResult(res, path)
	return nil
}

// execute 构建、启动、运行并停止一个 Container。
func execute(ctx context.Context, ct *container.Container) (backtest.Result, string, error) {
	if err := ct.Build(); err != nil {
		return backtest.Result{}, "", err
	}
	defer ct.Stop()
	if err := ct.Start(ctx); err != nil {
		return backtest.Result{}, "", err
	}
	res, err := ct.Run(ctx)
	return res, ct.TradeLogPath(), err
}

func printResult(res backtest.Result, tradeLog string) {
	fmt.Printf("mode        %s\n", res.Mode)
	fmt.Printf("range       %s -> %s\n", res.Start.Format(time.DateTime), res.End.Format(time.DateTime))
	fmt.Printf("steps       %d\n", res.Steps)
	fmt.Printf("orders      %d (closed %d, canceled %d, rejected %d)\n", res.Orders, res.Closed, res.Canceled, res.Rejected)
	fmt.Printf("drill-downs %d\n", res.DrillDowns)
	fmt.Printf("balance     %.2f\n", res.Balance)
	fmt.Printf("net pnl     %.2f\n", res.NetPnL)
	fmt.Printf("trade log   %s\n", tradeLog)
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "run a backtest, then re-run it every time the config file changes",
	Flags: []cli.Flag{
		configFlag,
		&cli.DurationFlag{
			Name:  "cooldown",
			Value: time.Second,
			Usage: "minimum time between two re-runs",
		},
	},
	Action: func(c *cli.Context) error {
		path := c.String("config")
		rerun := func(cfg config.AppConfig) {
			ct, err := container.NewFromConfig(cfg)
			if err != nil {
				log.Printf("config rejected: %v", err)
				return
			}
			res, out, err := execute(c.Context, ct)
			if err != nil {
				log.Printf("backtest failed: %v", err)
				return
			}
			printResult(res, out)
		}

		cfg, err := config.LoadWithEnvOverrides(path)
		if err != nil {
			return err
		}
		rerun(cfg)

		w := config.Watcher{
			Path:     path,
			Cooldown: c.Duration("cooldown"),
			OnError:  func(err error) { log.Printf("reload failed: %v", err) },
		}
		log.Printf("watching %s", path)
		err = w.Start(c.Context, rerun)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var tradesCommand = &cli.Command{
	Name:      "trades",
	Usage:     "summarize a trade log",
	ArgsUsage: "<trade log>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.ShowSubcommandHelp(c)
		}
		sum, err := tradelog.SummarizeFile(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Printf("closed      %d (wins %d, losses %d)\n", sum.Closed, sum.Wins, sum.Losses)
		fmt.Printf("canceled    %d\n", sum.Canceled)
		fmt.Printf("gross       +%.2f / %.2f\n", sum.GrossProfit, sum.GrossLoss)
		fmt.Printf("commission  %.2f\n", sum.Commission)
		fmt.Printf("net pnl     %.2f\n", sum.NetPnL)
		for _, sym := range sum.Symbols() {
			fmt.Printf("  %-10s %.2f\n", sym, sum.BySymbol[sym])
		}
		return nil
	},
}

var resampleCommand = &cli.Command{
	Name:  "resample",
	Usage: "build a higher timeframe file from M1 bars or ticks",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "data-dir", Value: "data", Usage: "directory searched for the source file"},
		&cli.StringFlag{Name: "format", Value: config.FormatCSV, Usage: "source format: csv or parquet"},
		&cli.StringFlag{Name: "symbol", Required: true},
		&cli.StringFlag{Name: "from", Value: "M1", Usage: "source timeframe, or TICK"},
		&cli.StringFlag{Name: "to", Required: true, Usage: "target timeframe"},
		&cli.StringFlag{Name: "out", Required: true, Usage: "output file; .parquet writes parquet, anything else CSV"},
	},
	Action: resample,
}

func resample(c *cli.Context) error {
	var (
		loader market.Loader
		err    error
	)
	if c.String("format") == config.FormatParquet {
		loader, err = market.NewParquetLoader(c.String("data-dir"))
	} else {
		loader, err = market.NewCSVLoader(c.String("data-dir"))
	}
	if err != nil {
		return err
	}
	to, err := timeframe.Parse(c.String("to"))
	if err != nil {
		return err
	}

	var out *market.Series
	if c.String("from") == "TICK" {
		ticks, err := loader.LoadTicks(c.Context, c.String("symbol"))
		if err != nil {
			return err
		}
		if out, err = market.TicksToBars(ticks, to); err != nil {
			return err
		}
	} else {
		from, err := timeframe.Parse(c.String("from"))
		if err != nil {
			return err
		}
		src, err := loader.LoadSeries(c.Context, market.Key{Symbol: c.String("symbol"), Timeframe: from})
		if err != nil {
			return err
		}
		if out, err = market.Resample(src, to); err != nil {
			return err
		}
	}

	path := c.String("out")
	if filepath.Ext(path) == ".parquet" {
		err = market.WriteParquet(path, out.Bars())
	} else {
		err = market.WriteCSV(path, out.Bars())
	}
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d %s bars to %s\n", out.Len(), to, path)
	return nil
}
