package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rxtech-lab/utss-engine/internal/analysis"
	"github.com/rxtech-lab/utss-engine/internal/dataset"
	"github.com/rxtech-lab/utss-engine/internal/engine"
	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/optimizer"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run declarative trading strategies over historical data",
		Commands: []*cli.Command{
			runCommand(),
			optimizeCommand(),
			monteCarloCommand(),
			schemaCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "strategy",
			Aliases:  []string{"s"},
			Usage:    "Path to the strategy YAML file",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "data",
			Aliases:  []string{"d"},
			Usage:    "Path to the bar data file (CSV or Parquet)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "symbol",
			Usage: "Symbol name for the bar series",
			Value: "SYMBOL",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the backtest config YAML file",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the result as YAML to this path instead of stdout",
		},
	}
}

// setup loads the strategy, config, and dataset shared by all commands.
func setup(cmd *cli.Command, log *logger.Logger) (*types.Strategy, types.BacktestConfig, *dataset.Dataset, error) {
	strategyBytes, err := os.ReadFile(cmd.String("strategy"))
	if err != nil {
		return nil, types.BacktestConfig{}, nil, fmt.Errorf("failed to read strategy: %w", err)
	}

	strategy, err := types.LoadStrategy(strategyBytes)
	if err != nil {
		return nil, types.BacktestConfig{}, nil, fmt.Errorf("failed to parse strategy: %w", err)
	}

	config := types.DefaultConfig()

	if path := cmd.String("config"); path != "" {
		configBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, config, nil, fmt.Errorf("failed to read config: %w", err)
		}

		config, err = types.LoadConfig(configBytes)
		if err != nil {
			return nil, config, nil, err
		}
	}

	loader, err := dataset.NewLoader(log)
	if err != nil {
		return nil, config, nil, err
	}
	defer loader.Close()

	bars, err := loader.LoadBars(cmd.String("data"))
	if err != nil {
		return nil, config, nil, err
	}

	data := dataset.New()
	if err := data.AddBars(cmd.String("symbol"), bars); err != nil {
		return nil, config, nil, err
	}

	return strategy, config, data, nil
}

func writeResult(cmd *cli.Command, result any) error {
	out, err := yaml.Marshal(result)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		return os.WriteFile(path, out, 0o644)
	}

	fmt.Print(string(out))

	return nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a single backtest",
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, err := logger.NewLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			strategy, config, data, err := setup(cmd, log)
			if err != nil {
				return err
			}

			bt, err := engine.NewBacktest(strategy, data, config, cmd.String("symbol"), nil, log)
			if err != nil {
				return err
			}

			result, err := bt.Run(ctx)
			if err != nil {
				return err
			}

			result.RunID = uuid.NewString()

			return writeResult(cmd, result)
		},
	}
}

// parseGrid reads "name=1,2,3;other=10,20" into a parameter grid.
func parseGrid(spec string) (optimizer.Grid, error) {
	grid := optimizer.Grid{}

	for _, part := range strings.Split(spec, ";") {
		if part == "" {
			continue
		}

		name, list, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("invalid grid entry %q, want name=v1,v2", part)
		}

		var values []float64

		for _, raw := range strings.Split(list, ",") {
			value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid grid value %q for %q: %w", raw, name, err)
			}

			values = append(values, value)
		}

		grid[strings.TrimSpace(name)] = values
	}

	return grid, nil
}

func optimizeCommand() *cli.Command {
	flags := append(commonFlags(),
		&cli.StringFlag{
			Name:     "grid",
			Usage:    "Parameter grid, e.g. \"fast=5,10;slow=20,50\"",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "metric",
			Usage: "Ranking metric (sharpe, total_return, calmar, ...)",
			Value: "sharpe",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Parallel backtest workers",
			Value: 4,
		},
		&cli.IntFlag{
			Name:  "train",
			Usage: "Walk-forward train window in bars (enables walk-forward)",
		},
		&cli.IntFlag{
			Name:  "test",
			Usage: "Walk-forward test window in bars",
		},
		&cli.IntFlag{
			Name:  "step",
			Usage: "Walk-forward step in bars",
		},
	)

	return &cli.Command{
		Name:  "optimize",
		Usage: "Grid-search or walk-forward optimize strategy parameters",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.NewNopLogger()

			strategy, config, data, err := setup(cmd, log)
			if err != nil {
				return err
			}

			grid, err := parseGrid(cmd.String("grid"))
			if err != nil {
				return err
			}

			symbol := cmd.String("symbol")

			runRange := func(ctx context.Context, params map[string]float64, start, end int) (*types.BacktestResult, error) {
				bt, err := engine.NewBacktest(strategy, data, config, symbol, params, log)
				if err != nil {
					return nil, err
				}

				return bt.RunRange(ctx, start, end)
			}

			if cmd.Int("train") > 0 {
				bars, err := data.Bars(symbol)
				if err != nil {
					return err
				}

				bar := progressbar.Default(-1, "walk-forward")

				result, err := optimizer.WalkForward(ctx, optimizer.WalkForwardConfig{
					Grid:        grid,
					Metric:      cmd.String("metric"),
					TrainPeriod: int(cmd.Int("train")),
					TestPeriod:  int(cmd.Int("test")),
					Step:        int(cmd.Int("step")),
					Bars:        len(bars),
					Workers:     int(cmd.Int("workers")),
					Progress: func(done, total int) {
						bar.ChangeMax(total)
						bar.Set(done)
					},
				}, runRange)
				if err != nil {
					return err
				}

				fmt.Fprintln(os.Stderr)

				return writeResult(cmd, result)
			}

			total := len(grid.Combinations())
			bar := progressbar.Default(int64(total), "grid search")

			result, err := optimizer.GridSearch(ctx, optimizer.GridSearchConfig{
				Grid:    grid,
				Metric:  cmd.String("metric"),
				Workers: int(cmd.Int("workers")),
				Progress: func(done, total int) {
					bar.Set(done)
				},
			}, func(ctx context.Context, params map[string]float64) (*types.BacktestResult, error) {
				bt, err := engine.NewBacktest(strategy, data, config, symbol, params, log)
				if err != nil {
					return nil, err
				}

				return bt.Run(ctx)
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(os.Stderr)

			return writeResult(cmd, result)
		},
	}
}

func monteCarloCommand() *cli.Command {
	flags := append(commonFlags(),
		&cli.StringFlag{
			Name:  "method",
			Usage: "shuffle_trades or bootstrap_returns",
			Value: "shuffle_trades",
		},
		&cli.IntFlag{
			Name:  "iterations",
			Usage: "Number of simulated paths",
			Value: 1000,
		},
		&cli.IntFlag{
			Name:  "block-size",
			Usage: "Block size for bootstrap_returns",
			Value: 5,
		},
		&cli.IntFlag{
			Name:  "seed",
			Usage: "PRNG seed",
			Value: 42,
		},
	)

	return &cli.Command{
		Name:  "montecarlo",
		Usage: "Monte Carlo analysis of a backtest result",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.NewNopLogger()

			strategy, config, data, err := setup(cmd, log)
			if err != nil {
				return err
			}

			bt, err := engine.NewBacktest(strategy, data, config, cmd.String("symbol"), nil, log)
			if err != nil {
				return err
			}

			backtest, err := bt.Run(ctx)
			if err != nil {
				return err
			}

			mcConfig := analysis.MonteCarloConfig{
				Iterations:  int(cmd.Int("iterations")),
				Seed:        int64(cmd.Int("seed")),
				BlockSize:   int(cmd.Int("block-size")),
				Workers:     4,
				Percentiles: nil,
			}

			var result *analysis.MonteCarloResult

			switch cmd.String("method") {
			case "bootstrap_returns":
				result, err = analysis.BootstrapReturns(ctx, backtest.Returns(), config.InitialCapital, mcConfig)
			default:
				result, err = analysis.ShuffleTrades(ctx, backtest.Trades, config.InitialCapital, mcConfig)
			}

			if err != nil {
				return err
			}

			fmt.Fprintln(os.Stderr, result.Summary())

			return writeResult(cmd, result)
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema for the backtest config",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			config := types.DefaultConfig()

			schema, err := config.GenerateSchemaJSON()
			if err != nil {
				return err
			}

			fmt.Println(schema)

			return nil
		},
	}
}
