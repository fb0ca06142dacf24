package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"FinFactor/internal/di"
	"FinFactor/pkg/config"
	"FinFactor/pkg/server"
)

var (
	configPath string
	runStages  []string
	runClean   bool
	runStrict  bool
	serveRun   bool
	inPrices   string
	inFunds    string
)

var rootCmd = &cobra.Command{
	Use:   "finfactor",
	Short: "Point-in-time equity factors with robust cross-sectional scaling",
	Long: `finfactor derives daily return, market cap, price-to-book and momentum
per symbol without look-ahead, then standardizes each trading date's
cross-section after dropping skew-adjusted boxplot outliers.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the factor and scaling stages over the configured window",
	Long: `Run the enabled pipeline stages. Stages run in order: factors, then scale.

Examples:
  finfactor run
  finfactor run --stage scale
  finfactor run --clean --strict
  finfactor run --prices prices.csv --fundamentals filings.csv`,
	RunE: runPipeline,
}

var loadCmd = &cobra.Command{
	Use:   "load (prices|fundamentals) FILE",
	Short: "Bulk-load a CSV or TSV export into an input table",
	Long: `Load price bars or fundamental filings into the configured backend.

Prices need symbol, date, close and adj_close columns; open and volume are
optional. Fundamentals need symbol, kind (equity or shares), ddate, filed and
value. Dates are YYYY-MM-DD.

Examples:
  finfactor load prices data/prices.csv
  finfactor load fundamentals data/num.tsv`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{server.LoadPrices, server.LoadFundamentals},
	RunE:      runLoad,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only factor API until interrupted",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the storage schema if it does not exist",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	runCmd.Flags().StringSliceVar(&runStages, "stage", nil, "stages to run (factors, scale); default from config")
	runCmd.Flags().BoolVar(&runClean, "clean", false, "truncate each stage's output table before it runs")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "exit non-zero when any unit failed")
	runCmd.Flags().StringVar(&inPrices, "prices", "", "price file to load before running")
	runCmd.Flags().StringVar(&inFunds, "fundamentals", "", "filing file to load before running")
	serveCmd.Flags().BoolVar(&serveRun, "run", false, "run the configured stages before serving")

	rootCmd.AddCommand(runCmd, serveCmd, migrateCmd, loadCmd)
}

// rootContext is cancelled on SIGINT or SIGTERM. The pipeline then stops
// scheduling units and the deferred App.Close still flushes clients.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	ctx, stop := rootContext()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildApp(ctx context.Context, mutate func(*config.Config)) (*server.App, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	app, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, nil
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx, func(c *config.Config) {
		if runClean {
			c.Pipeline.Clean = true
		}
	})
	if err != nil {
		return err
	}
	defer app.Close()

	for _, in := range []struct{ table, path string }{
		{server.LoadPrices, inPrices},
		{server.LoadFundamentals, inFunds},
	} {
		if in.path == "" {
			continue
		}
		if _, err := app.Load(ctx, in.table, in.path); err != nil {
			return err
		}
	}

	reports, err := app.RunPipeline(ctx, runStages)
	if err != nil {
		return err
	}
	if runStrict {
		for _, r := range reports {
			if r.Failed > 0 {
				return fmt.Errorf("stage %s: %d units failed", r.Stage, r.Failed)
			}
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if serveRun {
		if _, err := app.RunPipeline(ctx, nil); err != nil {
			return err
		}
	} else if err := app.Init(ctx); err != nil {
		return err
	}
	return app.Serve(ctx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	app, err := buildApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Init(cmd.Context())
}

func runLoad(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.Load(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loaded %d %s rows\n", n, args[0])
	return nil
}
