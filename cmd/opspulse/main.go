package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/opspulse/opspulse/internal/artifact"
	"github.com/opspulse/opspulse/internal/config"
	"github.com/opspulse/opspulse/internal/forecaster"
	"github.com/opspulse/opspulse/internal/ingest"
	"github.com/opspulse/opspulse/internal/source"
)

type cli struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,help='Load environment variables from a .env file.'"`
	Config  string                   `help:"Path to the YAML configuration file." env:"OPSPULSE_CONFIG" type:"path"`

	Import   importCmd   `cmd:"" help:"Import a CSV export into the metric store."`
	Forecast forecastCmd `cmd:"" help:"Forecast one series and print the points."`
	Accuracy accuracyCmd `cmd:"" help:"Score persisted predictions against arrived facts."`
	Serve    serveCmd    `cmd:"" help:"Run the periodic forecast refresher and metrics endpoint."`
}

// app carries the wired components into command Run methods.
type app struct {
	cfg    *config.Config
	store  *source.Store
	src    source.Source
	engine *forecaster.Forecaster
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("opspulse"),
		kong.Description("Forecasting engine for operational VM metrics."),
		kong.UsageOnError(),
	)

	cfg, err := loadConfig(c.Config)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := openDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	store := source.New(db)
	if err := store.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	src := source.NewRetrying(store, cfg.SourceRetries)
	a := &app{
		cfg:    cfg,
		store:  store,
		src:    src,
		engine: forecaster.New(cfg, src, artifact.New(cfg.StorageRoot)),
	}

	kctx.FatalIfErrorf(kctx.Run(a))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	return db, nil
}

type importCmd struct {
	Path      string `arg:"" help:"CSV file with vm, metric, timestamp, value columns." type:"existingfile"`
	Separator string `help:"Column separator." default:","`
}

func (c *importCmd) Run(a *app) error {
	f, err := os.Open(c.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Path, err)
	}
	defer f.Close()

	sep := ','
	if c.Separator != "" {
		sep = rune(c.Separator[0])
	}

	importer := ingest.NewImporter(a.store, sep)
	n, err := importer.ImportCSV(context.Background(), f)
	if err != nil {
		return err
	}
	log.Printf("imported %d rows from %s", n, c.Path)
	return nil
}

type forecastCmd struct {
	VM      string `arg:"" help:"VM name, e.g. web-01."`
	Metric  string `arg:"" help:"Metric name, e.g. cpu.usage.average."`
	Horizon int    `help:"Future intervals to forecast. Defaults to the configured horizon."`
}

func (c *forecastCmd) Run(a *app) error {
	horizon := c.Horizon
	if horizon <= 0 {
		horizon = a.cfg.HorizonDefault
	}

	res, err := a.engine.Forecast(context.Background(), c.VM, c.Metric, horizon)
	if err != nil {
		return err
	}
	if res.Stale {
		log.Printf("served from stale model (trained %s): %v", res.Metadata.TrainedAt.Format(time.RFC3339), res.Diagnostic)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tVALUE\tLOWER\tUPPER")
	for _, p := range res.Points {
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\n", p.Timestamp.Format(time.RFC3339), p.Value, p.Lower, p.Upper)
	}
	return w.Flush()
}

type accuracyCmd struct {
	VM     string        `arg:"" help:"VM name."`
	Metric string        `arg:"" help:"Metric name."`
	Window time.Duration `help:"Lookback window to score." default:"24h"`
}

func (c *accuracyCmd) Run(a *app) error {
	until := time.Now().UTC()
	since := until.Add(-c.Window)

	res, err := a.engine.Accuracy(context.Background(), c.VM, c.Metric, since, until)
	if err != nil {
		return err
	}
	fmt.Printf("MAE:  %.4f\nRMSE: %.4f\nMAPE: %.4f\n", res.MAE, res.RMSE, res.MAPE)
	return nil
}

type serveCmd struct{}

func (c *serveCmd) Run(a *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}

	go func() {
		log.Printf("metrics listening on %s", a.cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()

	sched := ingest.NewScheduler(a.engine, a.src, a.cfg.RefreshInterval, a.cfg.HorizonDefault)
	err := sched.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	return err
}
