package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/regscout/internal/config"
	"github.com/timzifer/regscout/internal/export"
	"github.com/timzifer/regscout/internal/history"
	"github.com/timzifer/regscout/internal/logging"
	"github.com/timzifer/regscout/internal/report"
	"github.com/timzifer/regscout/internal/scan"
	"github.com/timzifer/regscout/remote"
	"github.com/timzifer/regscout/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to configuration file")
	port := flag.Int("port", 502, "Modbus TCP port")
	unit := flag.Int("unit", 1, "Modbus unit id")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-request timeout")
	hrStart := flag.Int("hr-start", 0, "Holding registers start address")
	hrEnd := flag.Int("hr-end", 1000, "Holding registers end address (inclusive)")
	irStart := flag.Int("ir-start", 0, "Input registers start address")
	irEnd := flag.Int("ir-end", 1000, "Input registers end address (inclusive)")
	coilStart := flag.Int("coil-start", 0, "Coils start address")
	coilEnd := flag.Int("coil-end", 100, "Coils end address (inclusive)")
	diStart := flag.Int("di-start", 0, "Discrete inputs start address")
	diEnd := flag.Int("di-end", 100, "Discrete inputs end address (inclusive)")
	batchSize := flag.Int("batch-size", 10, "Addresses per read request")
	delay := flag.Duration("delay", 100*time.Millisecond, "Minimum pause between read requests")
	retries := flag.Int("retries", 1, "Retries per window before narrowing")
	monitor := flag.Bool("monitor", false, "Monitor discovered registers for changes after the scan")
	monitorInterval := flag.Duration("monitor-interval", 2*time.Second, "Pause between monitor samples")
	monitorDuration := flag.Duration("monitor-duration", 2*time.Minute, "Total monitoring time")
	outDir := flag.String("out-dir", ".", "Directory for export artifacts")
	historyPath := flag.String("history", "", "Path to the sqlite scan archive (disabled when empty)")
	filterExpr := flag.String("filter", "", "Reading filter expression for the summary (default: raw != 0)")
	logLevel := flag.String("log-level", "", "Log level override")
	metricsListen := flag.String("metrics-listen", "", "Prometheus listen address (disabled when empty)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if flag.NArg() > 0 {
		cfg.Target.Address = net.JoinHostPort(flag.Arg(0), strconv.Itoa(*port))
	}
	if set["unit"] {
		cfg.Target.UnitID = uint8(*unit)
	}
	if set["timeout"] {
		cfg.Target.Timeout = config.Duration{Duration: *timeout}
	}
	if set["hr-start"] {
		cfg.Spaces.Holding.Start = *hrStart
	}
	if set["hr-end"] {
		cfg.Spaces.Holding.End = *hrEnd
	}
	if set["ir-start"] {
		cfg.Spaces.Input.Start = *irStart
	}
	if set["ir-end"] {
		cfg.Spaces.Input.End = *irEnd
	}
	if set["coil-start"] {
		cfg.Spaces.Coils.Start = *coilStart
	}
	if set["coil-end"] {
		cfg.Spaces.Coils.End = *coilEnd
	}
	if set["di-start"] {
		cfg.Spaces.Discrete.Start = *diStart
	}
	if set["di-end"] {
		cfg.Spaces.Discrete.End = *diEnd
	}
	if set["batch-size"] {
		cfg.Scan.BatchSize = *batchSize
	}
	if set["delay"] {
		cfg.Scan.Delay = config.Duration{Duration: *delay}
	}
	if set["retries"] {
		cfg.Scan.Retries = *retries
	}
	if *monitor {
		cfg.Monitor.Enabled = true
	}
	if set["monitor-interval"] {
		cfg.Monitor.Interval = config.Duration{Duration: *monitorInterval}
	}
	if set["monitor-duration"] {
		cfg.Monitor.Duration = config.Duration{Duration: *monitorDuration}
	}
	if set["out-dir"] {
		cfg.Export.Dir = *outDir
	}
	if set["history"] {
		cfg.History.Path = *historyPath
	}
	if set["filter"] {
		cfg.Report.Filter = *filterExpr
	}
	if set["log-level"] {
		cfg.Logging.Level = *logLevel
	}
	if set["metrics-listen"] {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Listen = *metricsListen
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := telemetry.Noop()
	if cfg.Telemetry.Enabled && cfg.Telemetry.Listen != "" {
		prom, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create telemetry collector")
		}
		collector = prom
		go serveMetrics(cfg.Telemetry.Listen, logger)
	}

	os.Exit(run(ctx, cfg, logger, collector))
}

func serveMetrics(listen string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(listen, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("listen", listen).Msg("metrics endpoint failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) int {
	filter, err := report.NewFilter(cfg.Report.Filter)
	if err != nil {
		logger.Error().Err(err).Msg("invalid filter expression")
		return 2
	}

	host, port, err := splitTarget(cfg.Target.Address)
	if err != nil {
		logger.Error().Err(err).Str("address", cfg.Target.Address).Msg("invalid target address")
		return 2
	}

	client, err := remote.NewTCPClientFactory()(cfg.Target)
	if err != nil {
		logger.Error().Err(err).Str("address", cfg.Target.Address).Msg("connection failed")
		return 1
	}
	defer client.Close()
	logger.Info().Str("address", cfg.Target.Address).Uint8("unit", cfg.Target.UnitID).Msg("connected")

	scanner, err := scan.New(client, scan.Options{
		Host:      host,
		Port:      port,
		UnitID:    cfg.Target.UnitID,
		Delay:     cfg.Scan.Delay.Duration,
		Retries:   cfg.Scan.Retries,
		Logger:    logger,
		Collector: collector,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create scanner")
		return 2
	}

	ranges := []scan.AddressRange{
		{Space: scan.SpaceHolding, Start: cfg.Spaces.Holding.Start, End: cfg.Spaces.Holding.End + 1},
		{Space: scan.SpaceInput, Start: cfg.Spaces.Input.Start, End: cfg.Spaces.Input.End + 1},
		{Space: scan.SpaceCoil, Start: cfg.Spaces.Coils.Start, End: cfg.Spaces.Coils.End + 1},
		{Space: scan.SpaceDiscrete, Start: cfg.Spaces.Discrete.Start, End: cfg.Spaces.Discrete.End + 1},
	}

	snap, failures, err := scanner.Scan(ctx, ranges, cfg.Scan.BatchSize)
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		logger.Error().Err(err).Msg("scan aborted")
		return 2
	}
	if interrupted {
		logger.Warn().Msg("scan interrupted, keeping partial snapshot")
	}

	summary, err := report.Build(snap, failures, filter)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build summary")
		return 2
	}
	summary.Render(os.Stdout)

	artifact, err := export.Write(cfg.Export.Dir, snap)
	if err != nil {
		logger.Error().Err(err).Msg("failed to export snapshot")
		return 2
	}
	logger.Info().Str("artifact", artifact).Int("readings", snap.Len()).Int("failures", len(failures)).Msg("scan exported")

	var store *history.Store
	var scanID int64
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Error().Err(err).Msg("scan archive unavailable")
			store = nil
		} else {
			defer store.Close()
			archiveScan(ctx, store, snap, artifact, logger, &scanID)
		}
	}

	if report.TotalConnectionFailure(snap, failures) {
		logger.Error().Msg("no readings obtained, device unreachable")
		return 1
	}

	if cfg.Monitor.Enabled && !interrupted {
		if code := runMonitor(ctx, cfg, scanner, summary, snap, store, scanID, logger); code != 0 {
			return code
		}
	}
	return 0
}

func runMonitor(ctx context.Context, cfg *config.Config, scanner *scan.Scanner, summary *report.Summary, snap *scan.Snapshot, store *history.Store, scanID int64, logger zerolog.Logger) int {
	keys := summary.RegisterKeys()
	if len(keys) == 0 {
		logger.Info().Msg("no registers matched the filter, skipping monitoring")
		return 0
	}

	vol, err := scanner.Monitor(ctx, keys, cfg.Monitor.Interval.Duration, cfg.Monitor.Duration.Duration)
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		logger.Error().Err(err).Msg("monitoring aborted")
		return 2
	}
	if interrupted {
		logger.Warn().Msg("monitoring interrupted, keeping partial classification")
	}

	report.RenderVolatility(os.Stdout, vol, keys)

	artifact, err := export.WriteMonitored(cfg.Export.Dir, snap, vol)
	if err != nil {
		logger.Error().Err(err).Msg("failed to export monitoring results")
		return 2
	}
	logger.Info().Str("artifact", artifact).Msg("monitoring results exported")

	if store != nil && scanID != 0 {
		if err := store.RecordVolatility(ctx, scanID, vol); err != nil {
			logger.Error().Err(err).Msg("failed to archive volatility")
		}
	}
	return 0
}

func archiveScan(ctx context.Context, store *history.Store, snap *scan.Snapshot, artifact string, logger zerolog.Logger, scanID *int64) {
	prevID, found, err := store.PreviousScan(ctx, snap.Meta.Host, snap.Meta.Port, snap.Meta.UnitID, snap.Meta.Timestamp)
	if err != nil {
		logger.Error().Err(err).Msg("failed to look up previous scan")
	}

	id, err := store.RecordScan(ctx, snap, artifact)
	if err != nil {
		logger.Error().Err(err).Msg("failed to archive scan")
		return
	}
	*scanID = id

	if !found {
		logger.Info().Msg("first archived scan for this target")
		return
	}
	previous, err := store.Readings(ctx, prevID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load previous readings")
		return
	}
	changes := history.Diff(previous, snap)
	logger.Info().Int("changes", len(changes)).Msg("compared against previous archived scan")
	for _, change := range changes {
		logger.Debug().
			Str("space", string(change.Key.Space)).
			Int("address", change.Key.Address).
			Str("kind", string(change.Kind)).
			Int("previous", change.Previous).
			Int("current", change.Current).
			Msg("difference to previous scan")
	}
}

func splitTarget(address string) (string, int, error) {
	host, portRaw, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
