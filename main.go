package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"depthflow/config"
	"depthflow/logger"
	"depthflow/market"
	"depthflow/metrics"
	"depthflow/orderbook"
	"depthflow/processor"
	"depthflow/simulator"
	"depthflow/snapshot"
	"depthflow/source"
	"depthflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default depends on APP_ENV)")
	inputs := flag.String("input", "", "Comma separated event files, overrides replay.inputs")
	variables := flag.String("variables", "", "Comma separated variable names, overrides replay.variables")
	mode := flag.String("mode", "", "variables, backtest or snapshot, overrides replay.mode")
	reference := flag.String("snapshot", "", "Published depth snapshot to compare against in snapshot mode")
	multi := flag.Bool("multi", false, "Replay several instruments at once")
	parallel := flag.Bool("parallel", false, "Partition instruments over processor.workers")
	merge := flag.Bool("merge", false, "Interleave input files by receive time")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath), func(c *config.Config) {
		applyFlags(c, *inputs, *variables, *mode, *reference, *multi, *parallel, *merge)
	})
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"mode":        cfg.Replay.Mode,
	}).Info("starting depthflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.CloudWatch.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" && cfg.Logging.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	err = run(ctx, cfg)
	logger.LogReport(context.WithoutCancel(ctx), log)
	if err != nil {
		log.WithError(err).Error("replay failed")
		os.Exit(1)
	}
	log.Info("depthflow stopped")
}

func applyFlags(cfg *config.Config, inputs, variables, mode, reference string, multi, parallel, merge bool) {
	if inputs != "" {
		cfg.Replay.Inputs = splitList(inputs)
	}
	if variables != "" {
		cfg.Replay.Variables = splitList(variables)
	}
	if mode != "" {
		cfg.Replay.Mode = strings.ToLower(mode)
	}
	if reference != "" {
		cfg.Replay.SnapshotReference = reference
	}
	if multi {
		cfg.Replay.MultiInstrument = true
	}
	if parallel {
		cfg.Replay.Parallel = true
		cfg.Replay.MultiInstrument = true
	}
	if merge {
		cfg.Replay.MergeByTime = true
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.GetLogger().WithComponent("main")

	open := source.Open
	if cfg.Replay.MergeByTime {
		open = source.OpenMerged
	}
	src, err := open(cfg.Replay.Inputs...)
	if err != nil {
		return err
	}
	defer source.Close(src)

	if cfg.Replay.Mode == config.ModeSnapshot {
		return runSnapshot(cfg, src)
	}

	mask, err := metrics.ParseMask(cfg.Replay.Variables)
	if err != nil {
		return err
	}

	if cfg.Replay.Parallel {
		return runParallel(ctx, cfg, mask, src)
	}

	sink, closeSink, err := newSink(ctx, cfg, mask)
	if err != nil {
		return err
	}

	switch {
	case cfg.Replay.Mode == config.ModeVariables:
		var entries []metrics.Entry
		entries, err = newSimulator(cfg, mask).ComputeVariables(src, cfg.Replay.Variables)
		if err == nil {
			log.WithFields(logger.Fields{"records": len(entries)}).Info("variables computed")
			for _, e := range entries {
				if err = sink(e); err != nil {
					break
				}
			}
		}
	default:
		err = newSimulator(cfg, mask).ComputeBacktest(src, cfg.Replay.Variables, sink)
	}

	if cerr := closeSink(); err == nil {
		err = cerr
	}
	return err
}

// runParallel partitions instruments over processor.workers. Records stream
// from the workers straight into the parquet writer, or to Kafka in backtest
// mode when it is enabled.
func runParallel(ctx context.Context, cfg *config.Config, mask metrics.Mask, src source.Source) error {
	p := processor.NewPartitioner(cfg, market.NewGlobalMarketState(mask))

	if cfg.Replay.Mode == config.ModeBacktest && cfg.Kafka.Enabled {
		kp, err := writer.NewKafkaPublisher(cfg)
		if err != nil {
			return err
		}
		err = p.Replay(ctx, src, kp.Callback(ctx))
		if cerr := kp.Close(); err == nil {
			err = cerr
		}
		return err
	}

	mw, err := writer.NewMetricsWriter(cfg, mask)
	if err != nil {
		return err
	}
	if err := p.Stream(ctx, src, mw); err != nil {
		return err
	}
	logger.GetLogger().WithComponent("main").WithFields(logger.Fields{"files": len(mw.Files())}).Info("parallel replay written")
	return nil
}

func newSimulator(cfg *config.Config, mask metrics.Mask) *simulator.SessionSimulator {
	if cfg.Replay.MultiInstrument {
		return simulator.NewMultiSessionSimulator(market.NewGlobalMarketState(mask))
	}
	return simulator.NewSessionSimulator()
}

// newSink picks where records go: Kafka in backtest mode when it is enabled,
// parquet files otherwise.
func newSink(ctx context.Context, cfg *config.Config, mask metrics.Mask) (func(metrics.Entry) error, func() error, error) {
	if cfg.Replay.Mode == config.ModeBacktest && cfg.Kafka.Enabled {
		kp, err := writer.NewKafkaPublisher(cfg)
		if err != nil {
			return nil, nil, err
		}
		return kp.Callback(ctx), kp.Close, nil
	}
	mw, err := writer.NewMetricsWriter(cfg, mask)
	if err != nil {
		return nil, nil, err
	}
	return mw.Write, mw.Stop, nil
}

func runSnapshot(cfg *config.Config, src source.Source) error {
	log := logger.GetLogger().WithComponent("main")

	var books map[market.Key]*orderbook.OrderBook
	var err error
	if cfg.Replay.MultiInstrument {
		books, err = simulator.NewMultiSessionSimulator(market.NewGlobalMarketState(metrics.Mask{})).ComputeFinalDepthSnapshots(src)
	} else {
		books, err = simulator.NewSessionSimulator().ComputeFinalDepthSnapshots(src)
	}
	if err != nil {
		return err
	}
	for k, b := range books {
		log.WithFields(logger.Fields{
			"instrument": k.String(),
			"asks":       b.AskCount(),
			"bids":       b.BidCount(),
			"best_ask":   b.BestAskPrice(),
			"best_bid":   b.BestBidPrice(),
		}).Info("final depth snapshot")
	}

	if cfg.Replay.SnapshotReference == "" {
		return nil
	}
	if len(books) != 1 {
		return fmt.Errorf("snapshot comparison needs exactly one instrument, replay saw %d", len(books))
	}
	published, err := snapshot.Load(cfg.Replay.SnapshotReference)
	if err != nil {
		return err
	}
	for _, b := range books {
		mismatches := snapshot.Compare(b, published)
		for i, m := range mismatches {
			if i == 20 {
				log.WithFields(logger.Fields{"remaining": len(mismatches) - i}).Warn("more mismatches omitted")
				break
			}
			log.WithField("mismatch", m.String()).Warn("snapshot mismatch")
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("replayed book differs from %s at %d levels", cfg.Replay.SnapshotReference, len(mismatches))
		}
	}
	log.WithFields(logger.Fields{"reference": cfg.Replay.SnapshotReference}).Info("replayed book matches published snapshot")
	return nil
}
