package main

import (
	"arbitrage-bot-go/internal/bot"
	"arbitrage-bot-go/internal/config"
	"arbitrage-bot-go/internal/exchange"
	"arbitrage-bot-go/internal/execution"
	"arbitrage-bot-go/internal/funds"
	"arbitrage-bot-go/internal/logger"
	"arbitrage-bot-go/internal/models"
	"arbitrage-bot-go/internal/performance"
	"arbitrage-bot-go/internal/persistence"
	"arbitrage-bot-go/internal/quote"
	"arbitrage-bot-go/internal/reconcile"
	"arbitrage-bot-go/internal/recorder"
	"arbitrage-bot-go/internal/reporter"
	"arbitrage-bot-go/internal/scheduler"
	"arbitrage-bot-go/internal/server"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	mode := flag.String("mode", "", "running mode: live, paper or record (overrides the config file)")
	flag.Parse()

	// a default logger until the config file has been read
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading secrets from the environment.")
	} else {
		logger.S().Info("Loaded environment from .env.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Cannot load config: %v", err)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := config.Validate(cfg); err != nil {
			logger.S().Fatal(err)
		}
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case "live", "paper":
		if err := runTrading(ctx, cfg); err != nil {
			logger.S().Fatal(err)
		}
	case "record":
		if err := runRecorder(ctx, cfg); err != nil {
			logger.S().Fatal(err)
		}
	default:
		logger.S().Fatalf("Unknown mode %q, choose live, paper or record.", cfg.Mode)
	}
}

// buildVenues creates one connector per configured exchange. In paper mode
// every live connector only supplies books to a simulated venue.
func buildVenues(ctx context.Context, cfg *models.Config, paper bool, log *zap.Logger) ([]exchange.Venue, error) {
	gateways := make(map[string]*exchange.GatewayClient)
	var venues []exchange.Venue
	for _, name := range config.ExchangeNames(cfg) {
		ex := cfg.Exchanges[name]
		apiKey, secretKey := os.Getenv(ex.APIKeyEnv), os.Getenv(ex.SecretKeyEnv)
		if cfg.Mode == "live" && ex.Driver != "simulated" && (apiKey == "" || secretKey == "") {
			return nil, fmt.Errorf("exchange %s: %s and %s must be set in live mode", name, ex.APIKeyEnv, ex.SecretKeyEnv)
		}

		var venue exchange.Venue
		switch ex.Driver {
		case "binance":
			venue = exchange.NewBinanceVenue(name, apiKey, secretKey, ex, log)
		case "bybit":
			venue = exchange.NewBybitVenue(name, apiKey, secretKey, ex, log)
		case "gateway":
			client, ok := gateways[ex.BaseURL]
			if !ok {
				var err error
				client, err = exchange.NewGatewayClient(ctx, apiKey, secretKey, ex.BaseURL, ex.RequestsPerSecond, log)
				if err != nil {
					return nil, fmt.Errorf("exchange %s: %w", name, err)
				}
				gateways[ex.BaseURL] = client
			}
			venue = client.Venue(name)
		case "simulated":
			venues = append(venues, exchange.NewSimulatedVenue(name, ex, nil))
			continue
		default:
			return nil, fmt.Errorf("exchange %s: unknown driver %q", name, ex.Driver)
		}

		if paper {
			venue = exchange.NewSimulatedVenue(name, ex, venue)
		}
		venues = append(venues, venue)
		log.Info("Exchange ready", zap.String("exchange", name), zap.String("driver", ex.Driver), zap.Bool("paper", paper))
	}
	return venues, nil
}

// runTrading wires the engine and blocks until ctx is cancelled.
func runTrading(ctx context.Context, cfg *models.Config) error {
	log := logger.L()
	started := time.Now()
	logger.S().Infof("--- Starting %s mode (%s) ---", cfg.Mode, cfg.AlgoName)

	venues, err := buildVenues(ctx, cfg, cfg.Mode == "paper", log)
	if err != nil {
		return err
	}
	router := exchange.NewRouter(log, venues...)

	stores, err := persistence.Open(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	ledger := funds.NewLedger(router.Names(), cfg.Trading.FundUpdateLockPeriod, log)
	if _, err := ledger.Refresh(ctx, router); err != nil {
		logger.S().Warnf("Initial fund refresh incomplete: %v", err)
	}

	hub := server.NewHub(log)
	go hub.Run()

	audit := persistence.NewAsyncAuditSink(stores.OrderLog, 1024, log)
	engine := reconcile.NewEngine(router, stores.OrderLog, stores.Pending, cfg.Intervals.Reconcile, log)
	coordinator := execution.NewCoordinator(router, engine, audit, ledger, hub, cfg.AlgoName, cfg.Trading.OrderTimeout, log)
	aggregator := quote.NewAggregator(router, config.NewFeeTable(cfg), cfg.Trading.Depth, log)
	arb := bot.NewArbitrageBot(cfg, aggregator, ledger, router, coordinator, hub, log)
	engine.OnTerminal(arb.HandleTerminal)

	restored, err := engine.Restore()
	if err != nil {
		logger.S().Warnf("Cannot restore in-flight orders: %v", err)
	} else if restored > 0 {
		logger.S().Infof("Restored %d in-flight orders.", restored)
	}
	engine.Start()

	tracker := performance.NewTracker(stores.OrderLog, log)
	if err := tracker.RegisterFromConfig(cfg); err != nil {
		return err
	}
	trackerCtx, stopTracker := context.WithCancel(ctx)
	defer stopTracker()
	go tracker.Run(trackerCtx)

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server.Addr, server.Deps{
			Pending:     engine,
			Funds:       ledger,
			Performance: tracker,
			Stats:       func() any { return arb.Stats() },
			Hub:         hub,
		}, log)
		srv.Start()
	}

	var rec *recorder.BookRecorder
	recDone := make(chan struct{})
	if cfg.Recorder.Enabled {
		rec, err = newRecorder(ctx, cfg, router, log)
		if err != nil {
			return err
		}
		go func() {
			defer close(recDone)
			scheduler.NewLoop("recorder", cfg.Recorder.Interval, rec.Snapshot, log).Run(ctx)
		}()
	} else {
		close(recDone)
	}

	arb.Start(ctx)
	<-ctx.Done()
	logger.S().Info("Shutdown requested, stopping...")

	arb.Stop()
	stopTracker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.S().Warnf("API shutdown: %v", err)
		}
	} else {
		hub.Stop()
	}
	engine.Stop()
	audit.Stop()
	<-recDone
	if rec != nil {
		if err := rec.Flush(shutdownCtx); err != nil {
			logger.S().Warnf("Final recorder flush failed: %v", err)
		}
	}

	legs, err := stores.OrderLog.ListLegs(shutdownCtx, started, time.Now().Add(time.Second))
	if err != nil {
		logger.S().Warnf("Cannot read the session order log: %v", err)
	}
	reporter.GenerateReport(os.Stdout, reporter.Session{
		Start:   started,
		End:     time.Now(),
		Stats:   arb.Stats(),
		Funds:   ledger.Snapshot(),
		Pending: engine.Snapshot(),
		Legs:    legs,
	})
	logger.S().Info("Stopped.")
	return nil
}

// runRecorder snapshots books until ctx is cancelled.
func runRecorder(ctx context.Context, cfg *models.Config) error {
	log := logger.L()
	logger.S().Info("--- Starting record mode ---")

	venues, err := buildVenues(ctx, cfg, false, log)
	if err != nil {
		return err
	}
	router := exchange.NewRouter(log, venues...)

	rec, err := newRecorder(ctx, cfg, router, log)
	if err != nil {
		return err
	}

	runs := scheduler.NewLoop("recorder", cfg.Recorder.Interval, rec.Snapshot, log).Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rec.Flush(flushCtx); err != nil {
		logger.S().Warnf("Final flush failed: %v", err)
	}
	logger.S().Infof("Recorder stopped after %d snapshots, %d files written.", runs, len(rec.Files()))
	return nil
}

func newRecorder(ctx context.Context, cfg *models.Config, router *exchange.Router, log *zap.Logger) (*recorder.BookRecorder, error) {
	var uploader recorder.Uploader
	if cfg.Recorder.S3.Bucket != "" {
		s3u, err := recorder.NewS3Uploader(ctx, cfg.Recorder.S3)
		if err != nil {
			return nil, err
		}
		uploader = s3u
	}
	return recorder.NewBookRecorder(router, router.Names(), cfg.Pairs, cfg.Recorder, uploader, log), nil
}
