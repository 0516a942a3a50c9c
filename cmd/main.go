// Command rotor runs the automated trading loop: grid and DCA strategies over
// spot pairs with a portfolio-level risk manager, in paper or live mode.
//
// Usage:
//
//	rotor --config config.yaml
//	rotor --setup          (interactive config wizard)
//
// Required environment variables for live trading:
//
//	BINANCE_API_KEY, BINANCE_API_SECRET
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/config"
	"github.com/vadiminshakov/rotor/internal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"github.com/vadiminshakov/rotor/internal/exchange"
	"github.com/vadiminshakov/rotor/internal/market"
	"github.com/vadiminshakov/rotor/internal/monitoring"
	"github.com/vadiminshakov/rotor/internal/risk"
	"github.com/vadiminshakov/rotor/internal/setup"
	"github.com/vadiminshakov/rotor/internal/storage"
	"github.com/vadiminshakov/rotor/internal/strategy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	runSetup := flag.Bool("setup", false, "run the interactive config wizard")
	flag.Parse()

	if *runSetup {
		if err := setup.RunWizard(); err != nil {
			log.Fatal(err)
		}
		return
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	exch, klines := buildExchange(cfg, logger)

	var marketCtx *market.ContextService
	if klines != nil {
		marketCtx = market.NewContextService(klines, logger)
	}

	riskMgr := risk.NewManager(cfg.Risk, logger)

	var strategies []strategy.Strategy
	for _, pair := range cfg.Pairs {
		strategies = append(strategies,
			strategy.NewGrid(cfg.Grid, pair, exch, logger),
			strategy.NewDCA(cfg.DCA, pair, logger),
		)
		logger.Info("initialized strategies", zap.String("pair", pair.Pair.String()))
	}

	bot := internal.NewTradingBot(
		cfg.Pairs,
		cfg.CheckInterval,
		cfg.PaperTrading,
		exch,
		store,
		riskMgr,
		strategies,
		marketCtx,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bot.Run(gctx)
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: monitoring.Handler()}
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("bot terminated", zap.Error(err))
	}
}

// buildExchange wires the venue per config: a live Binance connector, or a
// paper engine fed by Binance or Bybit public market data.
func buildExchange(cfg config.Config, logger *zap.Logger) (exchange.Exchange, market.KlineProvider) {
	if !cfg.PaperTrading {
		client := binance.NewClient(cfg.APIKey, cfg.APISecret)
		live := exchange.NewBinance(client, logger)
		return live, live
	}

	balances := map[string]decimal.Decimal{cfg.Pairs[0].Pair.Quote: cfg.InitialBalance}
	pairs := make([]domain.Pair, len(cfg.Pairs))
	for i, p := range cfg.Pairs {
		pairs[i] = p.Pair
	}

	switch cfg.Platform {
	case "bybit":
		// Bybit serves tickers only; market context stays disabled
		data := exchange.NewBybitData(bybit.NewClient())
		return exchange.NewPaper(data, pairs, balances, logger), nil
	default:
		// public endpoints need no credentials
		pub := exchange.NewBinance(binance.NewClient("", ""), logger)
		return exchange.NewPaper(pub, pairs, balances, logger), pub
	}
}
