// Package config loads bot configuration from YAML with sane defaults and
// reads exchange credentials from the environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"github.com/vadiminshakov/rotor/internal/risk"
	"github.com/vadiminshakov/rotor/internal/strategy"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Platform      string
	PaperTrading  bool
	APIKey        string
	APISecret     string
	DBPath        string
	MetricsAddr   string
	CheckInterval time.Duration

	// starting quote balance for the paper engine
	InitialBalance decimal.Decimal

	Pairs []domain.TradingPair
	Grid  strategy.GridConfig
	DCA   strategy.DCAConfig
	Risk  risk.Config
}

type pairTmp struct {
	Pair            string `yaml:"pair"`
	MinOrderSize    string `yaml:"min_order_size"`
	PricePrecision  int32  `yaml:"price_precision"`
	AmountPrecision int32  `yaml:"amount_precision"`
}

type configTmp struct {
	Platform       string        `yaml:"platform,omitempty"`
	PaperTrading   *bool         `yaml:"paper_trading,omitempty"`
	DBPath         string        `yaml:"db_path,omitempty"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"`
	CheckInterval  time.Duration `yaml:"check_interval,omitempty"`
	InitialBalance string        `yaml:"initial_balance,omitempty"`

	Pairs []pairTmp `yaml:"pairs,omitempty"`

	Grid struct {
		NumGrids      int    `yaml:"num_grids,omitempty"`
		UpperPricePct string `yaml:"upper_price_pct,omitempty"`
		LowerPricePct string `yaml:"lower_price_pct,omitempty"`
		AllocationPct string `yaml:"allocation_pct,omitempty"`
	} `yaml:"grid,omitempty"`

	DCA struct {
		BuyIntervalHours    float64 `yaml:"buy_interval_hours,omitempty"`
		BuyAmountPct        string  `yaml:"buy_amount_pct,omitempty"`
		PriceDropTriggerPct string  `yaml:"price_drop_trigger_pct,omitempty"`
		MaxBuysPerDay       int     `yaml:"max_buys_per_day,omitempty"`
	} `yaml:"dca,omitempty"`

	Risk struct {
		MaxRiskPerTradePct string `yaml:"max_risk_per_trade_pct,omitempty"`
		MaxDrawdownPct     string `yaml:"max_drawdown_pct,omitempty"`
		StopLossPct        string `yaml:"stop_loss_pct,omitempty"`
		TakeProfitPct      string `yaml:"take_profit_pct,omitempty"`
		DailyLossLimitPct  string `yaml:"daily_loss_limit_pct,omitempty"`
	} `yaml:"risk,omitempty"`
}

// Default returns the configuration used when no YAML file is given.
func Default() Config {
	return Config{
		Platform:       "binance",
		PaperTrading:   true,
		DBPath:         "rotor.db",
		MetricsAddr:    ":9090",
		CheckInterval:  60 * time.Second,
		InitialBalance: decimal.NewFromInt(10000),
		Pairs: []domain.TradingPair{
			{
				Pair:            domain.Pair{Base: "BTC", Quote: "USDT"},
				MinOrderSize:    decimal.NewFromFloat(0.0001),
				PricePrecision:  1,
				AmountPrecision: 8,
			},
			{
				Pair:            domain.Pair{Base: "ETH", Quote: "USDT"},
				MinOrderSize:    decimal.NewFromFloat(0.001),
				PricePrecision:  2,
				AmountPrecision: 8,
			},
			{
				Pair:            domain.Pair{Base: "SOL", Quote: "USDT"},
				MinOrderSize:    decimal.NewFromFloat(0.01),
				PricePrecision:  3,
				AmountPrecision: 8,
			},
		},
		Grid: strategy.GridConfig{
			NumGrids:      10,
			UpperPricePct: decimal.NewFromFloat(0.05),
			LowerPricePct: decimal.NewFromFloat(0.05),
			AllocationPct: decimal.NewFromFloat(0.3),
		},
		DCA: strategy.DCAConfig{
			BuyIntervalHours:    24,
			BuyAmountPct:        decimal.NewFromFloat(0.02),
			PriceDropTriggerPct: decimal.NewFromFloat(0.03),
			MaxBuysPerDay:       3,
		},
		Risk: risk.Config{
			MaxRiskPerTradePct: decimal.NewFromFloat(0.02),
			MaxDrawdownPct:     decimal.NewFromFloat(0.10),
			StopLossPct:        decimal.NewFromFloat(0.03),
			TakeProfitPct:      decimal.NewFromFloat(0.05),
			DailyLossLimitPct:  decimal.NewFromFloat(0.05),
		},
	}
}

// Load reads a YAML config, filling anything omitted from the defaults, and
// picks up API credentials from the environment. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	cfg.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.APISecret = os.Getenv("BINANCE_API_SECRET")

	if path == "" {
		return cfg, validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "parse yaml config")
	}

	if err := apply(&cfg, tmp); err != nil {
		return Config{}, err
	}
	return cfg, validate(cfg)
}

func apply(cfg *Config, tmp configTmp) error {
	if tmp.Platform != "" {
		cfg.Platform = strings.ToLower(tmp.Platform)
	}
	if tmp.PaperTrading != nil {
		cfg.PaperTrading = *tmp.PaperTrading
	}
	if tmp.DBPath != "" {
		cfg.DBPath = tmp.DBPath
	}
	if tmp.MetricsAddr != "" {
		cfg.MetricsAddr = tmp.MetricsAddr
	}
	if tmp.CheckInterval > 0 {
		cfg.CheckInterval = tmp.CheckInterval
	}

	var err error
	if cfg.InitialBalance, err = decimalOr(tmp.InitialBalance, cfg.InitialBalance); err != nil {
		return errors.Wrap(err, "incorrect 'initial_balance' param in yaml config")
	}

	if len(tmp.Pairs) > 0 {
		cfg.Pairs = cfg.Pairs[:0]
		for _, p := range tmp.Pairs {
			pair, err := pairFromString(p.Pair)
			if err != nil {
				return err
			}
			minSize, err := decimal.NewFromString(p.MinOrderSize)
			if err != nil {
				return errors.Wrapf(err, "incorrect 'min_order_size' for pair %s", p.Pair)
			}
			cfg.Pairs = append(cfg.Pairs, domain.TradingPair{
				Pair:            pair,
				MinOrderSize:    minSize,
				PricePrecision:  p.PricePrecision,
				AmountPrecision: p.AmountPrecision,
			})
		}
	}

	if tmp.Grid.NumGrids > 0 {
		cfg.Grid.NumGrids = tmp.Grid.NumGrids
	}
	if cfg.Grid.UpperPricePct, err = decimalOr(tmp.Grid.UpperPricePct, cfg.Grid.UpperPricePct); err != nil {
		return errors.Wrap(err, "incorrect 'grid.upper_price_pct' param")
	}
	if cfg.Grid.LowerPricePct, err = decimalOr(tmp.Grid.LowerPricePct, cfg.Grid.LowerPricePct); err != nil {
		return errors.Wrap(err, "incorrect 'grid.lower_price_pct' param")
	}
	if cfg.Grid.AllocationPct, err = decimalOr(tmp.Grid.AllocationPct, cfg.Grid.AllocationPct); err != nil {
		return errors.Wrap(err, "incorrect 'grid.allocation_pct' param")
	}

	if tmp.DCA.BuyIntervalHours > 0 {
		cfg.DCA.BuyIntervalHours = tmp.DCA.BuyIntervalHours
	}
	if tmp.DCA.MaxBuysPerDay > 0 {
		cfg.DCA.MaxBuysPerDay = tmp.DCA.MaxBuysPerDay
	}
	if cfg.DCA.BuyAmountPct, err = decimalOr(tmp.DCA.BuyAmountPct, cfg.DCA.BuyAmountPct); err != nil {
		return errors.Wrap(err, "incorrect 'dca.buy_amount_pct' param")
	}
	if cfg.DCA.PriceDropTriggerPct, err = decimalOr(tmp.DCA.PriceDropTriggerPct, cfg.DCA.PriceDropTriggerPct); err != nil {
		return errors.Wrap(err, "incorrect 'dca.price_drop_trigger_pct' param")
	}

	if cfg.Risk.MaxRiskPerTradePct, err = decimalOr(tmp.Risk.MaxRiskPerTradePct, cfg.Risk.MaxRiskPerTradePct); err != nil {
		return errors.Wrap(err, "incorrect 'risk.max_risk_per_trade_pct' param")
	}
	if cfg.Risk.MaxDrawdownPct, err = decimalOr(tmp.Risk.MaxDrawdownPct, cfg.Risk.MaxDrawdownPct); err != nil {
		return errors.Wrap(err, "incorrect 'risk.max_drawdown_pct' param")
	}
	if cfg.Risk.StopLossPct, err = decimalOr(tmp.Risk.StopLossPct, cfg.Risk.StopLossPct); err != nil {
		return errors.Wrap(err, "incorrect 'risk.stop_loss_pct' param")
	}
	if cfg.Risk.TakeProfitPct, err = decimalOr(tmp.Risk.TakeProfitPct, cfg.Risk.TakeProfitPct); err != nil {
		return errors.Wrap(err, "incorrect 'risk.take_profit_pct' param")
	}
	if cfg.Risk.DailyLossLimitPct, err = decimalOr(tmp.Risk.DailyLossLimitPct, cfg.Risk.DailyLossLimitPct); err != nil {
		return errors.Wrap(err, "incorrect 'risk.daily_loss_limit_pct' param")
	}

	return nil
}

func decimalOr(s string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return fallback, nil
	}
	return decimal.NewFromString(s)
}

func pairFromString(s string) (domain.Pair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return domain.Pair{}, errors.Errorf("incorrect 'pair' param in yaml config: %s (expected BASE_QUOTE)", s)
	}
	return domain.Pair{Base: parts[0], Quote: parts[1]}, nil
}

func validate(cfg Config) error {
	if cfg.Platform != "binance" && cfg.Platform != "bybit" {
		return errors.Errorf("unsupported platform %q", cfg.Platform)
	}
	if len(cfg.Pairs) == 0 {
		return errors.New("no trading pairs configured")
	}
	if cfg.Grid.NumGrids < 2 {
		return errors.Errorf("grid.num_grids must be at least 2, got %d", cfg.Grid.NumGrids)
	}
	if cfg.CheckInterval <= 0 {
		return errors.New("check_interval must be positive")
	}
	if !cfg.PaperTrading && (cfg.APIKey == "" || cfg.APISecret == "") {
		return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET must be set for live trading")
	}
	if !cfg.PaperTrading && cfg.Platform != "binance" {
		return errors.Errorf("live trading is only supported on binance, got %q", cfg.Platform)
	}
	return nil
}
