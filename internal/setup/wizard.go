// Package setup contains the interactive terminal wizard that writes a
// starter config.gen.yaml.
package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1)
)

type pairYaml struct {
	Pair            string `yaml:"pair"`
	MinOrderSize    string `yaml:"min_order_size"`
	PricePrecision  int32  `yaml:"price_precision"`
	AmountPrecision int32  `yaml:"amount_precision"`
}

type configYaml struct {
	Platform      string     `yaml:"platform"`
	PaperTrading  bool       `yaml:"paper_trading"`
	CheckInterval string     `yaml:"check_interval"`
	Pairs         []pairYaml `yaml:"pairs"`

	Grid struct {
		NumGrids      int    `yaml:"num_grids"`
		UpperPricePct string `yaml:"upper_price_pct"`
		LowerPricePct string `yaml:"lower_price_pct"`
		AllocationPct string `yaml:"allocation_pct"`
	} `yaml:"grid"`

	DCA struct {
		BuyIntervalHours    float64 `yaml:"buy_interval_hours"`
		BuyAmountPct        string  `yaml:"buy_amount_pct"`
		PriceDropTriggerPct string  `yaml:"price_drop_trigger_pct"`
		MaxBuysPerDay       int     `yaml:"max_buys_per_day"`
	} `yaml:"dca"`

	Risk struct {
		MaxRiskPerTradePct string `yaml:"max_risk_per_trade_pct"`
		MaxDrawdownPct     string `yaml:"max_drawdown_pct"`
		StopLossPct        string `yaml:"stop_loss_pct"`
		TakeProfitPct      string `yaml:"take_profit_pct"`
		DailyLossLimitPct  string `yaml:"daily_loss_limit_pct"`
	} `yaml:"risk"`
}

func clearScreen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ROTOR CONFIG WIZARD"))
	if step != "" {
		fmt.Println(stepStyle.Render(step))
	}
}

func validateFraction(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be a fraction between 0 and 1")
	}
	return nil
}

// RunWizard walks through the configuration questions and writes
// config.gen.yaml.
func RunWizard() error {
	var (
		platform    string
		mode        string
		pairsInput  string
		intervalStr string
		confirm     bool
	)

	intervalStr = "60s"
	pairsInput = "BTC_USDT, ETH_USDT, SOL_USDT"

	var cfg configYaml
	cfg.Grid.NumGrids = 10
	upperPct := "0.05"
	lowerPct := "0.05"
	allocationPct := "0.3"
	buyAmountPct := "0.02"
	dropTriggerPct := "0.03"
	cfg.DCA.BuyIntervalHours = 24
	cfg.DCA.MaxBuysPerDay = 3
	maxRiskPct := "0.02"
	maxDrawdownPct := "0.10"
	stopLossPct := "0.03"
	takeProfitPct := "0.05"
	dailyLossPct := "0.05"

	clearScreen("")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's configure your trading loop.\n"))

	clearScreen("STEP 1: PRICE SOURCE")
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select market data platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&platform),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 2: MODE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Trading mode").
				Options(
					huh.NewOption("Paper trading (simulated fills)", "paper"),
					huh.NewOption("Live trading (requires API keys)", "live"),
				).
				Value(&mode),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 3: PAIRS & TIMING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading pairs").
				Description("Comma separated, BASE_QUOTE format (e.g. BTC_USDT, ETH_USDT)").
				Value(&pairsInput).
				Validate(func(s string) error {
					for _, p := range strings.Split(s, ",") {
						if !strings.Contains(strings.TrimSpace(p), "_") {
							return fmt.Errorf("invalid pair %q: must be BASE_QUOTE", strings.TrimSpace(p))
						}
					}
					return nil
				}),
			huh.NewInput().
				Title("Check interval").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&intervalStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 4: GRID STRATEGY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Upper price %").
				Description("Fraction above current price (e.g. 0.05 for 5%)").
				Value(&upperPct).
				Validate(validateFraction),
			huh.NewInput().
				Title("Lower price %").
				Description("Fraction below current price").
				Value(&lowerPct).
				Validate(validateFraction),
			huh.NewInput().
				Title("Allocation %").
				Description("Fraction of quote balance allocated per pair").
				Value(&allocationPct).
				Validate(validateFraction),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 5: DCA STRATEGY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Buy amount %").
				Description("Fraction of free quote balance per buy").
				Value(&buyAmountPct).
				Validate(validateFraction),
			huh.NewInput().
				Title("Price drop trigger %").
				Description("Dip below last buy price that triggers an extra buy").
				Value(&dropTriggerPct).
				Validate(validateFraction),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("STEP 6: RISK LIMITS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Max risk per trade").
				Value(&maxRiskPct).
				Validate(validateFraction),
			huh.NewInput().
				Title("Max drawdown").
				Value(&maxDrawdownPct).
				Validate(validateFraction),
			huh.NewInput().
				Title("Daily loss limit").
				Value(&dailyLossPct).
				Validate(validateFraction),
		),
	).Run()
	if err != nil {
		return err
	}

	clearScreen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Platform: %s\nMode: %s\nPairs: %s\nInterval: %s\nGrid: %d levels, +%s/-%s\nDCA: every %gh, %s per buy\nRisk: %s drawdown limit\n",
		platform, mode, pairsInput, intervalStr,
		cfg.Grid.NumGrids, upperPct, lowerPct,
		cfg.DCA.BuyIntervalHours, buyAmountPct, maxDrawdownPct,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	cfg.Platform = platform
	cfg.PaperTrading = mode == "paper"
	cfg.CheckInterval = intervalStr
	cfg.Grid.UpperPricePct = upperPct
	cfg.Grid.LowerPricePct = lowerPct
	cfg.Grid.AllocationPct = allocationPct
	cfg.DCA.BuyAmountPct = buyAmountPct
	cfg.DCA.PriceDropTriggerPct = dropTriggerPct
	cfg.Risk.MaxRiskPerTradePct = maxRiskPct
	cfg.Risk.MaxDrawdownPct = maxDrawdownPct
	cfg.Risk.StopLossPct = stopLossPct
	cfg.Risk.TakeProfitPct = takeProfitPct
	cfg.Risk.DailyLossLimitPct = dailyLossPct

	for _, p := range strings.Split(pairsInput, ",") {
		cfg.Pairs = append(cfg.Pairs, pairYaml{
			Pair:            strings.TrimSpace(p),
			MinOrderSize:    "0.0001",
			PricePrecision:  2,
			AmountPrecision: 8,
		})
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render("\nSaved " + filename))
	if mode == "live" {
		fmt.Println(lipgloss.NewStyle().Foreground(subtle).
			Render("Set BINANCE_API_KEY and BINANCE_API_SECRET in .env before starting."))
	}
	return nil
}
