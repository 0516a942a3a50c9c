package exchange

import (
	"context"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
)

// BybitData serves spot tickers from Bybit. Useful as an alternative price
// feed for paper trading when no Binance credentials are around.
type BybitData struct {
	client *bybit.Client
}

func NewBybitData(client *bybit.Client) *BybitData {
	return &BybitData{client: client}
}

func (b *BybitData) GetTicker(_ context.Context, symbol string) (domain.Ticker, error) {
	sym := bybit.SymbolV5(symbol)

	result, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &sym,
	})
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(err, "fetch bybit ticker for %s", symbol)
	}

	if len(result.Result.Spot.List) == 0 {
		return domain.Ticker{}, errors.Errorf("bybit returned no ticker for %s", symbol)
	}

	t := result.Result.Spot.List[0]
	bid, err := decimal.NewFromString(t.Bid1Price)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "parse bid price")
	}
	ask, err := decimal.NewFromString(t.Ask1Price)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "parse ask price")
	}
	last, err := decimal.NewFromString(t.LastPrice)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "parse last price")
	}

	return domain.Ticker{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}
