package data_source

import (
	"context"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"upbit-observer/src/helpers"
	"upbit-observer/src/interfaces"
	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// MarketCatalog bootstraps the symbol universe from the exchange REST API.
// All calls go through the request gateway so catalog fetches share the same
// throttling budget as everything else.
// -----------------------------------------------------------------------------

const marketAllPath = "/v1/market/all"

type MarketCatalog struct {
	Gateway interfaces.IRequestGateway
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewMarketCatalog(gw interfaces.IRequestGateway, log *logger.Logger) *MarketCatalog {
	return &MarketCatalog{
		Gateway: gw,
		Logger:  log,
	}
}

// -----------------------------------------------------------------------------

// FetchMarkets returns every listed trading pair.
func (c *MarketCatalog) FetchMarkets(ctx context.Context) ([]models.MMarket, error) {
	body, err := c.Gateway.Get(ctx, marketAllPath, map[string]string{"isDetails": "false"})
	if err != nil {
		return nil, err
	}

	var markets []models.MMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, helpers.NewDecodeError("malformed market catalog response", err)
	}

	c.Logger.Info("Fetched %d listed markets", len(markets))
	return markets, nil
}

// -----------------------------------------------------------------------------

// FetchSymbols returns the sorted symbols quoted in the given currency
// (e.g. "KRW"), capped at limit when limit is positive.
func (c *MarketCatalog) FetchSymbols(ctx context.Context, quote string, limit int) ([]string, error) {
	markets, err := c.FetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	prefix := quote + "-"
	var symbols []string
	for _, market := range markets {
		if strings.HasPrefix(market.Symbol, prefix) {
			symbols = append(symbols, market.Symbol)
		}
	}

	sort.Strings(symbols)
	if limit > 0 && len(symbols) > limit {
		symbols = symbols[:limit]
	}
	return symbols, nil
}
