package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const simplePricePath = "/simple/price"

// Source retrieves current USD quotes for a batch of symbols.
type Source interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Options parameterise the CoinGecko fetcher.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Symbols maps internal tickers (BTC) to CoinGecko identifiers (bitcoin).
	Symbols map[string]string
}

// CoinGecko fetches spot prices from the CoinGecko simple/price endpoint.
type CoinGecko struct {
	opts       Options
	logger     zerolog.Logger
	client     *http.Client
	baseURL    string
	idToSymbol map[string]string
}

// NewCoinGecko constructs a price source.
func NewCoinGecko(opts Options, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	idToSymbol := make(map[string]string, len(opts.Symbols))
	for symbol, id := range opts.Symbols {
		idToSymbol[id] = strings.ToUpper(symbol)
	}

	return &CoinGecko{
		opts:       opts,
		logger:     logger.With().Str("component", "coingecko").Logger(),
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		idToSymbol: idToSymbol,
	}
}

// Supported returns the tracked tickers in sorted order.
func (c *CoinGecko) Supported() []string {
	symbols := make([]string, 0, len(c.opts.Symbols))
	for symbol := range c.opts.Symbols {
		symbols = append(symbols, strings.ToUpper(symbol))
	}
	sort.Strings(symbols)
	return symbols
}

// FetchPrices requests USD quotes for the given symbols in one call. Symbols
// without a known CoinGecko id are ignored; an empty argument fetches every
// configured symbol.
func (c *CoinGecko) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if id, ok := c.opts.Symbols[strings.ToUpper(symbol)]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for _, id := range c.opts.Symbols {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no symbols configured")
	}
	sort.Strings(ids)

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")

	endpoint := c.baseURL + simplePricePath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var quotes map[string]struct {
		USD decimal.Decimal `json:"usd"`
	}
	if err := json.Unmarshal(payload, &quotes); err != nil {
		return nil, fmt.Errorf("decode coingecko response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(quotes))
	for id, quote := range quotes {
		symbol, ok := c.idToSymbol[id]
		if !ok {
			continue
		}
		prices[symbol] = quote.USD
	}

	c.logger.Debug().Int("symbols", len(prices)).Msg("fetched prices")
	return prices, nil
}

type errorResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Status.ErrorMessage != "" {
		return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ Source = (*CoinGecko)(nil)
