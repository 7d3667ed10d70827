package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testOptions(baseURL string) Options {
	return Options{
		BaseURL:   baseURL,
		Timeout:   time.Second,
		UserAgent: "test",
		Symbols: map[string]string{
			"BTC": "bitcoin",
			"ETH": "ethereum",
		},
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchPricesSuccess(t *testing.T) {
	var gotIDs string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("ids")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin":  {"usd": 43250.5},
			"ethereum": {"usd": 2280.12},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(testOptions(srv.URL), noopLogger())
	prices, err := c.FetchPrices(context.Background(), []string{"BTC", "ETH"})
	if err != nil {
		t.Fatalf("FetchPrices failed: %v", err)
	}

	if gotIDs != "bitcoin,ethereum" {
		t.Fatalf("unexpected ids param: %q", gotIDs)
	}
	if !prices["BTC"].Equal(decimal.NewFromFloat(43250.5)) {
		t.Fatalf("unexpected BTC price: %s", prices["BTC"])
	}
	if !prices["ETH"].Equal(decimal.NewFromFloat(2280.12)) {
		t.Fatalf("unexpected ETH price: %s", prices["ETH"])
	}
}

func TestFetchPricesUnknownSymbolFallsBackToAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin":  {"usd": 1},
			"ethereum": {"usd": 2},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(testOptions(srv.URL), noopLogger())
	prices, err := c.FetchPrices(context.Background(), []string{"NOPE"})
	if err != nil {
		t.Fatalf("FetchPrices failed: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("expected all configured symbols, got %d", len(prices))
	}
}

func TestFetchPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error_code": 429, "error_message": "rate limited"},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(testOptions(srv.URL), noopLogger())
	if _, err := c.FetchPrices(context.Background(), []string{"BTC"}); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestSupported(t *testing.T) {
	c := NewCoinGecko(testOptions(""), noopLogger())
	symbols := c.Supported()
	if len(symbols) != 2 || symbols[0] != "BTC" || symbols[1] != "ETH" {
		t.Fatalf("unexpected supported symbols: %v", symbols)
	}
}
