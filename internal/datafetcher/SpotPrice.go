/*
This file fetches USD spot prices from the CryptoCompare API.

Prices are only used at the reporting and gas-gate edges. Any failure falls back to the
configured price so a price outage never blocks a cycle.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
)

var priceLogger = logger.GetForComponent("price_retriever")

var (
	ErrInvalidPriceData = errors.New("invalid price data received")
	ErrPriceAPI         = errors.New("price API error")
)

const (
	PriceSourceCryptoCompare = "cryptocompare"
	PriceSourceConfig        = "config"

	maxPriceRetries = 3
	priceTimeout    = 10 * time.Second
)

// PriceFetcher reads spot prices from CryptoCompare's /data/price endpoint.
type PriceFetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	backoff time.Duration
}

func NewPriceFetcher(baseURL, apiKey string) *PriceFetcher {
	return &PriceFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: priceTimeout},
		backoff: time.Second,
	}
}

// SpotPrice returns the USD price for symbol, or fallback tagged with the config source when the
// API cannot be reached or returns nonsense.
func (f *PriceFetcher) SpotPrice(ctx context.Context, symbol string, fallback float64) types.PriceData {
	if f == nil || f.baseURL == "" {
		return types.PriceData{Symbol: symbol, PriceUSD: fallback, Source: PriceSourceConfig}
	}
	price, err := f.FetchSpotPrice(ctx, symbol)
	if err != nil {
		priceLogger.Warn().Err(err).Str("symbol", symbol).Float64("fallback", fallback).Msg("SpotPrice: using configured price")
		return types.PriceData{Symbol: symbol, PriceUSD: fallback, Source: PriceSourceConfig}
	}
	return types.PriceData{Symbol: symbol, PriceUSD: price, Source: PriceSourceCryptoCompare}
}

// FetchSpotPrice queries the API up to maxPriceRetries times, sleeping attempt*backoff between
// attempts. Transport failures, bad statuses and unusable payloads are all retried.
func (f *PriceFetcher) FetchSpotPrice(ctx context.Context, symbol string) (float64, error) {
	ccid := config.CCIdFor(strings.TrimSpace(symbol))
	q := url.Values{"fsym": {ccid}, "tsyms": {"USD"}}
	if f.apiKey != "" {
		q.Set("api_key", f.apiKey)
	}
	endpoint := f.baseURL + "/data/price?" + q.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxPriceRetries; attempt++ {
		priceLogger.Debug().
			Str("symbol", ccid).
			Int("attempt", attempt).
			Int("maxRetries", maxPriceRetries).
			Msg("FetchSpotPrice: making API request")

		price, err := f.fetchOnce(ctx, endpoint, ccid)
		if err == nil {
			priceLogger.Debug().Str("symbol", ccid).Float64("priceUSD", price).Int("attempt", attempt).Msg("FetchSpotPrice: price received")
			return price, nil
		}
		lastErr = err
		if attempt == maxPriceRetries {
			break
		}
		priceLogger.Warn().Err(err).Str("symbol", ccid).Int("attempt", attempt).Msg("FetchSpotPrice: request failed, will retry if attempts remain")
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * f.backoff):
		}
	}

	priceLogger.Error().Err(lastErr).Str("symbol", ccid).Int("maxRetries", maxPriceRetries).Msg("FetchSpotPrice: all retry attempts failed")
	return 0, fmt.Errorf("failed to fetch price for %s after %d attempts: %w", ccid, maxPriceRetries, lastErr)
}

func (f *PriceFetcher) fetchOnce(ctx context.Context, endpoint, ccid string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API returned status %d for %s", resp.StatusCode, ccid)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("failed to read response body for %s: %w", ccid, err)
	}
	return parseSpotPrice(body, ccid)
}

// parseSpotPrice decodes {"USD": 1.0} or the API's {"Response":"Error","Message":...} shape.
func parseSpotPrice(body []byte, ccid string) (float64, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, errors.Join(ErrInvalidPriceData, fmt.Errorf("%s: %w", ccid, err))
	}
	if raw, ok := payload["Response"]; ok {
		var status, message string
		_ = json.Unmarshal(raw, &status)
		_ = json.Unmarshal(payload["Message"], &message)
		if status == "Error" {
			return 0, errors.Join(ErrPriceAPI, fmt.Errorf("%s: %s", ccid, message))
		}
	}
	raw, ok := payload["USD"]
	if !ok {
		return 0, errors.Join(ErrInvalidPriceData, fmt.Errorf("%s: no USD quote", ccid))
	}
	var price float64
	if err := json.Unmarshal(raw, &price); err != nil {
		return 0, errors.Join(ErrInvalidPriceData, fmt.Errorf("%s: %w", ccid, err))
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, errors.Join(ErrInvalidPriceData, fmt.Errorf("%s: price %v", ccid, price))
	}
	return price, nil
}
