package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/investipet/engine/internal/clock"
)

// DefaultChartURL is the public chart endpoint queried by HTTPFeed.
const DefaultChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// HTTPFeed reads the last traded price from a Yahoo-style chart API.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFeed creates a feed against baseURL. An empty baseURL uses
// DefaultChartURL.
func NewHTTPFeed(baseURL string, client *http.Client) *HTTPFeed {
	if baseURL == "" {
		baseURL = DefaultChartURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFeed{baseURL: baseURL, client: client}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice json.Number `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (f *HTTPFeed) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := f.baseURL + url.PathEscape(symbol) + "?interval=1m&range=1d"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "investipet-engine/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch %s: status %d", symbol, resp.StatusCode)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", symbol, err)
	}
	if body.Chart.Error != nil {
		return decimal.Zero, fmt.Errorf("fetch %s: %s", symbol, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 || body.Chart.Result[0].Meta.RegularMarketPrice == "" {
		return decimal.Zero, fmt.Errorf("fetch %s: no price in response", symbol)
	}
	return decimal.NewFromString(body.Chart.Result[0].Meta.RegularMarketPrice.String())
}

// PriceTick is the record an ingestion process publishes for each symbol.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrStaleTick is returned by RedisFeed when the last tick is too old.
var ErrStaleTick = errors.New("stale price tick")

// RedisFeed reads the last tick published under last_price:{symbol}.
type RedisFeed struct {
	rdb    *redis.Client
	maxAge time.Duration
	clock  clock.Clock
}

// NewRedisFeed creates a feed over rdb. Ticks older than maxAge are
// rejected; maxAge <= 0 disables the check.
func NewRedisFeed(rdb *redis.Client, maxAge time.Duration, clk clock.Clock) *RedisFeed {
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisFeed{rdb: rdb, maxAge: maxAge, clock: clk}
}

func (f *RedisFeed) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	val, err := f.rdb.Get(ctx, lastPriceKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, fmt.Errorf("no tick for %s", symbol)
		}
		return decimal.Zero, fmt.Errorf("redis get last price: %w", err)
	}
	var tick PriceTick
	if err := json.Unmarshal([]byte(val), &tick); err != nil {
		return decimal.Zero, err
	}
	if f.maxAge > 0 && f.clock.Now().Sub(tick.Timestamp) > f.maxAge {
		return decimal.Zero, fmt.Errorf("%w: %s at %s", ErrStaleTick, symbol, tick.Timestamp.Format(time.RFC3339))
	}
	return tick.Price, nil
}

// Publish stores tick as the latest price for its symbol.
func (f *RedisFeed) Publish(ctx context.Context, tick PriceTick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return err
	}
	return f.rdb.Set(ctx, lastPriceKey(tick.Symbol), data, 0).Err()
}

func lastPriceKey(symbol string) string { return "last_price:" + symbol }
