package marketmaker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// RestyPriceFetcher fetches a reference price from an external ticker
// endpoint, grounded on 0xtitan6-polymarket-mm's exchange.Client: a
// resty.Client configured once with timeout and 5xx retry, then reused per
// request. No base URL is set: each request formats the full URL from
// URLTemplate, which receives baseAsset and quoteAsset via fmt.Sprintf
// (e.g. "https://api.example.com/ticker/%s_%s").
type RestyPriceFetcher struct {
	http         *resty.Client
	urlTemplate  string
	priceJSONKey string
}

// tickerResponse covers the common {"price": "..."} / {"last": "..."}
// ticker response shapes; only one of the two fields is expected to be
// present for any given configured endpoint.
type tickerResponse struct {
	Price string `json:"price"`
	Last  string `json:"last"`
}

// NewRestyPriceFetcher builds a fetcher against urlTemplate, a
// fmt.Sprintf-style format string taking (baseAsset, quoteAsset).
func NewRestyPriceFetcher(urlTemplate string, timeout time.Duration) *RestyPriceFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &RestyPriceFetcher{http: client, urlTemplate: urlTemplate}
}

// FetchPrice requests the configured ticker endpoint for (baseAsset,
// quoteAsset) and parses the returned price.
func (f *RestyPriceFetcher) FetchPrice(ctx context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error) {
	url := fmt.Sprintf(f.urlTemplate, baseAsset, quoteAsset)

	var result tickerResponse
	resp, err := f.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch reference price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch reference price: status %d: %s", resp.StatusCode(), resp.String())
	}

	raw := result.Price
	if raw == "" {
		raw = result.Last
	}
	if raw == "" {
		return decimal.Zero, fmt.Errorf("fetch reference price: no price field in response")
	}
	return decimal.NewFromString(raw)
}
