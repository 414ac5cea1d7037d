package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	xerrors "ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

var coingeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
}

// CoinGeckoClient fetches spot prices from the CoinGecko simple price API.
type CoinGeckoClient struct {
	baseURL string
	client  *http.Client
}

func NewCoinGeckoClient(baseURL string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *CoinGeckoClient) FetchRates(ctx context.Context, symbols []string, fiat string) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id, ok := coingeckoIDs[s]
		if !ok {
			return nil, fmt.Errorf("%w: %s", xerrors.ErrUnsupportedSymbol, s)
		}
		ids = append(ids, id)
	}

	vs := strings.ToLower(fiat)
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, strings.Join(ids, ","), vs)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price provider returned status %s", resp.Status)
	}

	// Decode numbers as json.Number so prices never pass through float64.
	var data map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		num, ok := data[coingeckoIDs[s]][vs]
		if !ok {
			return nil, fmt.Errorf("price for %s not available", s)
		}
		d, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, fmt.Errorf("failed to parse price for %s: %w", s, err)
		}
		out[s] = d.RoundBank(2)
	}

	return out, nil
}
