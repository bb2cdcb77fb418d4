// Package prices fetches historical USD token prices from a DefiLlama-style
// coins API.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
)

// chainNames maps EVM chain ids to the API's chain prefixes.
var chainNames = map[int64]string{
	1:     "ethereum",
	10:    "optimism",
	56:    "bsc",
	100:   "xdai",
	137:   "polygon",
	250:   "fantom",
	1101:  "polygon_zkevm",
	8453:  "base",
	42161: "arbitrum",
	43114: "avax",
	59144: "linea",
}

// Client queries historical prices.
type Client struct {
	baseURL    string
	maxRetries uint
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a price client. maxRetries below one means a single
// attempt.
func NewClient(baseURL string, timeout time.Duration, maxRetries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: uint(maxRetries),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "prices")),
	}
}

type coinPrice struct {
	Price     decimal.Decimal `json:"price"`
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
}

// HistoricPrices returns the USD price of each token at ts as an 18-decimal
// fixed-point integer. Tokens the API has no price for are absent from the
// result.
func (c *Client) HistoricPrices(ctx context.Context, chainID int64, tokens []common.Address, ts time.Time) (map[common.Address]*big.Int, error) {
	chain, ok := chainNames[chainID]
	if !ok {
		return nil, fmt.Errorf("prices: chain %d: %w", chainID, domain.ErrChainNotSupported)
	}
	out := make(map[common.Address]*big.Int, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(tokens))
	byID := make(map[string]common.Address, len(tokens))
	for _, t := range tokens {
		id := chain + ":" + strings.ToLower(t.Hex())
		if _, dup := byID[id]; dup {
			continue
		}
		ids = append(ids, id)
		byID[id] = t
	}

	url := fmt.Sprintf("%s/prices/historical/%d/%s", c.baseURL, ts.Unix(), strings.Join(ids, ","))
	coins, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("prices: historical %d: %w", ts.Unix(), err)
	}

	for id, cp := range coins {
		token, ok := byID[strings.ToLower(id)]
		if !ok {
			continue
		}
		if cp.Price.IsNegative() {
			c.logger.Warn("ignoring negative price", slog.String("coin", id))
			continue
		}
		v, err := fixedpoint.FromDecimal(cp.Price, fixedpoint.USDDecimals)
		if err != nil {
			continue
		}
		out[token] = v
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, url string) (map[string]coinPrice, error) {
	operation := func() (map[string]coinPrice, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrRateLimited)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		var result struct {
			Coins map[string]coinPrice `json:"coins"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return result.Coins, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("retrying price lookup",
				slog.String("error", err.Error()),
				slog.Duration("backoff", wait),
			)
		}),
	)
}
