// Package subgraph is a GraphQL client for the DCA hub subgraphs. Each chain
// has its own deployment; the client picks the endpoint from the position's
// chain id.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

// Config configures a Client.
type Config struct {
	URLs       map[int64]string // GraphQL endpoint per chain id
	APIKey     string
	PageSize   int
	Timeout    time.Duration
	MaxRetries int
}

// Client fetches positions and their action history.
type Client struct {
	urls       map[int64]string
	apiKey     string
	pageSize   int
	maxRetries uint
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new subgraph client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	urls := make(map[int64]string, len(cfg.URLs))
	for k, v := range cfg.URLs {
		urls[k] = v
	}
	return &Client{
		urls:       urls,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		pageSize:   pageSize,
		maxRetries: uint(retries),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "subgraph")),
	}
}

// Chains returns the chain ids the client has an endpoint for.
func (c *Client) Chains() []int64 {
	out := make([]int64, 0, len(c.urls))
	for id := range c.urls {
		out = append(out, id)
	}
	return out
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const positionQuery = `
	query Position($id: ID!, $first: Int!, $skip: Int!) {
		position(id: $id) {
			id
			user
			status
			createdAtTimestamp
			from { address decimals symbol }
			to { address decimals symbol }
			pair { tokenA { address } tokenB { address } }
			history(first: $first, skip: $skip, orderBy: createdAtTimestamp, orderDirection: asc) {
				action
				createdAtTimestamp
				transaction { id }
				rate
				oldRate
				remainingSwaps
				oldRemainingSwaps
				swapped
				ratioAToB
				ratioBToA
				withdrawn
				withdrawnRemaining
				from
				to
			}
		}
	}
`

const ownerPositionsQuery = `
	query OwnerPositions($owner: String!, $first: Int!, $skip: Int!) {
		positions(
			first: $first
			skip: $skip
			orderBy: createdAtTimestamp
			orderDirection: asc
			where: { user: $owner }
		) {
			id
		}
	}
`

// FetchPosition loads a position and pages through its entire history.
// A position the subgraph does not know returns domain.ErrNotFound.
func (c *Client) FetchPosition(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	url, err := c.endpoint(key.ChainID)
	if err != nil {
		return domain.Position{}, err
	}

	var (
		head    *positionDTO
		history []historyDTO
	)
	for skip := 0; ; skip += c.pageSize {
		respData, err := c.doQuery(ctx, url, positionQuery, map[string]any{
			"id":    entityID(key),
			"first": c.pageSize,
			"skip":  skip,
		})
		if err != nil {
			return domain.Position{}, fmt.Errorf("subgraph: fetch position %s: %w", key, err)
		}

		var result struct {
			Position *positionDTO `json:"position"`
		}
		if err := json.Unmarshal(respData, &result); err != nil {
			return domain.Position{}, fmt.Errorf("subgraph: decode position %s: %w", key, err)
		}
		if result.Position == nil {
			if head == nil {
				return domain.Position{}, fmt.Errorf("subgraph: position %s: %w", key, domain.ErrNotFound)
			}
			break
		}
		if head == nil {
			head = result.Position
		}
		history = append(history, result.Position.History...)
		if len(result.Position.History) < c.pageSize {
			break
		}
	}

	head.History = history
	pos, err := head.toDomain(key)
	if err != nil {
		return domain.Position{}, fmt.Errorf("subgraph: position %s: %w", key, err)
	}
	c.logger.Debug("fetched position",
		slog.String("position", key.String()),
		slog.Int("events", len(pos.History)),
	)
	return pos, nil
}

// FetchOwnerPositions lists the keys of every position owned by owner on the
// given chain.
func (c *Client) FetchOwnerPositions(ctx context.Context, chainID int64, owner string) ([]domain.PositionKey, error) {
	url, err := c.endpoint(chainID)
	if err != nil {
		return nil, err
	}

	var keys []domain.PositionKey
	for skip := 0; ; skip += c.pageSize {
		respData, err := c.doQuery(ctx, url, ownerPositionsQuery, map[string]any{
			"owner": strings.ToLower(owner),
			"first": c.pageSize,
			"skip":  skip,
		})
		if err != nil {
			return nil, fmt.Errorf("subgraph: fetch owner positions: %w", err)
		}

		var result struct {
			Positions []struct {
				ID string `json:"id"`
			} `json:"positions"`
		}
		if err := json.Unmarshal(respData, &result); err != nil {
			return nil, fmt.Errorf("subgraph: decode owner positions: %w", err)
		}
		for _, p := range result.Positions {
			key, err := parseEntityID(chainID, p.ID)
			if err != nil {
				c.logger.Warn("skipping malformed position id",
					slog.String("id", p.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			keys = append(keys, key)
		}
		if len(result.Positions) < c.pageSize {
			break
		}
	}
	return keys, nil
}

func (c *Client) endpoint(chainID int64) (string, error) {
	url, ok := c.urls[chainID]
	if !ok || url == "" {
		return "", fmt.Errorf("subgraph: chain %d: %w", chainID, domain.ErrChainNotSupported)
	}
	return url, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query with retries and returns the raw "data"
// field from the response. Client errors and GraphQL errors are not retried.
func (c *Client) doQuery(ctx context.Context, url, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	operation := func() (json.RawMessage, error) {
		return c.post(ctx, url, jsonBody)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying subgraph query",
			slog.String("error", err.Error()),
			slog.Duration("backoff", wait),
		)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(notify),
	)
}

func (c *Client) post(ctx context.Context, url string, jsonBody []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode graphql response: %w", err))
	}
	if len(gqlResp.Errors) > 0 {
		return nil, backoff.Permanent(errors.New("graphql error: " + gqlResp.Errors[0].Message))
	}

	return gqlResp.Data, nil
}
