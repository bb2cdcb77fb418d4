package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Fixed-point
// amounts are stored as NUMERIC(78,0) and travel through pgx as decimal
// strings.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Save upserts the position row and replaces its history in one transaction.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chainID, hub, id := keyArgs(p.Key)
	_, err = tx.Exec(ctx, `
		INSERT INTO positions (
			chain_id, hub, position_id, owner,
			from_address, from_decimals, from_symbol,
			to_address, to_decimals, to_symbol,
			token_a, token_b, status, created_at, updated_at, synced_at
		) VALUES (
			$1, $2, $3::numeric, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15, NOW()
		)
		ON CONFLICT (chain_id, hub, position_id) DO UPDATE SET
			owner         = EXCLUDED.owner,
			from_address  = EXCLUDED.from_address,
			from_decimals = EXCLUDED.from_decimals,
			from_symbol   = EXCLUDED.from_symbol,
			to_address    = EXCLUDED.to_address,
			to_decimals   = EXCLUDED.to_decimals,
			to_symbol     = EXCLUDED.to_symbol,
			token_a       = EXCLUDED.token_a,
			token_b       = EXCLUDED.token_b,
			status        = EXCLUDED.status,
			updated_at    = EXCLUDED.updated_at,
			synced_at     = NOW()`,
		chainID, hub, id, addr(p.Owner),
		addr(p.From.Address), int16(p.From.Decimals), p.From.Symbol,
		addr(p.To.Address), int16(p.To.Decimals), p.To.Symbol,
		addr(p.TokenA), addr(p.TokenB), string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Key, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM position_events WHERE chain_id = $1 AND hub = $2 AND position_id = $3::numeric`,
		chainID, hub, id,
	); err != nil {
		return fmt.Errorf("postgres: clear history %s: %w", p.Key, err)
	}

	if len(p.History) > 0 {
		batch := &pgx.Batch{}
		const query = `
			INSERT INTO position_events (
				chain_id, hub, position_id, seq, action, tx_hash, occurred_at,
				rate, old_rate, remaining_swaps, old_remaining_swaps, swapped,
				ratio_a_to_b, ratio_b_to_a, withdrawn, withdrawn_remaining,
				from_addr, to_addr
			) VALUES (
				$1, $2, $3::numeric, $4, $5, $6, $7,
				$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
				$13::numeric, $14::numeric, $15::numeric, $16::numeric,
				$17, $18
			)`
		for i, ev := range p.History {
			batch.Queue(query,
				chainID, hub, id, i, string(ev.Action), ev.TxHash.Hex(), ev.Timestamp,
				numeric(ev.Rate), numeric(ev.OldRate), numeric(ev.RemainingSwaps),
				numeric(ev.OldRemainingSwaps), numeric(ev.Swapped),
				numeric(ev.RatioAToB), numeric(ev.RatioBToA),
				numeric(ev.Withdrawn), numeric(ev.WithdrawnRemaining),
				optionalAddr(ev.FromAddr), optionalAddr(ev.ToAddr),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range p.History {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert event %d of %s: %w", i, p.Key, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close event batch %s: %w", p.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit position %s: %w", p.Key, err)
	}
	return nil
}

// Get loads a position and its history ordered by sequence.
func (s *PositionStore) Get(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	chainID, hub, id := keyArgs(key)

	var (
		p                                      = domain.Position{Key: key}
		owner, fromAddr, toAddr, tokenA, tokenB string
		fromDec, toDec                         int16
		status                                 string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT owner, from_address, from_decimals, from_symbol,
			to_address, to_decimals, to_symbol,
			token_a, token_b, status, created_at, updated_at
		FROM positions
		WHERE chain_id = $1 AND hub = $2 AND position_id = $3::numeric`,
		chainID, hub, id,
	).Scan(&owner, &fromAddr, &fromDec, &p.From.Symbol,
		&toAddr, &toDec, &p.To.Symbol,
		&tokenA, &tokenB, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", key, err)
	}
	p.Owner = common.HexToAddress(owner)
	p.From.Address, p.From.Decimals = common.HexToAddress(fromAddr), uint8(fromDec)
	p.To.Address, p.To.Decimals = common.HexToAddress(toAddr), uint8(toDec)
	p.TokenA, p.TokenB = common.HexToAddress(tokenA), common.HexToAddress(tokenB)
	p.Status = domain.PositionStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT action, tx_hash, occurred_at,
			rate::text, old_rate::text, remaining_swaps::text, old_remaining_swaps::text,
			swapped::text, ratio_a_to_b::text, ratio_b_to_a::text,
			withdrawn::text, withdrawn_remaining::text,
			from_addr, to_addr
		FROM position_events
		WHERE chain_id = $1 AND hub = $2 AND position_id = $3::numeric
		ORDER BY seq`,
		chainID, hub, id,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get history %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev             domain.PositionEvent
			action, txHash string
			nums           [9]*string
			from, to       *string
		)
		if err := rows.Scan(&action, &txHash, &ev.Timestamp,
			&nums[0], &nums[1], &nums[2], &nums[3], &nums[4],
			&nums[5], &nums[6], &nums[7], &nums[8],
			&from, &to,
		); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: scan history %s: %w", key, err)
		}
		ev.Action = domain.ActionKind(action)
		ev.TxHash = common.HexToHash(txHash)
		ev.Timestamp = ev.Timestamp.UTC()
		dsts := []**big.Int{
			&ev.Rate, &ev.OldRate, &ev.RemainingSwaps, &ev.OldRemainingSwaps, &ev.Swapped,
			&ev.RatioAToB, &ev.RatioBToA, &ev.Withdrawn, &ev.WithdrawnRemaining,
		}
		for i, raw := range nums {
			v, err := parseNumeric(raw)
			if err != nil {
				return domain.Position{}, fmt.Errorf("postgres: history %s: %w", key, err)
			}
			*dsts[i] = v
		}
		if from != nil {
			ev.FromAddr = common.HexToAddress(*from)
		}
		if to != nil {
			ev.ToAddr = common.HexToAddress(*to)
		}
		p.History = append(p.History, ev)
	}
	if err := rows.Err(); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: iterate history %s: %w", key, err)
	}
	return p, nil
}

// ListByOwner returns the keys of every stored position owned by owner.
func (s *PositionStore) ListByOwner(ctx context.Context, chainID int64, owner string) ([]domain.PositionKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, hub, position_id::text
		FROM positions
		WHERE chain_id = $1 AND owner = $2
		ORDER BY created_at`,
		chainID, strings.ToLower(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", owner, err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// ListStale returns up to limit non-terminated positions whose last sync is
// older than before, oldest first.
func (s *PositionStore) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.PositionKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, hub, position_id::text
		FROM positions
		WHERE status <> 'terminated' AND synced_at < $1
		ORDER BY synced_at
		LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stale positions: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

func scanKeys(rows pgx.Rows) ([]domain.PositionKey, error) {
	var keys []domain.PositionKey
	for rows.Next() {
		var (
			chainID int64
			hub, id string
		)
		if err := rows.Scan(&chainID, &hub, &id); err != nil {
			return nil, fmt.Errorf("postgres: scan key: %w", err)
		}
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("postgres: position id %q: %w", id, err)
		}
		keys = append(keys, domain.PositionKey{ChainID: chainID, Hub: common.HexToAddress(hub), PositionID: n})
	}
	return keys, rows.Err()
}

func keyArgs(k domain.PositionKey) (int64, string, string) {
	return k.ChainID, addr(k.Hub), strconv.FormatUint(k.PositionID, 10)
}

func addr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func optionalAddr(a common.Address) any {
	if a == (common.Address{}) {
		return nil
	}
	return addr(a)
}

// numeric renders v for a NUMERIC parameter; nil stays NULL.
func numeric(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseNumeric(raw *string) (*big.Int, error) {
	if raw == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*raw, 10)
	if !ok {
		return nil, fmt.Errorf("bad numeric %q", *raw)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
