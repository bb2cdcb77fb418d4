package subgraph

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
)

type tokenDTO struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
}

type positionDTO struct {
	ID                 string   `json:"id"`
	User               string   `json:"user"`
	Status             string   `json:"status"`
	CreatedAtTimestamp string   `json:"createdAtTimestamp"`
	From               tokenDTO `json:"from"`
	To                 tokenDTO `json:"to"`
	Pair               struct {
		TokenA struct {
			Address string `json:"address"`
		} `json:"tokenA"`
		TokenB struct {
			Address string `json:"address"`
		} `json:"tokenB"`
	} `json:"pair"`
	History []historyDTO `json:"history"`
}

// historyDTO flattens every action type; fields that do not apply to an
// action come back empty.
type historyDTO struct {
	Action             string `json:"action"`
	CreatedAtTimestamp string `json:"createdAtTimestamp"`
	Transaction        struct {
		ID string `json:"id"`
	} `json:"transaction"`
	Rate               string `json:"rate"`
	OldRate            string `json:"oldRate"`
	RemainingSwaps     string `json:"remainingSwaps"`
	OldRemainingSwaps  string `json:"oldRemainingSwaps"`
	Swapped            string `json:"swapped"`
	RatioAToB          string `json:"ratioAToB"`
	RatioBToA          string `json:"ratioBToA"`
	Withdrawn          string `json:"withdrawn"`
	WithdrawnRemaining string `json:"withdrawnRemaining"`
	From               string `json:"from"`
	To                 string `json:"to"`
}

// entityID is the subgraph id of a position: "<hub>-<positionId>".
func entityID(key domain.PositionKey) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(key.Hub.Hex()), key.PositionID)
}

func parseEntityID(chainID int64, id string) (domain.PositionKey, error) {
	hub, idx, ok := strings.Cut(id, "-")
	if !ok || !common.IsHexAddress(hub) {
		return domain.PositionKey{}, fmt.Errorf("%w: entity id %q", domain.ErrInvalidPositionKey, id)
	}
	n, err := strconv.ParseUint(idx, 10, 64)
	if err != nil {
		return domain.PositionKey{}, fmt.Errorf("%w: entity id %q", domain.ErrInvalidPositionKey, id)
	}
	return domain.PositionKey{ChainID: chainID, Hub: common.HexToAddress(hub), PositionID: n}, nil
}

func (p *positionDTO) toDomain(key domain.PositionKey) (domain.Position, error) {
	from, err := p.From.toDomain()
	if err != nil {
		return domain.Position{}, fmt.Errorf("from token: %w", err)
	}
	to, err := p.To.toDomain()
	if err != nil {
		return domain.Position{}, fmt.Errorf("to token: %w", err)
	}
	created, err := parseTimestamp(p.CreatedAtTimestamp)
	if err != nil {
		return domain.Position{}, err
	}

	pos := domain.Position{
		Key:       key,
		Owner:     common.HexToAddress(p.User),
		From:      from,
		To:        to,
		TokenA:    common.HexToAddress(p.Pair.TokenA.Address),
		TokenB:    common.HexToAddress(p.Pair.TokenB.Address),
		Status:    parseStatus(p.Status),
		CreatedAt: created,
		History:   make([]domain.PositionEvent, 0, len(p.History)),
	}
	for i := range p.History {
		ev, err := p.History[i].toDomain()
		if err != nil {
			return domain.Position{}, fmt.Errorf("history[%d]: %w", i, err)
		}
		pos.History = append(pos.History, ev)
		if ev.Timestamp.After(pos.UpdatedAt) {
			pos.UpdatedAt = ev.Timestamp
		}
	}
	return pos, nil
}

func (t tokenDTO) toDomain() (domain.Token, error) {
	if !common.IsHexAddress(t.Address) {
		return domain.Token{}, fmt.Errorf("bad address %q", t.Address)
	}
	if t.Decimals < 0 || t.Decimals > 255 {
		return domain.Token{}, fmt.Errorf("bad decimals %d", t.Decimals)
	}
	return domain.Token{
		Address:  common.HexToAddress(t.Address),
		Decimals: uint8(t.Decimals),
		Symbol:   t.Symbol,
	}, nil
}

func (h *historyDTO) toDomain() (domain.PositionEvent, error) {
	action := domain.ActionKind(strings.ToUpper(h.Action))
	if !action.Valid() {
		return domain.PositionEvent{}, fmt.Errorf("unknown action %q", h.Action)
	}
	ts, err := parseTimestamp(h.CreatedAtTimestamp)
	if err != nil {
		return domain.PositionEvent{}, err
	}

	ev := domain.PositionEvent{
		Action:    action,
		TxHash:    common.HexToHash(h.Transaction.ID),
		Timestamp: ts,
	}
	fields := []struct {
		dst **big.Int
		raw string
		key string
	}{
		{&ev.Rate, h.Rate, "rate"},
		{&ev.OldRate, h.OldRate, "oldRate"},
		{&ev.RemainingSwaps, h.RemainingSwaps, "remainingSwaps"},
		{&ev.OldRemainingSwaps, h.OldRemainingSwaps, "oldRemainingSwaps"},
		{&ev.Swapped, h.Swapped, "swapped"},
		{&ev.RatioAToB, h.RatioAToB, "ratioAToB"},
		{&ev.RatioBToA, h.RatioBToA, "ratioBToA"},
		{&ev.Withdrawn, h.Withdrawn, "withdrawn"},
		{&ev.WithdrawnRemaining, h.WithdrawnRemaining, "withdrawnRemaining"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := fixedpoint.ParseUint(f.raw)
		if err != nil {
			return domain.PositionEvent{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = v
	}
	if h.From != "" {
		ev.FromAddr = common.HexToAddress(h.From)
	}
	if h.To != "" {
		ev.ToAddr = common.HexToAddress(h.To)
	}
	return ev, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", raw, err)
	}
	return time.Unix(n, 0).UTC(), nil
}

func parseStatus(raw string) domain.PositionStatus {
	switch strings.ToUpper(raw) {
	case "TERMINATED":
		return domain.PositionStatusTerminated
	case "COMPLETED":
		return domain.PositionStatusCompleted
	default:
		return domain.PositionStatusActive
	}
}
