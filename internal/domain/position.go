package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
)

// PositionStatus tracks where a DCA position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusActive     PositionStatus = "active"
	PositionStatusCompleted  PositionStatus = "completed"
	PositionStatusTerminated PositionStatus = "terminated"
)

// Token is an ERC-20 token as seen by a position.
type Token struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol"`
}

// Magnitude returns 10^Decimals.
func (t Token) Magnitude() *big.Int {
	return fixedpoint.Magnitude(t.Decimals)
}

// PositionKey identifies a position across chains and hub deployments.
type PositionKey struct {
	ChainID    int64
	Hub        common.Address
	PositionID uint64
}

// String renders the key as "<chainId>-<hub>-<positionId>".
func (k PositionKey) String() string {
	return fmt.Sprintf("%d-%s-%d", k.ChainID, strings.ToLower(k.Hub.Hex()), k.PositionID)
}

// ParsePositionKey parses the form produced by PositionKey.String.
func ParsePositionKey(s string) (PositionKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return PositionKey{}, fmt.Errorf("%w: %q", ErrInvalidPositionKey, s)
	}
	chainID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || chainID <= 0 {
		return PositionKey{}, fmt.Errorf("%w: bad chain id %q", ErrInvalidPositionKey, parts[0])
	}
	if !common.IsHexAddress(parts[1]) {
		return PositionKey{}, fmt.Errorf("%w: bad hub address %q", ErrInvalidPositionKey, parts[1])
	}
	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return PositionKey{}, fmt.Errorf("%w: bad position id %q", ErrInvalidPositionKey, parts[2])
	}
	return PositionKey{
		ChainID:    chainID,
		Hub:        common.HexToAddress(parts[1]),
		PositionID: id,
	}, nil
}

// Position is a DCA position together with its full action history. The
// history is append-only.
type Position struct {
	Key       PositionKey
	Owner     common.Address
	From      Token
	To        Token
	TokenA    common.Address // pair token A, selects the swap ratio direction
	TokenB    common.Address
	Status    PositionStatus
	History   []PositionEvent
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FromIsTokenA reports whether the position sells the pair's token A.
func (p Position) FromIsTokenA() bool {
	return p.From.Address == p.TokenA
}
