package postgres

import (
	"math/big"
	"testing"
	"testing/fstest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

func TestKeyArgs(t *testing.T) {
	chain, hub, id := keyArgs(domain.PositionKey{
		ChainID:    137,
		Hub:        common.HexToAddress("0xA5AdC5484f9997fBF7D405b9AA62A7d88883C345"),
		PositionID: 18446744073709551615,
	})
	assert.Equal(t, int64(137), chain)
	assert.Equal(t, "0xa5adc5484f9997fbf7d405b9aa62a7d88883c345", hub)
	assert.Equal(t, "18446744073709551615", id)
}

func TestNumericRoundTrip(t *testing.T) {
	assert.Nil(t, numeric(nil))

	big256, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	raw := numeric(big256).(string)
	got, err := parseNumeric(&raw)
	require.NoError(t, err)
	assert.Equal(t, 0, big256.Cmp(got))

	got, err = parseNumeric(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	bad := "12.5"
	_, err = parseNumeric(&bad)
	assert.Error(t, err)
}

func TestOptionalAddr(t *testing.T) {
	assert.Nil(t, optionalAddr(common.Address{}))
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", optionalAddr(common.HexToAddress("0xAA")))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/dcagraph?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "dcagraph"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestDSNEscapesPassword(t *testing.T) {
	assert.Equal(t, "postgres://u:p%40ss%2Fword@db:5432/dcagraph?sslmode=require",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p@ss/word", Database: "dcagraph", SSLMode: "require"}))
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_more.sql":      {Data: []byte("SELECT 1;")},
		"migrations/001_positions.sql": {Data: []byte("SELECT 1;")},
		"migrations/README.md":         {Data: []byte("notes")},
	}

	pending, err := pendingMigrations(fsys, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_positions.sql", "002_more.sql"}, pending)

	pending, err = pendingMigrations(fsys, map[string]bool{"001_positions.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"002_more.sql"}, pending)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	pending, err := pendingMigrations(migrationsFS, nil)
	require.NoError(t, err)
	assert.Contains(t, pending, "001_positions.sql")
}
