package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dcagraph/internal/config"
	"github.com/alanyoungcy/dcagraph/internal/domain"
)

func TestParseTracked(t *testing.T) {
	keys, err := parseTracked([]string{
		"10-0xa5adc5484f9997fbf7d405b9aa62a7d88883c345-1",
		"137-0xa5adc5484f9997fbf7d405b9aa62a7d88883c345-22",
	})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, int64(137), keys[1].ChainID)
	assert.Equal(t, uint64(22), keys[1].PositionID)

	_, err = parseTracked([]string{"garbage"})
	assert.ErrorIs(t, err, domain.ErrInvalidPositionKey)
}

func TestWaitTreatsCancelAsClean(t *testing.T) {
	var g errgroup.Group
	g.Go(func() error { return context.Canceled })
	assert.NoError(t, wait(&g))

	boom := errors.New("boom")
	var g2 errgroup.Group
	g2.Go(func() error { return boom })
	assert.ErrorIs(t, wait(&g2), boom)
}

func TestRunRejectsUnknownModeBeforeWiring(t *testing.T) {
	a := New(&config.Config{Mode: "trade"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)

	a.Close()
	a.Close()
}

func TestModesCoverConfiguredValues(t *testing.T) {
	for _, m := range []string{"server", "sync", "full"} {
		assert.Contains(t, modes, m)
	}
}

func TestProbeNamesSorted(t *testing.T) {
	deps := &Dependencies{Probes: map[string]func(context.Context) error{
		"s3": nil, "postgres": nil, "redis": nil,
	}}
	assert.Equal(t, []string{"postgres", "redis", "s3"}, probeNames(deps))
}
