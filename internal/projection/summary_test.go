package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

func TestSummarizeActivePosition(t *testing.T) {
	pos := testPosition(
		created(t0, 100, 10),
		swapped(t0.Add(time.Hour), 100, 210, 9),
		modified(t0.Add(2*time.Hour), 100, 9, 150, 9),
		swapped(t0.Add(3*time.Hour), 150, 300, 8),
		modified(t0.Add(4*time.Hour), 150, 8, 100, 8),
		domain.PositionEvent{Action: domain.ActionWithdrawn, Timestamp: t0.Add(5 * time.Hour), Withdrawn: bi(510)},
	)

	s := Summarize(pos)
	assert.Equal(t, int64(1450), s.TotalDeposited.Int64())
	assert.Equal(t, int64(400), s.TotalDecreased.Int64())
	assert.Equal(t, int64(510), s.TotalSwapped.Int64())
	assert.Equal(t, int64(510), s.TotalWithdrawn.Int64())
	assert.Equal(t, 2, s.ExecutedSwaps)
	assert.Equal(t, int64(800), s.RemainingLiquidity.Int64())
	assert.False(t, s.Terminated)
}

func TestSummarizeTerminatedPosition(t *testing.T) {
	pos := testPosition(
		created(t0, 100, 10),
		swapped(t0.Add(time.Hour), 100, 200, 9),
		domain.PositionEvent{
			Action: domain.ActionTerminated, Timestamp: t0.Add(2 * time.Hour),
			Withdrawn: bi(200), WithdrawnRemaining: bi(900),
		},
	)

	s := Summarize(pos)
	assert.True(t, s.Terminated)
	assert.Equal(t, int64(900), s.WithdrawnRemaining.Int64())
	assert.Equal(t, 0, s.RemainingLiquidity.Sign())
	assert.Equal(t, 0, s.RemainingSwaps.Sign())
}
