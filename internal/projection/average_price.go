package projection

import (
	"math/big"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
)

// AveragePrice computes the mean swap ratio across the position's SWAPPED
// events. The ratio direction follows the from token: A->B when from is the
// pair's token A, B->A otherwise.
//
// Every returned point carries the final average so the chart draws a flat
// reference line.
func AveragePrice(pos domain.Position) domain.AveragePriceSeries {
	useAToB := pos.FromIsTokenA()

	sum := new(big.Int)
	var points []domain.AveragePricePoint
	for _, ev := range domain.SortEvents(pos.History) {
		if ev.Action != domain.ActionSwapped {
			continue
		}
		ratio := ev.RatioBToA
		if useAToB {
			ratio = ev.RatioAToB
		}
		sum.Add(sum, fixedpoint.OrZero(ratio))

		n := big.NewInt(int64(len(points) + 1))
		points = append(points, domain.AveragePricePoint{
			Date:    ev.Timestamp,
			Name:    ev.Timestamp.UTC().Format(labelLayout),
			Average: new(big.Int).Quo(sum, n),
		})
	}

	if len(points) == 0 {
		return domain.AveragePriceSeries{Status: domain.SeriesNoData}
	}

	final := points[len(points)-1].Average
	for i := range points {
		points[i].Average = fixedpoint.Clone(final)
	}
	return domain.AveragePriceSeries{Status: domain.SeriesPopulated, Points: points}
}
