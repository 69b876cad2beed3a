package scoring

import (
	"math"

	"github.com/Herobone/stream-scorer/internal/domain"
)

// Custom is the permissive variant: any score, totals may go negative, nothing is a no-op.
// Only results that no longer fit an int64 are refused.
type Custom struct{}

func (Custom) Calculate(current int64, a domain.Action, _ int64, _ domain.ScoringOptions) (Result, error) {
	points, err := customPoints(a)
	if err != nil {
		return Result{}, err
	}

	if points == math.MinInt64 {
		return Result{}, invalidAction("score too high")
	}

	total, ok := add(current, -points)
	if !ok {
		return Result{}, invalidAction("score too high")
	}

	return applied(total), nil
}

func (Custom) Undo(current int64, a domain.Action) (int64, error) {
	points, err := customPoints(a)
	if err != nil {
		return 0, err
	}

	total, ok := add(current, points)
	if !ok {
		return 0, invalidAction("score too high")
	}

	return total, nil
}

func customPoints(a domain.Action) (int64, error) {
	switch {
	case a.Multiplier == 0:
		return 0, invalidAction("no multiplier")
	case a.Multiplier < 0:
		return 0, invalidAction("multiplier too low")
	}

	p := a.Points()
	if p/a.Multiplier != a.Score {
		return 0, invalidAction("score too high")
	}

	return p, nil
}

// add reports false when x+y overflows.
func add(x, y int64) (int64, bool) {
	sum := x + y
	if (y > 0 && sum < x) || (y < 0 && sum > x) {
		return 0, false
	}

	return sum, true
}

func (Custom) Metadata() Metadata {
	return Metadata{
		PointValues:      []PointValue{},
		MultiplierValues: map[int64]MultiplierValue{},
	}
}
