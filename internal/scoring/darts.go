package scoring

import (
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
)

const (
	dartsMaxMultiplier = 3
	dartsMaxScore      = 25
	dartsTries         = 3
)

// InOutType is the condition a dart must meet to enter or finish a leg.
type InOutType string

const (
	InOutSingle InOutType = "single"
	InOutDouble InOutType = "double"
	InOutTriple InOutType = "triple"
	InOutMaster InOutType = "master"
)

func (t InOutType) qualifies(multiplier int64) bool {
	switch t {
	case InOutDouble:
		return multiplier == 2
	case InOutTriple:
		return multiplier == 3
	case InOutMaster:
		return multiplier == 2 || multiplier == 3
	default:
		return true
	}
}

// minFinish is the smallest remainder that can still be checked out.
func (t InOutType) minFinish() int64 {
	switch t {
	case InOutDouble, InOutMaster:
		return 2
	case InOutTriple:
		return 3
	default:
		return 1
	}
}

// DartsOptions are read from the game's scoring options. DoubleIn and DoubleOut are
// the older boolean form of InType/OutType "double".
type DartsOptions struct {
	InType    InOutType `mapstructure:"inType"`
	OutType   InOutType `mapstructure:"outType"`
	DoubleIn  bool      `mapstructure:"doubleIn"`
	DoubleOut bool      `mapstructure:"doubleOut"`
}

func decodeDartsOptions(opts domain.ScoringOptions) (DartsOptions, error) {
	var o DartsOptions
	if err := mapstructure.WeakDecode(map[string]any(opts), &o); err != nil {
		return o, errors.New(errors.CodeDataLoss, errors.WithMessagef("invalid darts scoring options"), errors.WithCause(err))
	}

	if o.InType == "" {
		o.InType = InOutSingle
		if o.DoubleIn {
			o.InType = InOutDouble
		}
	}
	if o.OutType == "" {
		o.OutType = InOutSingle
		if o.DoubleOut {
			o.OutType = InOutDouble
		}
	}

	return o, nil
}

// Darts counts a leg down from the initial score to exactly zero.
type Darts struct{}

func (Darts) Calculate(current int64, a domain.Action, initial int64, opts domain.ScoringOptions) (Result, error) {
	if err := validateDarts(current, a); err != nil {
		return Result{}, err
	}

	o, err := decodeDartsOptions(opts)
	if err != nil {
		return Result{}, err
	}

	if current == initial && !o.InType.qualifies(a.Multiplier) {
		return noop(current), nil
	}

	// Overshooting is a bust.
	if a.Points() > current {
		return noop(current), nil
	}

	rest := current - a.Points()
	if rest == 0 && !o.OutType.qualifies(a.Multiplier) {
		return noop(current), nil
	}
	if rest > 0 && rest < o.OutType.minFinish() {
		return noop(current), nil
	}

	return applied(rest), nil
}

func (Darts) Undo(current int64, a domain.Action) (int64, error) {
	if err := validateDarts(current, a); err != nil {
		return 0, err
	}

	return current + a.Points(), nil
}

func validateDarts(current int64, a domain.Action) error {
	switch {
	case a.Multiplier == 0:
		return invalidAction("no multiplier")
	case a.Multiplier > dartsMaxMultiplier:
		return invalidAction("multiplier too high")
	case a.Multiplier < 0:
		return invalidAction("multiplier too low")
	case a.Score < 0:
		return invalidAction("score too low")
	case a.Score > dartsMaxScore:
		return invalidAction("score too high")
	case current < 0:
		return invalidState(current)
	}

	return nil
}

func (Darts) Metadata() Metadata {
	points := make([]PointValue, 0, 21)
	for _, v := range []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 25} {
		s := strconv.FormatInt(v, 10)
		points = append(points, PointValue{ID: s, Label: s, Value: v})
	}

	return Metadata{
		PointValues: points,
		MultiplierValues: map[int64]MultiplierValue{
			2: {ID: "double", Label: "Double", ShortLabel: "D"},
			3: {ID: "triple", Label: "Triple", ShortLabel: "T"},
		},
		TriesPerRound: dartsTries,
	}
}
