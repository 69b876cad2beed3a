package scoring

import (
	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
)

// Strategy computes score transitions for one game type. Implementations are pure,
// they never touch the store.
type Strategy interface {
	// Calculate applies a to current. A legal action that the rules turn into
	// a no-op is reported with Result.Applied set to false.
	Calculate(current int64, a domain.Action, initial int64, opts domain.ScoringOptions) (Result, error)

	// Undo reverses a previously applied action.
	Undo(current int64, a domain.Action) (int64, error)

	// Metadata describes the legal inputs for presentation layers.
	Metadata() Metadata
}

type Result struct {
	Total   int64
	Applied bool
}

func applied(total int64) Result { return Result{Total: total, Applied: true} }

func noop(current int64) Result { return Result{Total: current} }

type PointValue struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value int64  `json:"value"`
}

type MultiplierValue struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	ShortLabel string `json:"shortLabel,omitempty"`
}

type Metadata struct {
	PointValues      []PointValue              `json:"pointValues"`
	MultiplierValues map[int64]MultiplierValue `json:"multiplierValues"`
	TriesPerRound    int                       `json:"triesPerRound"`
}

// Registry maps a game type to its strategy.
type Registry struct {
	strategies map[domain.GameType]Strategy
}

// NewRegistry returns a registry with every built-in variant.
func NewRegistry() *Registry {
	return &Registry{
		strategies: map[domain.GameType]Strategy{
			domain.GameTypeDarts:  Darts{},
			domain.GameTypeCustom: Custom{},
		},
	}
}

// Get returns the strategy for t, or a NotFound error for unregistered types.
func (r *Registry) Get(t domain.GameType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("scoring engine for game type %q not found", t))
	}

	return s, nil
}

func invalidAction(msg string) error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s", msg))
}

func invalidState(current int64) error {
	return errors.New(errors.CodeDataLoss, errors.WithMessagef("current total too low: %d", current))
}
