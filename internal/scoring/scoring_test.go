package scoring_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
	"github.com/Herobone/stream-scorer/internal/scoring"
)

func TestDarts_Calculate(t *testing.T) {
	type (
		inputs struct {
			current int64
			action  domain.Action
			initial int64
			opts    domain.ScoringOptions
		}
	)

	tests := map[string]struct {
		in          inputs
		wantTotal   int64
		wantApplied bool
	}{
		"single 20 from 50 should leave 30": {
			in:          inputs{current: 50, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501},
			wantTotal:   30,
			wantApplied: true,
		},
		"triple 20 should count 60": {
			in:          inputs{current: 501, action: domain.Action{Score: 20, Multiplier: 3}, initial: 501},
			wantTotal:   441,
			wantApplied: true,
		},
		"a miss should be applied without changing the total": {
			in:          inputs{current: 100, action: domain.Action{Score: 0, Multiplier: 1}, initial: 501},
			wantTotal:   100,
			wantApplied: true,
		},
		"overshoot should bust": {
			in:        inputs{current: 10, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501},
			wantTotal: 10,
		},
		"already finished should not go below zero": {
			in:        inputs{current: 0, action: domain.Action{Score: 1, Multiplier: 1}, initial: 501},
			wantTotal: 0,
		},
		"double in should ignore a single on the initial score": {
			in:        inputs{current: 501, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501, opts: domain.ScoringOptions{"doubleIn": true}},
			wantTotal: 501,
		},
		"double in should accept a double on the initial score": {
			in:          inputs{current: 501, action: domain.Action{Score: 20, Multiplier: 2}, initial: 501, opts: domain.ScoringOptions{"inType": "double"}},
			wantTotal:   461,
			wantApplied: true,
		},
		"double in should not matter once the leg is open": {
			in:          inputs{current: 461, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501, opts: domain.ScoringOptions{"doubleIn": true}},
			wantTotal:   441,
			wantApplied: true,
		},
		"master in should accept a triple": {
			in:          inputs{current: 301, action: domain.Action{Score: 19, Multiplier: 3}, initial: 301, opts: domain.ScoringOptions{"inType": "master"}},
			wantTotal:   244,
			wantApplied: true,
		},
		"double out should ignore a single finish": {
			in:        inputs{current: 20, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501, opts: domain.ScoringOptions{"doubleOut": true}},
			wantTotal: 20,
		},
		"double out should accept a double finish": {
			in:          inputs{current: 40, action: domain.Action{Score: 20, Multiplier: 2}, initial: 501, opts: domain.ScoringOptions{"outType": "double"}},
			wantTotal:   0,
			wantApplied: true,
		},
		"double out should bust when one is left": {
			in:        inputs{current: 21, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501, opts: domain.ScoringOptions{"outType": "double"}},
			wantTotal: 21,
		},
		"single out should allow one to be left": {
			in:          inputs{current: 21, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501},
			wantTotal:   1,
			wantApplied: true,
		},
		"triple out should bust when two are left": {
			in:        inputs{current: 22, action: domain.Action{Score: 20, Multiplier: 1}, initial: 501, opts: domain.ScoringOptions{"outType": "triple"}},
			wantTotal: 22,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := scoring.Darts{}.Calculate(tt.in.current, tt.in.action, tt.in.initial, tt.in.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, got.Total)
			assert.Equal(t, tt.wantApplied, got.Applied)
		})
	}
}

func TestDarts_Validation(t *testing.T) {
	tests := map[string]struct {
		current  int64
		action   domain.Action
		wantCode errors.Code
		wantMsg  string
	}{
		"zero multiplier": {
			current: 50, action: domain.Action{Score: 20, Multiplier: 0},
			wantCode: errors.CodeInvalidArgument, wantMsg: "no multiplier",
		},
		"multiplier above triple": {
			current: 50, action: domain.Action{Score: 20, Multiplier: 4},
			wantCode: errors.CodeInvalidArgument, wantMsg: "multiplier too high",
		},
		"negative multiplier": {
			current: 50, action: domain.Action{Score: 20, Multiplier: -1},
			wantCode: errors.CodeInvalidArgument, wantMsg: "multiplier too low",
		},
		"negative score": {
			current: 50, action: domain.Action{Score: -1, Multiplier: 1},
			wantCode: errors.CodeInvalidArgument, wantMsg: "score too low",
		},
		"score above bull": {
			current: 50, action: domain.Action{Score: 26, Multiplier: 1},
			wantCode: errors.CodeInvalidArgument, wantMsg: "score too high",
		},
		"negative current total": {
			current: -1, action: domain.Action{Score: 20, Multiplier: 1},
			wantCode: errors.CodeDataLoss, wantMsg: "current total too low: -1",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := scoring.Darts{}.Calculate(tt.current, tt.action, 501, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code)
			assert.Equal(t, tt.wantMsg, errors.Convert(err).Message)

			_, err = scoring.Darts{}.Undo(tt.current, tt.action)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code)
		})
	}
}

func TestDarts_InvalidOptions(t *testing.T) {
	_, err := scoring.Darts{}.Calculate(50, domain.Action{Score: 20, Multiplier: 1}, 501, domain.ScoringOptions{
		"doubleIn": map[string]any{"enabled": true},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeDataLoss, errors.Convert(err).Code)
}

func TestStrategy_UndoReversesCalculate(t *testing.T) {
	strategies := map[string]scoring.Strategy{
		"darts":  scoring.Darts{},
		"custom": scoring.Custom{},
	}

	for name, s := range strategies {
		t.Run(name, func(t *testing.T) {
			for _, current := range []int64{0, 1, 2, 40, 60, 170, 501} {
				for score := int64(0); score <= 25; score++ {
					for multiplier := int64(1); multiplier <= 3; multiplier++ {
						a := domain.Action{Score: score, Multiplier: multiplier}

						res, err := s.Calculate(current, a, 501, nil)
						require.NoError(t, err)
						if !res.Applied {
							assert.Equal(t, current, res.Total, "no-op must keep the total: %d %+v", current, a)
							continue
						}

						back, err := s.Undo(res.Total, a)
						require.NoError(t, err)
						assert.Equal(t, current, back, "undo must reverse %d %+v", current, a)
					}
				}
			}
		})
	}
}

func TestCustom(t *testing.T) {
	res, err := scoring.Custom{}.Calculate(5, domain.Action{Score: 40, Multiplier: 2}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, scoring.Result{Total: -75, Applied: true}, res)

	total, err := scoring.Custom{}.Undo(-75, domain.Action{Score: 40, Multiplier: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	_, err = scoring.Custom{}.Calculate(5, domain.Action{Score: 1, Multiplier: 0}, 0, nil)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
}

func TestCustom_Overflow(t *testing.T) {
	tests := map[string]struct {
		current int64
		action  domain.Action
	}{
		"points overflow": {
			action: domain.Action{Score: math.MaxInt64 / 2, Multiplier: 3},
		},
		"negative points overflow": {
			action: domain.Action{Score: math.MinInt64 / 2, Multiplier: 3},
		},
		"points are the smallest int64": {
			action: domain.Action{Score: math.MinInt64, Multiplier: 1},
		},
		"total underflows": {
			current: math.MinInt64 + 5,
			action:  domain.Action{Score: 10, Multiplier: 1},
		},
		"total overflows": {
			current: math.MaxInt64 - 5,
			action:  domain.Action{Score: -10, Multiplier: 1},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := scoring.Custom{}.Calculate(tt.current, tt.action, 0, nil)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
			assert.Equal(t, "score too high", errors.Convert(err).Message)
		})
	}

	_, err := scoring.Custom{}.Undo(math.MaxInt64-5, domain.Action{Score: 10, Multiplier: 1})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))

	// Large but representable values still work.
	res, err := scoring.Custom{}.Calculate(0, domain.Action{Score: math.MaxInt64 / 3, Multiplier: 3}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-(math.MaxInt64/3)*3), res.Total)
}

func TestRegistry_Get(t *testing.T) {
	r := scoring.NewRegistry()

	s, err := r.Get(domain.GameTypeDarts)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Metadata().TriesPerRound)
	assert.Len(t, s.Metadata().PointValues, 21)
	assert.Equal(t, "T", s.Metadata().MultiplierValues[3].ShortLabel)

	_, err = r.Get(domain.GameTypeCustom)
	require.NoError(t, err)

	_, err = r.Get("golf")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}
