package ledger

import (
	"context"
	"log/slog"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
	"github.com/Herobone/stream-scorer/internal/event"
	"github.com/Herobone/stream-scorer/internal/scoring"
	"github.com/Herobone/stream-scorer/internal/store"
)

// Store is the part of the score store the ledger mutates through.
type Store interface {
	GetOwner(ctx context.Context, gameID int64) (string, error)
	Mutate(ctx context.Context, gameID, playerID int64, fn store.MutateFunc) (int64, error)
}

type Notifier interface {
	Publish(ctx context.Context, gameID int64, e domain.ChangeEvent) (int64, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Notifier Notifier
	Scoring  *scoring.Registry
}

// Service applies and undoes scoring actions. It keeps no state between calls,
// ordering within a game comes from the store's sequence counter.
type Service struct {
	eb       *event.Bus
	store    Store
	notifier Notifier
	scoring  *scoring.Registry
}

func NewService(c Config) *Service {
	if c.Scoring == nil {
		c.Scoring = scoring.NewRegistry()
	}

	return &Service{
		eb:       c.EventBus,
		store:    c.Store,
		notifier: c.Notifier,
		scoring:  c.Scoring,
	}
}

type ApplyRequest struct {
	// CallerID is the authenticated user making the request.
	CallerID string
	GameID   int64
	PlayerID int64
	Action   domain.Action
}

type UndoRequest struct {
	CallerID string
	GameID   int64
	PlayerID int64
}

type Result struct {
	Total    int64
	Sequence int64
	// Applied is false when the rules turned the action into a no-op.
	Applied bool
}

// Apply scores an action for a player. An action the rules reject as a no-op (a bust,
// a missed entry or finish condition) succeeds without touching the store.
//
// Loading, computing and persisting run as one watched group in the store, so concurrent
// flows on the same player always compute from the total they end up replacing.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*Result, error) {
	if err := s.authorize(ctx, req.CallerID, req.GameID); err != nil {
		mutations.WithLabelValues(labelApply, labelRejected).Inc()
		return nil, err
	}

	var (
		res      scoring.Result
		rejected bool
	)
	seq, err := s.store.Mutate(ctx, req.GameID, req.PlayerID, func(st store.PlayerState) (*store.Change, error) {
		strategy, err := s.scoring.Get(st.Settings.Type)
		if err != nil {
			rejected = true
			return nil, err
		}

		res, err = strategy.Calculate(st.Total, req.Action, st.Settings.InitialScore, st.Settings.ScoringOptions)
		if err != nil {
			rejected = true
			return nil, err
		}

		// No-ops never reach the history, undo could not tell them apart from real actions.
		if !res.Applied {
			return nil, nil
		}

		return &store.Change{Action: domain.ChangeActionAdd, Entry: req.Action, Total: res.Total}, nil
	})
	if err != nil {
		mutations.WithLabelValues(labelApply, outcome(rejected, err)).Inc()
		return nil, err
	}

	if !res.Applied {
		mutations.WithLabelValues(labelApply, labelNoop).Inc()
		return &Result{Total: res.Total, Sequence: seq}, nil
	}
	mutations.WithLabelValues(labelApply, labelApplied).Inc()

	s.publish(ctx, req.GameID, domain.ChangeEvent{
		Sequence:   seq,
		PlayerID:   req.PlayerID,
		Action:     domain.ChangeActionAdd,
		Score:      req.Action,
		TotalScore: res.Total,
	})

	return &Result{Total: res.Total, Sequence: seq, Applied: true}, nil
}

// Undo reverses the most recent action of a player. The entry is popped in the same
// group that writes the restored total, so a failed undo leaves the history untouched.
func (s *Service) Undo(ctx context.Context, req UndoRequest) (*Result, error) {
	if err := s.authorize(ctx, req.CallerID, req.GameID); err != nil {
		mutations.WithLabelValues(labelUndo, labelRejected).Inc()
		return nil, err
	}

	var (
		last     domain.Action
		total    int64
		rejected bool
	)
	seq, err := s.store.Mutate(ctx, req.GameID, req.PlayerID, func(st store.PlayerState) (*store.Change, error) {
		strategy, err := s.scoring.Get(st.Settings.Type)
		if err != nil {
			rejected = true
			return nil, err
		}

		if st.Last == nil {
			rejected = true
			return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no actions to undo"))
		}
		last = *st.Last

		total, err = strategy.Undo(st.Total, last)
		if err != nil {
			rejected = true
			return nil, err
		}

		return &store.Change{Action: domain.ChangeActionRemove, Entry: last, Total: total}, nil
	})
	if err != nil {
		mutations.WithLabelValues(labelUndo, outcome(rejected, err)).Inc()
		return nil, err
	}
	mutations.WithLabelValues(labelUndo, labelApplied).Inc()

	s.publish(ctx, req.GameID, domain.ChangeEvent{
		Sequence:   seq,
		PlayerID:   req.PlayerID,
		Action:     domain.ChangeActionRemove,
		Score:      last,
		TotalScore: total,
	})

	return &Result{Total: total, Sequence: seq, Applied: true}, nil
}

func (s *Service) authorize(ctx context.Context, callerID string, gameID int64) error {
	if callerID == "" {
		return errors.New(errors.CodeUnauthenticated, errors.WithMessagef("no user session"))
	}

	owner, err := s.store.GetOwner(ctx, gameID)
	if errors.HasCode(err, errors.CodeNotFound) || (err == nil && owner != callerID) {
		return errors.New(errors.CodePermissionDenied, errors.WithMessagef("not your game"))
	}

	return err
}

// publish broadcasts a completed mutation. The mutation is already durable, so a
// failure here is logged and never returned.
func (s *Service) publish(ctx context.Context, gameID int64, e domain.ChangeEvent) {
	receivers, err := s.notifier.Publish(ctx, gameID, e)
	if err != nil {
		publishFailures.Inc()
		slog.ErrorContext(ctx, "ledger: publish change failed",
			"game", gameID,
			"sequence", e.Sequence,
			"error", err,
		)
	} else {
		slog.DebugContext(ctx, "ledger: change published",
			"game", gameID,
			"sequence", e.Sequence,
			"receivers", receivers,
		)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventScoreChanged{
			GameID: gameID,
			Change: e,
		})
	}
}
