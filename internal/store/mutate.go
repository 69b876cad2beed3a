package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
)

// maxTxAttempts bounds optimistic retries. Every failed attempt means another writer
// committed, so it only runs out when more writers than this race on one game.
const maxTxAttempts = 128

// PlayerState is what a mutation is computed from. All of it is read in one round trip.
type PlayerState struct {
	Settings *domain.Settings
	Total    int64
	Sequence int64
	// Last is the most recent history entry, nil when the history is empty.
	Last *domain.Action
}

// Change is the write a mutation resolves to.
type Change struct {
	// Action is add to push Entry onto the history and advance the sequence, or
	// remove to pop the most recent entry and step the sequence back.
	Action domain.ChangeAction
	Entry  domain.Action
	Total  int64
}

// MutateFunc computes the change from the loaded state. Returning a nil change writes nothing.
type MutateFunc func(st PlayerState) (*Change, error)

// Mutate loads the player's state, computes a change with fn and commits it as one group.
// The total and the history are watched while fn runs: if another writer commits first,
// the whole cycle starts over with fresh state, so fn can be called more than once and
// must not have side effects. Errors returned by fn are passed through unchanged.
//
// It returns the sequence after the write, or the current one when nothing was written.
func (s *Store) Mutate(ctx context.Context, gameID, playerID int64, fn MutateFunc) (int64, error) {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		seq, err := s.mutate(ctx, gameID, playerID, fn)
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}

		return seq, err
	}

	return 0, errors.New(errors.CodeUnavailable,
		errors.WithMessagef("store unavailable: mutate: conflicting writers: game=%d player=%d", gameID, playerID),
		errors.WithCause(redis.TxFailedErr))
}

func (s *Store) mutate(ctx context.Context, gameID, playerID int64, fn MutateFunc) (int64, error) {
	var (
		seq   int64
		fnErr error
	)

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		st, err := s.readState(ctx, tx, gameID, playerID)
		if err != nil {
			fnErr = err
			return err
		}

		change, err := fn(*st)
		if err != nil {
			fnErr = err
			return err
		}

		if change == nil {
			seq = st.Sequence
			return nil
		}

		var entry []byte
		switch change.Action {
		case domain.ChangeActionAdd:
			if entry, err = json.Marshal(change.Entry); err != nil {
				fnErr = fmt.Errorf("store: marshal history entry: %w", err)
				return fnErr
			}
		case domain.ChangeActionRemove:
		default:
			fnErr = fmt.Errorf("store: unknown change action %q", change.Action)
			return fnErr
		}

		var cmd *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if change.Action == domain.ChangeActionAdd {
				cmd = s.queueMutation(ctx, p, gameID, playerID, change.Total, entry)
				return nil
			}

			p.LPop(ctx, s.historyKey(gameID, playerID))
			cmd = s.queueUndo(ctx, p, gameID, playerID, change.Total)
			return nil
		})
		if err != nil {
			return err
		}

		seq = cmd.Val()
		return nil
	}, s.playersKey(gameID), s.historyKey(gameID, playerID))

	switch {
	case fnErr != nil:
		return 0, fnErr
	case stderrors.Is(err, redis.TxFailedErr):
		return 0, err
	case err != nil:
		return 0, errors.Unavailable("mutate", err)
	}

	return seq, nil
}

// readState reads settings, total, sequence and the top of the history on tx's connection.
func (s *Store) readState(ctx context.Context, tx *redis.Tx, gameID, playerID int64) (*PlayerState, error) {
	var (
		settings *redis.StringCmd
		score    *redis.StringCmd
		sequence *redis.StringCmd
		last     *redis.StringCmd
	)

	_, err := tx.Pipelined(ctx, func(p redis.Pipeliner) error {
		settings = p.Get(ctx, s.settingsKey(gameID))
		score = p.HGet(ctx, s.playersKey(gameID), playerField(playerID))
		sequence = p.Get(ctx, s.sequenceKey(gameID))
		last = p.LIndex(ctx, s.historyKey(gameID, playerID), 0)
		return nil
	})
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return nil, errors.Unavailable("read state", err)
	}

	if err := settings.Err(); err != nil {
		return nil, s.settingsErr(gameID, err)
	}

	st := &PlayerState{}
	if st.Settings, err = decodeSettings(gameID, settings.Val()); err != nil {
		return nil, err
	}

	if st.Total, err = parseScore(gameID, playerID, score); err != nil {
		return nil, err
	}

	st.Sequence, err = sequence.Int64()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeDataLoss,
			errors.WithMessagef("corrupt sequence: game=%d", gameID),
			errors.WithCause(err))
	}

	raw, err := last.Result()
	if stderrors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return nil, errors.Unavailable("read history", err)
	}

	a, err := decodeEntry(gameID, playerID, raw)
	if err != nil {
		return nil, err
	}
	st.Last = &a

	return st, nil
}
