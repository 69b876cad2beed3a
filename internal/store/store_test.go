package store_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
	"github.com/Herobone/stream-scorer/internal/store"
)

var dartsSettings = domain.Settings{
	Type:           domain.GameTypeDarts,
	InitialScore:   501,
	ScoringOptions: domain.ScoringOptions{"doubleOut": true},
}

func TestStore_SeedGame(t *testing.T) {
	ctx := context.Background()
	s, _ := makeStore(t)

	require.NoError(t, s.SeedGame(ctx, store.SeedGameRequest{
		GameID:    1,
		Owner:     "owner",
		Settings:  dartsSettings,
		PlayerIDs: []int64{10, 11},
	}))

	settings, err := s.GetSettings(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, &dartsSettings, settings)

	owner, err := s.GetOwner(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "owner", owner)

	scores, err := s.GetAllScores(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{10: 501, 11: 501}, scores)

	seq, err := s.GetSequence(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, seq)

	active, err := s.GetActiveGame(ctx, "owner")
	require.NoError(t, err)
	require.Equal(t, int64(1), active)
}

func TestStore_Missing(t *testing.T) {
	ctx := context.Background()
	s, _ := makeStore(t)

	_, err := s.GetSettings(ctx, 404)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	_, _, err = s.GetBatch(ctx, 404, 1)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	_, err = s.GetOwner(ctx, 404)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	_, err = s.GetActiveGame(ctx, "nobody")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	score, err := s.GetScore(ctx, 404, 1)
	require.NoError(t, err)
	assert.Zero(t, score)

	_, ok, err := s.PopHistory(ctx, 404, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	history, err := s.ListHistory(ctx, 404, 1)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_GetBatch(t *testing.T) {
	ctx := context.Background()
	s, _ := makeStore(t)
	seed(t, s, 1, 10)

	settings, total, err := s.GetBatch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, &dartsSettings, settings)
	assert.Equal(t, int64(501), total)

	// A player without a total yet reads as 0.
	_, total, err = s.GetBatch(ctx, 1, 99)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestStore_MutationAndUndo(t *testing.T) {
	ctx := context.Background()
	s, _ := makeStore(t)
	seed(t, s, 1, 10, 11)

	seq, err := s.ApplyMutation(ctx, 1, 10, 441, domain.Action{Score: 20, Multiplier: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	seq, err = s.ApplyMutation(ctx, 1, 11, 482, domain.Action{Score: 19, Multiplier: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	seq, err = s.ApplyMutation(ctx, 1, 10, 416, domain.Action{Score: 25, Multiplier: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	history, err := s.ListHistory(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.Action{{Score: 25, Multiplier: 1}, {Score: 20, Multiplier: 3}}, history, "history should be newest first")

	a, ok, err := s.PopHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Action{Score: 25, Multiplier: 1}, a)

	seq, err = s.ApplyUndo(ctx, 1, 10, 441)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	total, err := s.GetScore(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(441), total)

	require.NoError(t, s.RestoreHistory(ctx, 1, 10, a))
	history, err = s.ListHistory(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, a, history[0])
}

func TestStore_Prefix(t *testing.T) {
	ctx := context.Background()
	rs := miniredis.RunT(t)
	s := store.New(store.Config{Redis: makeRedis(t, rs), Prefix: "local"})
	seed(t, s, 1, 10)

	_, err := s.ApplyMutation(ctx, 1, 10, 481, domain.Action{Score: 20, Multiplier: 1})
	require.NoError(t, err)

	assert.True(t, rs.Exists("local:game:{1}:settings"))
	assert.True(t, rs.Exists("local:game:{1}:10:hist"))
	assert.Equal(t, "481", rs.HGet("local:game:{1}:players", "10"))
	v, err := rs.Get("local:game:{1}:sequence")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	active, err := rs.Get("local:user:owner:activeGame")
	require.NoError(t, err)
	assert.Equal(t, "1", active)
}

func TestStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	s, rs := makeStore(t)
	seed(t, s, 1, 10)

	rs.HSet("game:{1}:players", "10", "lots")
	_, _, err := s.GetBatch(ctx, 1, 10)
	assert.True(t, errors.HasCode(err, errors.CodeDataLoss))

	require.NoError(t, rs.Set("game:{2}:settings", "{"))
	_, err = s.GetSettings(ctx, 2)
	assert.True(t, errors.HasCode(err, errors.CodeDataLoss))
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, rs := makeStore(t)
	seed(t, s, 1, 10)
	rs.SetError("LOADING server is loading")

	_, _, err := s.GetBatch(ctx, 1, 10)
	assert.True(t, errors.HasCode(err, errors.CodeUnavailable))

	_, err = s.ApplyMutation(ctx, 1, 10, 481, domain.Action{Score: 20, Multiplier: 1})
	assert.True(t, errors.HasCode(err, errors.CodeUnavailable))
}

func TestStore_Mutate(t *testing.T) {
	ctx := context.Background()
	s, _ := makeStore(t)
	seed(t, s, 1, 10)

	var states []store.PlayerState
	mutate := func(c *store.Change) (int64, error) {
		return s.Mutate(ctx, 1, 10, func(st store.PlayerState) (*store.Change, error) {
			states = append(states, st)
			return c, nil
		})
	}

	seq, err := mutate(&store.Change{Action: domain.ChangeActionAdd, Entry: domain.Action{Score: 20, Multiplier: 3}, Total: 441})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	seq, err = mutate(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "nothing written should keep the sequence")

	seq, err = mutate(&store.Change{Action: domain.ChangeActionRemove, Entry: domain.Action{Score: 20, Multiplier: 3}, Total: 501})
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.Len(t, states, 3)
	assert.Equal(t, store.PlayerState{Settings: &dartsSettings, Total: 501}, states[0])
	assert.Equal(t, store.PlayerState{Settings: &dartsSettings, Total: 441, Sequence: 1, Last: &domain.Action{Score: 20, Multiplier: 3}}, states[1])

	total, err := s.GetScore(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(501), total)

	history, err := s.ListHistory(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, history, "remove should pop the entry in the same group")
}

func TestStore_MutateErrors(t *testing.T) {
	ctx := context.Background()
	s, rs := makeStore(t)
	seed(t, s, 1, 10)

	errRefused := stderrors.New("refused")
	_, err := s.Mutate(ctx, 1, 10, func(store.PlayerState) (*store.Change, error) {
		return nil, errRefused
	})
	assert.ErrorIs(t, err, errRefused)

	_, err = s.Mutate(ctx, 404, 10, func(store.PlayerState) (*store.Change, error) {
		t.Fatal("should not compute without settings")
		return nil, nil
	})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	rs.SetError("LOADING server is loading")
	_, err = s.Mutate(ctx, 1, 10, func(store.PlayerState) (*store.Change, error) {
		return nil, nil
	})
	assert.True(t, errors.HasCode(err, errors.CodeUnavailable))
}

func TestStore_MutateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	rs := miniredis.RunT(t)
	rc := makeRedis(t, rs)
	s := store.New(store.Config{Redis: rc})
	seed(t, s, 1, 10)

	var seen []int64
	seq, err := s.Mutate(ctx, 1, 10, func(st store.PlayerState) (*store.Change, error) {
		seen = append(seen, st.Total)
		if len(seen) == 1 {
			// Another writer commits between our read and our write.
			require.NoError(t, rc.HSet(ctx, "game:{1}:players", "10", 400).Err())
		}

		return &store.Change{Action: domain.ChangeActionAdd, Entry: domain.Action{Score: 1, Multiplier: 1}, Total: st.Total - 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, []int64{501, 400}, seen, "the second attempt should read the other writer's total")

	total, err := s.GetScore(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(399), total)

	history, err := s.ListHistory(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "the failed attempt should not leave an entry")
}

func TestStore_MutateConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := makeStore(t)
	seed(t, s, 1, 10, 11)

	const n = 20

	var (
		mu   sync.Mutex
		seqs = map[int64]bool{}
		eg   errgroup.Group
	)
	for i := 0; i < n; i++ {
		player := int64(10 + i%2)
		eg.Go(func() error {
			seq, err := s.Mutate(ctx, 1, player, func(st store.PlayerState) (*store.Change, error) {
				return &store.Change{Action: domain.ChangeActionAdd, Entry: domain.Action{Score: 1, Multiplier: 1}, Total: st.Total - 1}, nil
			})
			if err != nil {
				return err
			}

			mu.Lock()
			seqs[seq] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Len(t, seqs, n, "every write should get its own sequence")

	scores, err := s.GetAllScores(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{10: 501 - n/2, 11: 501 - n/2}, scores)
}

func seed(t *testing.T, s *store.Store, gameID int64, players ...int64) {
	t.Helper()

	require.NoError(t, s.SeedGame(context.Background(), store.SeedGameRequest{
		GameID:    gameID,
		Owner:     "owner",
		Settings:  dartsSettings,
		PlayerIDs: players,
	}))
}

func makeStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	rs := miniredis.RunT(t)
	return store.New(store.Config{Redis: makeRedis(t, rs)}), rs
}

func makeRedis(t *testing.T, rs *miniredis.Miniredis) redis.UniversalClient {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{rs.Addr()},
		MaxRetries: -1,
	})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return rc
}
