package scoreboard

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
	"github.com/Herobone/stream-scorer/internal/event"
	"github.com/Herobone/stream-scorer/internal/store"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
	publishTimeout         = 5 * time.Second
	maxConcurrent          = 16
)

type Config struct {
	EventBus        *event.Bus
	Store           *store.Store
	Notifier        Notifier
	Redis           redis.UniversalClient
	Prefix          string
	PublishInterval time.Duration
}

type Notifier interface {
	PublishScoreboard(ctx context.Context, sb domain.Scoreboard) (int64, error)
}

type Service struct {
	store    *store.Store
	notifier Notifier
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration

	pending sync.WaitGroup
}

func NewService(c Config) *Service {
	if c.PublishInterval <= 0 {
		c.PublishInterval = defaultPublishInterval
	}

	s := &Service{
		store:    c.Store,
		notifier: c.Notifier,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameScoreChanged, "scoreboard", func(ctx context.Context, e event.Event) error {
			return s.ScheduleSnapshot(ctx, e.(domain.EventScoreChanged))
		})
	}

	return s
}

type GetScoreboardRequest struct {
	GameID int64
	// WithHistory adds every player's history in the order the actions were applied.
	WithHistory bool
}

// GetScoreboard returns all player totals of a game, which is also how a client
// resynchronises after missing change events.
func (s *Service) GetScoreboard(ctx context.Context, req GetScoreboardRequest) (*domain.Scoreboard, error) {
	scores, err := s.store.GetAllScores(ctx, req.GameID)
	if err != nil {
		return nil, fmt.Errorf("get scores: %w", err)
	}

	if len(scores) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("scoreboard not found: game=%d", req.GameID))
	}

	seq, err := s.store.GetSequence(ctx, req.GameID)
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}

	sb := &domain.Scoreboard{
		GameID:   req.GameID,
		Sequence: seq,
		Scores:   scores,
	}

	if !req.WithHistory {
		return sb, nil
	}

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(maxConcurrent)

	sb.History = make(map[int64][]domain.Action, len(scores))
	for p := range scores {
		p := p
		eg.Go(func() error {
			h, err := s.store.ListHistory(ctx, req.GameID, p)
			if err != nil {
				return fmt.Errorf("list history: player=%d: %w", p, err)
			}

			// Stored newest first.
			slices.Reverse(h)

			mu.Lock()
			sb.History[p] = h
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return sb, nil
}

// ScheduleSnapshot makes sure a full scoreboard is published after a change, at most
// once per interval per game. The first change of a window arms a publish at the end of
// the window, which reads the scoreboard only then, so it carries every change of the
// window. Later changes in the same window ride along. The change events themselves are
// not throttled.
func (s *Service) ScheduleSnapshot(ctx context.Context, e domain.EventScoreChanged) error {
	// SETNX keeps several instances from arming the same window twice. The TTL only
	// frees the window if the instance that armed it dies before publishing.
	ok, err := s.redis.SetNX(ctx, s.snapshotKey(e.GameID), e.Change.Sequence, 2*s.interval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	time.AfterFunc(s.interval, func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := s.flush(ctx, e.GameID); err != nil {
			slog.ErrorContext(ctx, "scoreboard: publish snapshot failed", "game", e.GameID, "error", err)
		}
	})

	return nil
}

// flush closes the window before reading, so a change committed after the read arms
// the next window instead of being lost.
func (s *Service) flush(ctx context.Context, gameID int64) error {
	if err := s.redis.Del(ctx, s.snapshotKey(gameID)).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}

	return s.publishSnapshot(ctx, gameID)
}

// Stop waits for armed snapshots to be published.
func (s *Service) Stop() {
	s.pending.Wait()
}

func (s *Service) publishSnapshot(ctx context.Context, gameID int64) error {
	sb, err := s.GetScoreboard(ctx, GetScoreboardRequest{GameID: gameID})
	if err != nil {
		return fmt.Errorf("get scoreboard failed: game=%d: %w", gameID, err)
	}

	if _, err := s.notifier.PublishScoreboard(ctx, *sb); err != nil {
		return fmt.Errorf("publish scoreboard: game=%d: %w", gameID, err)
	}

	return nil
}

func (s *Service) snapshotKey(gameID int64) string {
	if s.prefix == "" {
		return fmt.Sprintf("game:{%d}:scoreboard:time", gameID)
	}

	return fmt.Sprintf("%s:game:{%d}:scoreboard:time", s.prefix, gameID)
}
