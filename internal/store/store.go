package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

// Store is the durable key space of the live score ledger. Per game it holds:
//
//	game:{id}:settings        settings JSON
//	game:{id}:owner           owner user id
//	game:{id}:players         hash player id -> current total
//	game:{id}:{player}:hist   list of raw actions, newest first
//	game:{id}:sequence        mutation counter
//
// The braces are literal: the game id is the hash tag, so all keys of a game land in one
// cluster slot. Multi-key writes go through MULTI/EXEC so they are applied and observed together.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func New(c Config) *Store {
	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// GetSettings returns the settings of a game or NotFound.
func (s *Store) GetSettings(ctx context.Context, gameID int64) (*domain.Settings, error) {
	raw, err := s.redis.Get(ctx, s.settingsKey(gameID)).Result()
	if err != nil {
		return nil, s.settingsErr(gameID, err)
	}

	return decodeSettings(gameID, raw)
}

// GetOwner returns the id of the user owning the game or NotFound.
func (s *Store) GetOwner(ctx context.Context, gameID int64) (string, error) {
	owner, err := s.redis.Get(ctx, s.ownerKey(gameID)).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", errors.New(errors.CodeNotFound, errors.WithMessagef("game not found: game=%d", gameID))
	}
	if err != nil {
		return "", errors.Unavailable("get owner", err)
	}

	return owner, nil
}

// GetScore returns the player's current total, 0 if it was never set.
func (s *Store) GetScore(ctx context.Context, gameID, playerID int64) (int64, error) {
	cmd := s.redis.HGet(ctx, s.playersKey(gameID), playerField(playerID))
	return parseScore(gameID, playerID, cmd)
}

// GetBatch reads the settings and the player's total in a single round trip.
func (s *Store) GetBatch(ctx context.Context, gameID, playerID int64) (*domain.Settings, int64, error) {
	var (
		settings *redis.StringCmd
		score    *redis.StringCmd
	)

	_, err := s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		settings = p.Get(ctx, s.settingsKey(gameID))
		score = p.HGet(ctx, s.playersKey(gameID), playerField(playerID))
		return nil
	})
	// A missing key surfaces as redis.Nil on the pipeline, the commands are checked below.
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return nil, 0, errors.Unavailable("get batch", err)
	}

	if err := settings.Err(); err != nil {
		return nil, 0, s.settingsErr(gameID, err)
	}

	st, err := decodeSettings(gameID, settings.Val())
	if err != nil {
		return nil, 0, err
	}

	total, err := parseScore(gameID, playerID, score)
	if err != nil {
		return nil, 0, err
	}

	return st, total, nil
}

// ApplyMutation sets the player's total, pushes a onto the history and advances the
// game sequence as one group. It returns the sequence after the increment.
func (s *Store) ApplyMutation(ctx context.Context, gameID, playerID, total int64, a domain.Action) (int64, error) {
	entry, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("store: marshal history entry: %w", err)
	}

	var seq *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		seq = s.queueMutation(ctx, p, gameID, playerID, total, entry)
		return nil
	})
	if err != nil {
		return 0, errors.Unavailable("apply mutation", err)
	}

	return seq.Val(), nil
}

func (s *Store) queueMutation(ctx context.Context, p redis.Pipeliner, gameID, playerID, total int64, entry []byte) *redis.IntCmd {
	p.HSet(ctx, s.playersKey(gameID), playerField(playerID), total)
	p.LPush(ctx, s.historyKey(gameID, playerID), entry)
	return p.Incr(ctx, s.sequenceKey(gameID))
}

// ApplyUndo sets the player's total and steps the game sequence back as one group.
// The history entry must already have been popped.
func (s *Store) ApplyUndo(ctx context.Context, gameID, playerID, total int64) (int64, error) {
	var seq *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		seq = s.queueUndo(ctx, p, gameID, playerID, total)
		return nil
	})
	if err != nil {
		return 0, errors.Unavailable("apply undo", err)
	}

	return seq.Val(), nil
}

func (s *Store) queueUndo(ctx context.Context, p redis.Pipeliner, gameID, playerID, total int64) *redis.IntCmd {
	p.HSet(ctx, s.playersKey(gameID), playerField(playerID), total)
	return p.Decr(ctx, s.sequenceKey(gameID))
}

// PopHistory removes and returns the most recent action. ok is false when the
// history is empty.
func (s *Store) PopHistory(ctx context.Context, gameID, playerID int64) (a domain.Action, ok bool, err error) {
	raw, err := s.redis.LPop(ctx, s.historyKey(gameID, playerID)).Result()
	if stderrors.Is(err, redis.Nil) {
		return a, false, nil
	}
	if err != nil {
		return a, false, errors.Unavailable("pop history", err)
	}

	a, err = decodeEntry(gameID, playerID, raw)
	if err != nil {
		return a, false, err
	}

	return a, true, nil
}

// RestoreHistory puts a popped action back on top of the history.
func (s *Store) RestoreHistory(ctx context.Context, gameID, playerID int64, a domain.Action) error {
	entry, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("store: marshal history entry: %w", err)
	}

	if err := s.redis.LPush(ctx, s.historyKey(gameID, playerID), entry).Err(); err != nil {
		return errors.Unavailable("restore history", err)
	}

	return nil
}

// ListHistory returns the player's actions newest first, as stored.
func (s *Store) ListHistory(ctx context.Context, gameID, playerID int64) ([]domain.Action, error) {
	raw, err := s.redis.LRange(ctx, s.historyKey(gameID, playerID), 0, -1).Result()
	if err != nil {
		return nil, errors.Unavailable("list history", err)
	}

	actions := make([]domain.Action, 0, len(raw))
	for _, r := range raw {
		a, err := decodeEntry(gameID, playerID, r)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	return actions, nil
}

// GetAllScores returns every player's total in the game.
func (s *Store) GetAllScores(ctx context.Context, gameID int64) (map[int64]int64, error) {
	res, err := s.redis.HGetAll(ctx, s.playersKey(gameID)).Result()
	if err != nil {
		return nil, errors.Unavailable("get all scores", err)
	}

	scores := make(map[int64]int64, len(res))
	for field, v := range res {
		playerID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, errors.New(errors.CodeDataLoss,
				errors.WithMessagef("corrupt player id %q: game=%d", field, gameID),
				errors.WithCause(err))
		}

		total, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New(errors.CodeDataLoss,
				errors.WithMessagef("corrupt total: game=%d player=%d", gameID, playerID),
				errors.WithCause(err))
		}

		scores[playerID] = total
	}

	return scores, nil
}

// GetSequence returns the game's current sequence, 0 if it was never set.
func (s *Store) GetSequence(ctx context.Context, gameID int64) (int64, error) {
	seq, err := s.redis.Get(ctx, s.sequenceKey(gameID)).Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Unavailable("get sequence", err)
	}

	return seq, nil
}

// GetActiveGame returns the game the user is currently running.
func (s *Store) GetActiveGame(ctx context.Context, userID string) (int64, error) {
	id, err := s.redis.Get(ctx, s.activeGameKey(userID)).Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, errors.New(errors.CodeNotFound, errors.WithMessagef("user has no active game"))
	}
	if err != nil {
		return 0, errors.Unavailable("get active game", err)
	}

	return id, nil
}

type SeedGameRequest struct {
	GameID    int64
	Owner     string
	Settings  domain.Settings
	PlayerIDs []int64
}

// SeedGame writes the initial state of a new game: settings, owner, every player at the
// initial score and a zero sequence, as one group. The owner's active game points to it afterwards.
func (s *Store) SeedGame(ctx context.Context, req SeedGameRequest) error {
	settings, err := json.Marshal(req.Settings)
	if err != nil {
		return fmt.Errorf("store: marshal settings: %w", err)
	}

	scores := make(map[string]any, len(req.PlayerIDs))
	for _, p := range req.PlayerIDs {
		scores[playerField(p)] = req.Settings.InitialScore
	}

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.settingsKey(req.GameID), settings, 0)
		p.Set(ctx, s.ownerKey(req.GameID), req.Owner, 0)
		if len(scores) > 0 {
			p.HSet(ctx, s.playersKey(req.GameID), scores)
		}
		p.Set(ctx, s.sequenceKey(req.GameID), 0, 0)
		return nil
	})
	if err != nil {
		return errors.Unavailable("seed game", err)
	}

	// The user key hashes to another slot, so it cannot join the game's group.
	if err := s.redis.Set(ctx, s.activeGameKey(req.Owner), req.GameID, 0).Err(); err != nil {
		return errors.Unavailable("set active game", err)
	}

	return nil
}

func (s *Store) settingsErr(gameID int64, err error) error {
	if stderrors.Is(err, redis.Nil) {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("game not found: game=%d", gameID))
	}

	return errors.Unavailable("get settings", err)
}

func decodeSettings(gameID int64, raw string) (*domain.Settings, error) {
	var st domain.Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, errors.New(errors.CodeDataLoss,
			errors.WithMessagef("corrupt settings: game=%d", gameID),
			errors.WithCause(err))
	}

	return &st, nil
}

func decodeEntry(gameID, playerID int64, raw string) (domain.Action, error) {
	var a domain.Action
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return a, errors.New(errors.CodeDataLoss,
			errors.WithMessagef("corrupt history entry: game=%d player=%d", gameID, playerID),
			errors.WithCause(err))
	}

	return a, nil
}

func parseScore(gameID, playerID int64, cmd *redis.StringCmd) (int64, error) {
	total, err := cmd.Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}

	var numErr *strconv.NumError
	if stderrors.As(err, &numErr) {
		return 0, errors.New(errors.CodeDataLoss,
			errors.WithMessagef("corrupt total: game=%d player=%d", gameID, playerID),
			errors.WithCause(err))
	}
	if err != nil {
		return 0, errors.Unavailable("get score", err)
	}

	return total, nil
}

func playerField(playerID int64) string {
	return strconv.FormatInt(playerID, 10)
}

func (s *Store) key(format string, args ...any) string {
	k := fmt.Sprintf(format, args...)
	if s.prefix == "" {
		return k
	}

	return s.prefix + ":" + k
}

func (s *Store) settingsKey(gameID int64) string {
	return s.key("game:{%d}:settings", gameID)
}

func (s *Store) ownerKey(gameID int64) string {
	return s.key("game:{%d}:owner", gameID)
}

func (s *Store) playersKey(gameID int64) string {
	return s.key("game:{%d}:players", gameID)
}

func (s *Store) historyKey(gameID, playerID int64) string {
	return s.key("game:{%d}:%d:hist", gameID, playerID)
}

func (s *Store) sequenceKey(gameID int64) string {
	return s.key("game:{%d}:sequence", gameID)
}

func (s *Store) activeGameKey(userID string) string {
	return s.key("user:%s:activeGame", userID)
}
