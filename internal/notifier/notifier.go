package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Herobone/stream-scorer/internal/domain"
)

const DefaultPrefix = "game:"

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

// Notifier broadcasts change events over Redis pub/sub, one channel per game.
// Delivery is at most once: nothing is replayed to subscribers that attach later.
type Notifier struct {
	redis  redis.UniversalClient
	prefix string
}

func New(c Config) *Notifier {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}

	return &Notifier{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// Publish sends e to the game's channel and returns how many subscribers received it.
func (n *Notifier) Publish(ctx context.Context, gameID int64, e domain.ChangeEvent) (int64, error) {
	return n.publish(ctx, n.Channel(gameID), e)
}

// PublishScoreboard sends a full snapshot to the game's scoreboard channel.
func (n *Notifier) PublishScoreboard(ctx context.Context, sb domain.Scoreboard) (int64, error) {
	return n.publish(ctx, n.ScoreboardChannel(sb.GameID), NewScoreboardMessage(sb))
}

func (n *Notifier) publish(ctx context.Context, channel string, v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("notifier: marshal %s: %w", channel, err)
	}

	receivers, err := n.redis.Publish(ctx, channel, b).Result()
	if err != nil {
		return 0, fmt.Errorf("notifier: publish %s: %w", channel, err)
	}

	return receivers, nil
}

// Subscribe streams the change events of a game published after the call returns.
// The stream ends when ctx is cancelled or the subscription breaks; the returned
// channel is closed then.
func (n *Notifier) Subscribe(ctx context.Context, gameID int64) (<-chan domain.ChangeEvent, error) {
	channel := n.Channel(gameID)

	sub := n.redis.Subscribe(ctx, channel)
	// Wait for the confirmation so nothing published after we return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("notifier: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.ChangeEvent)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var e domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					slog.WarnContext(ctx, "notifier: invalid change event",
						"channel", msg.Channel,
						"error", err,
					)
					continue
				}

				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (n *Notifier) Channel(gameID int64) string {
	return fmt.Sprintf("%s%d", n.prefix, gameID)
}

func (n *Notifier) ScoreboardChannel(gameID int64) string {
	return n.Channel(gameID) + ":scoreboard"
}
