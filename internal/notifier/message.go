package notifier

import (
	"strconv"

	"github.com/Herobone/stream-scorer/internal/domain"
)

// ScoreboardMessage is the wire form of a scoreboard snapshot. Player ids are
// object keys, so they travel as strings.
type ScoreboardMessage struct {
	GameID   int64                      `json:"gameId"`
	Sequence int64                      `json:"sequence"`
	Scores   map[string]int64           `json:"scores"`
	History  map[string][]domain.Action `json:"history,omitempty"`
}

func NewScoreboardMessage(sb domain.Scoreboard) ScoreboardMessage {
	m := ScoreboardMessage{
		GameID:   sb.GameID,
		Sequence: sb.Sequence,
		Scores:   make(map[string]int64, len(sb.Scores)),
	}

	for p, total := range sb.Scores {
		m.Scores[strconv.FormatInt(p, 10)] = total
	}

	if sb.History != nil {
		m.History = make(map[string][]domain.Action, len(sb.History))
		for p, h := range sb.History {
			m.History[strconv.FormatInt(p, 10)] = h
		}
	}

	return m
}
