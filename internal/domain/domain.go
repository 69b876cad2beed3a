package domain

// GameType identifies the rule variant a game is scored with.
type GameType string

const (
	GameTypeCustom GameType = "custom"
	GameTypeDarts  GameType = "darts"
)

// ScoringOptions is the rule specific part of the game settings, kept as decoded JSON.
type ScoringOptions map[string]any

// Settings of a game. Written once when the game is created, read-only afterwards.
type Settings struct {
	Type           GameType       `json:"type"`
	InitialScore   int64          `json:"initialScore"`
	ScoringOptions ScoringOptions `json:"scoringOptions"`
}

// Action is a raw scoring action as submitted by the caller. It is also what the
// history stack stores, so undo can reverse it.
type Action struct {
	Score      int64 `json:"score"`
	Multiplier int64 `json:"multiplier"`
}

// Points is the value the action is worth.
func (a Action) Points() int64 {
	return a.Score * a.Multiplier
}

type ChangeAction string

const (
	ChangeActionAdd    ChangeAction = "add"
	ChangeActionRemove ChangeAction = "remove"
)

// ChangeEvent describes one completed mutation. It only exists in transit to subscribers.
type ChangeEvent struct {
	Sequence   int64        `json:"sequence"`
	PlayerID   int64        `json:"playerId"`
	Action     ChangeAction `json:"action"`
	Score      Action       `json:"score"`
	TotalScore int64        `json:"totalScore"`
}

// Scoreboard is the current state of a game: every player's total and, when requested,
// each player's history in the order the actions were applied.
type Scoreboard struct {
	GameID   int64
	Sequence int64
	Scores   map[int64]int64
	History  map[int64][]Action
}
