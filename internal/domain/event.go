package domain

const (
	EventNameScoreChanged = "score.changed"
)

type EventScoreChanged struct {
	GameID int64
	Change ChangeEvent
}

func (EventScoreChanged) Name() string { return EventNameScoreChanged }
