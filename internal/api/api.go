package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Herobone/stream-scorer/internal/domain"
	"github.com/Herobone/stream-scorer/internal/errors"
	"github.com/Herobone/stream-scorer/internal/ledger"
	"github.com/Herobone/stream-scorer/internal/scoreboard"
	"github.com/Herobone/stream-scorer/internal/scoring"
)

type Config struct {
	Router     gin.IRouter
	Ledger     *ledger.Service
	Scoreboard *scoreboard.Service
	Scoring    *scoring.Registry
	Games      ActiveGames
}

type ActiveGames interface {
	GetActiveGame(ctx context.Context, userID string) (int64, error)
}

type API struct {
	ledger     *ledger.Service
	scoreboard *scoreboard.Service
	scoring    *scoring.Registry
	games      ActiveGames
}

func New(c Config) *API {
	a := &API{
		ledger:     c.Ledger,
		scoreboard: c.Scoreboard,
		scoring:    c.Scoring,
		games:      c.Games,
	}

	g := c.Router.Group("/api/game")
	g.POST("/score", RequireCaller(), a.AddScore)
	g.DELETE("/score", RequireCaller(), a.UndoScore)
	g.GET("/score", a.GetScores)
	g.GET("/active", a.GetActiveGame)
	g.GET("/scoring/:type", a.GetScoringMetadata)

	return a
}

type (
	AddScoreRequest struct {
		GameID   int64         `json:"gameId"`
		PlayerID int64         `json:"playerId"`
		Score    domain.Action `json:"score"`
	}

	UndoScoreRequest struct {
		GameID   int64 `json:"gameId"`
		PlayerID int64 `json:"playerId"`
	}

	ScoreResponse struct {
		Success  bool  `json:"success"`
		Score    int64 `json:"score"`
		Sequence int64 `json:"sequence"`
	}

	ScoresResponse struct {
		Success bool                       `json:"success"`
		Scores  map[string]int64           `json:"scores"`
		History map[string][]domain.Action `json:"history,omitempty"`
	}

	ActiveGameResponse struct {
		Success bool  `json:"success"`
		GameID  int64 `json:"gameId"`
	}

	ErrorResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
)

func (a *API) AddScore(c *gin.Context) {
	var req AddScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}

	res, err := a.ledger.Apply(c.Request.Context(), ledger.ApplyRequest{
		CallerID: Caller(c),
		GameID:   req.GameID,
		PlayerID: req.PlayerID,
		Action:   req.Score,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, ScoreResponse{Success: true, Score: res.Total, Sequence: res.Sequence})
}

func (a *API) UndoScore(c *gin.Context) {
	var req UndoScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}

	res, err := a.ledger.Undo(c.Request.Context(), ledger.UndoRequest{
		CallerID: Caller(c),
		GameID:   req.GameID,
		PlayerID: req.PlayerID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, ScoreResponse{Success: true, Score: res.Total, Sequence: res.Sequence})
}

// GetScores answers GET /api/game/score?gameId=1[&withHistory].
func (a *API) GetScores(c *gin.Context) {
	gameID, err := strconv.ParseInt(c.Query("gameId"), 10, 64)
	if err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("game id not provided")))
		return
	}

	_, withHistory := c.GetQuery("withHistory")

	sb, err := a.scoreboard.GetScoreboard(c.Request.Context(), scoreboard.GetScoreboardRequest{
		GameID:      gameID,
		WithHistory: withHistory,
	})
	if err != nil {
		abort(c, err)
		return
	}

	resp := ScoresResponse{
		Success: true,
		Scores:  make(map[string]int64, len(sb.Scores)),
	}
	for p, total := range sb.Scores {
		resp.Scores[strconv.FormatInt(p, 10)] = total
	}

	if withHistory {
		resp.History = make(map[string][]domain.Action, len(sb.History))
		for p, h := range sb.History {
			resp.History[strconv.FormatInt(p, 10)] = h
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) GetActiveGame(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user id not provided")))
		return
	}

	gameID, err := a.games.GetActiveGame(c.Request.Context(), userID)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, ActiveGameResponse{Success: true, GameID: gameID})
}

func (a *API) GetScoringMetadata(c *gin.Context) {
	s, err := a.scoring.Get(domain.GameType(c.Param("type")))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, s.Metadata())
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	_ = c.Error(err)

	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{
		Success: false,
		Message: e.Message,
	})
}
