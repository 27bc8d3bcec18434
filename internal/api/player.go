package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/questarena/internal/score"
)

func (a *API) heartbeat(c *gin.Context) {
	if err := a.player.Heartbeat(c.Request.Context(), playerID(c)); err != nil {
		writeError(c, err)
		return
	}

	ok(c)
}

func (a *API) activity(c *gin.Context) {
	var req activityRequest
	if !bind(c, &req) {
		return
	}

	if err := a.player.RecordActivity(c.Request.Context(), playerID(c), req.EventType, req.Details); err != nil {
		writeError(c, err)
		return
	}

	ok(c)
}

func (a *API) submitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.score.SubmitAnswer(c.Request.Context(), score.SubmitAnswerRequest{
		PlayerID:   playerID(c),
		Level:      *req.Level,
		QuestionID: req.QuestionID,
		Answer:     req.Answer,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        res.Status,
		"new_score":     res.Score,
		"current_level": res.CurrentLevel,
	})
}

func (a *API) submitCode(c *gin.Context) {
	var req submitCodeRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.score.SubmitCode(c.Request.Context(), playerID(c), req.Code)
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{
		"status":    res.Verdict,
		"new_score": res.Score,
	}
	if res.Reason != "" {
		body[res.Reason] = true
	}

	c.JSON(http.StatusOK, body)
}
