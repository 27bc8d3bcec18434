package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/session"
)

const defaultDurationMinutes = 30

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if !bind(c, &req) {
		return
	}

	duration := defaultDurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}

	ss, err := a.session.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		Name:            req.Name,
		DurationMinutes: duration,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                ss.ID,
		"name":              ss.Name,
		"status":            ss.Status,
		"duration_minutes":  ss.DurationMinutes,
		"remaining_seconds": ss.RemainingSeconds,
	})
}

func (a *API) startSession(c *gin.Context)  { a.sessionAction(c, a.session.StartSession) }
func (a *API) pauseSession(c *gin.Context)  { a.sessionAction(c, a.session.PauseSession) }
func (a *API) resumeSession(c *gin.Context) { a.sessionAction(c, a.session.ResumeSession) }
func (a *API) endSession(c *gin.Context)    { a.sessionAction(c, a.session.EndSession) }

func (a *API) sessionAction(c *gin.Context, fn func(ctx context.Context) (*domain.Session, error)) {
	if _, err := fn(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	ok(c)
}

func (a *API) addTime(c *gin.Context)      { a.adjustTime(c, a.session.AddTime) }
func (a *API) subtractTime(c *gin.Context) { a.adjustTime(c, a.session.SubtractTime) }

func (a *API) adjustTime(c *gin.Context, fn func(ctx context.Context, minutes int) (*domain.Session, error)) {
	var req timeAdjustRequest
	if !bind(c, &req) {
		return
	}

	ss, err := fn(c.Request.Context(), req.Minutes)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "remaining_seconds": ss.RemainingSeconds})
}

func (a *API) listSessions(c *gin.Context) {
	ss, err := a.session.ListSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessions(ss))
}

func (a *API) deleteSession(c *gin.Context) {
	if err := a.session.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	ok(c)
}

func (a *API) livePlayers(c *gin.Context) {
	ps, err := a.player.LivePlayers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLivePlayers(ps))
}

func (a *API) kickPlayer(c *gin.Context)  { a.playerAction(c, a.player.Kick) }
func (a *API) banPlayer(c *gin.Context)   { a.playerAction(c, a.player.Ban) }
func (a *API) resetPlayer(c *gin.Context) { a.playerAction(c, a.player.ResetProgress) }

func (a *API) playerAction(c *gin.Context, fn func(ctx context.Context, playerID string) (*domain.Player, error)) {
	if _, err := fn(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	ok(c)
}

func (a *API) moveLevel(c *gin.Context) {
	var req moveLevelRequest
	if !bind(c, &req) {
		return
	}

	if _, err := a.player.MoveLevel(c.Request.Context(), c.Param("id"), *req.Level); err != nil {
		writeError(c, err)
		return
	}

	ok(c)
}

func (a *API) adjustScore(c *gin.Context) {
	var req adjustScoreRequest
	if !bind(c, &req) {
		return
	}

	p, err := a.player.AdjustScore(c.Request.Context(), c.Param("id"), *req.Delta)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "new_score": p.Score})
}

func (a *API) freezeLeaderboard(c *gin.Context) {
	var req freezeRequest
	if !bind(c, &req) {
		return
	}

	l, err := a.leaderboard.SetFreeze(c.Request.Context(), *req.Frozen)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "frozen": l.Frozen})
}

func (a *API) analytics(c *gin.Context) {
	res, err := a.leaderboard.Analytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAnalytics(res))
}

// export is buffered so a missing session still gets a JSON error instead of a partial attachment.
func (a *API) export(c *gin.Context) {
	id := c.Param("id")

	var buf bytes.Buffer
	if err := a.leaderboard.Export(c.Request.Context(), id, &buf); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=questarena_session_%s.csv", id))
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}
