// Package api exposes the game over HTTP: public game state, player actions and the admin
// control surface.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/questarena/internal/auth"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/leaderboard"
	"github.com/victornm/questarena/internal/player"
	"github.com/victornm/questarena/internal/questionbank"
	"github.com/victornm/questarena/internal/realtime"
	"github.com/victornm/questarena/internal/score"
	"github.com/victornm/questarena/internal/session"
)

const (
	ctxKeyPlayer = "player"
)

type Config struct {
	Session     *session.Service
	Player      *player.Service
	Score       *score.Service
	Leaderboard *leaderboard.Service
	Questions   *questionbank.Bank
	Auth        *auth.Authenticator
	Hub         *realtime.Hub
	// JoinURL is encoded in the join QR code.
	JoinURL string
}

type API struct {
	session     *session.Service
	player      *player.Service
	score       *score.Service
	leaderboard *leaderboard.Service
	questions   *questionbank.Bank
	auth        *auth.Authenticator
	hub         *realtime.Hub
	joinURL     string
}

func New(c Config) *API {
	return &API{
		session:     c.Session,
		player:      c.Player,
		score:       c.Score,
		leaderboard: c.Leaderboard,
		questions:   c.Questions,
		auth:        c.Auth,
		hub:         c.Hub,
		joinURL:     c.JoinURL,
	}
}

// Register mounts every route on r.
func (a *API) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ws/live", gin.WrapF(a.hub.ServeWS))

	g := r.Group("/api")
	g.POST("/admin_login", a.adminLogin)
	g.POST("/player/register", a.register)
	g.POST("/validate-token", a.validateToken)
	g.GET("/game_status", a.gameStatus)
	g.GET("/questions/:level", a.getQuestions)
	g.GET("/leaderboard", a.getLeaderboard)
	g.GET("/join-qr", a.joinQR)

	p := g.Group("", a.playerAuth)
	p.POST("/player/heartbeat", a.heartbeat)
	p.POST("/player/activity", a.activity)
	p.POST("/submit_answer", a.submitAnswer)
	p.POST("/submit_code", a.submitCode)

	ad := g.Group("/admin", a.adminAuth)
	ad.POST("/session/create", a.createSession)
	ad.POST("/session/start", a.startSession)
	ad.POST("/session/pause", a.pauseSession)
	ad.POST("/session/resume", a.resumeSession)
	ad.POST("/session/add_time", a.addTime)
	ad.POST("/session/subtract_time", a.subtractTime)
	ad.POST("/session/end", a.endSession)
	ad.GET("/sessions", a.listSessions)
	ad.DELETE("/sessions/:id", a.deleteSession)
	ad.GET("/players/live", a.livePlayers)
	ad.POST("/player/:id/kick", a.kickPlayer)
	ad.POST("/player/:id/ban", a.banPlayer)
	ad.POST("/player/:id/reset", a.resetPlayer)
	ad.POST("/player/:id/move-level", a.moveLevel)
	ad.POST("/player/:id/adjust-score", a.adjustScore)
	ad.POST("/leaderboard/freeze", a.freezeLeaderboard)
	ad.GET("/analytics/:id", a.analytics)
	ad.GET("/export/:id", a.export)
}

// playerAuth resolves the bearer token to the current player.
func (a *API) playerAuth(c *gin.Context) {
	p, err := a.player.Authenticate(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}

	c.Set(ctxKeyPlayer, p.ID)
	c.Next()
}

func (a *API) adminAuth(c *gin.Context) {
	if _, err := a.auth.Parse(auth.BearerToken(c.GetHeader("Authorization")), auth.RoleAdmin); err != nil {
		writeError(c, err)
		c.Abort()
		return
	}

	c.Next()
}

func playerID(c *gin.Context) string {
	return c.GetString(ctxKeyPlayer)
}

// bind decodes the JSON body into req, reporting malformed input as InvalidArgument.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err)))
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	c.JSON(e.HTTPStatusCode(), e)
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
