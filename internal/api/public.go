package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/player"
)

const qrSize = 256

func (a *API) adminLogin(c *gin.Context) {
	var req adminLoginRequest
	if !bind(c, &req) {
		return
	}

	token, err := a.auth.AdminLogin(req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (a *API) register(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.player.Register(c.Request.Context(), player.RegisterRequest{
		Username:  req.Username,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, registerResponse{
		Token:            res.Token,
		SessionID:        res.Session.ID,
		Username:         res.Player.Username,
		Score:            res.Player.Score,
		CurrentLevel:     res.Player.CurrentLevel,
		RemainingSeconds: res.Session.RemainingSeconds,
		Status:           string(res.Session.Status),
	})
}

func (a *API) validateToken(c *gin.Context) {
	var req validateTokenRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.player.Validate(c.Request.Context(), req.Token)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, validateTokenResponse{
		Valid:            true,
		Username:         res.Player.Username,
		SessionID:        res.Session.ID,
		Score:            res.Player.Score,
		CurrentLevel:     res.Player.CurrentLevel,
		RemainingSeconds: res.Session.RemainingSeconds,
		SessionStatus:    string(res.Session.Status),
	})
}

func (a *API) gameStatus(c *gin.Context) {
	s, err := a.session.GameStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toGameStatus(s))
}

func (a *API) getQuestions(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("level must be a number")))
		return
	}

	sel, err := a.questions.Select(level, c.Query("path"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toQuestionsResponse(sel))
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.GetLeaderboard(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRows(l.Rows))
}

// joinQR renders the join link as a PNG. Without a configured link, the server's own root is used.
func (a *API) joinQR(c *gin.Context) {
	url := a.joinURL
	if url == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		url = fmt.Sprintf("%s://%s/", scheme, c.Request.Host)
	}

	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		writeError(c, fmt.Errorf("encode qr code: %w", err))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
