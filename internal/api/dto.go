package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/player"
	"github.com/victornm/questarena/internal/questionbank"
	"github.com/victornm/questarena/internal/session"
)

type (
	adminLoginRequest struct {
		Password string `json:"password" binding:"required"`
	}

	registerRequest struct {
		Username string `json:"username" binding:"required"`
	}

	validateTokenRequest struct {
		Token string `json:"token" binding:"required"`
	}

	activityRequest struct {
		EventType string `json:"event_type" binding:"required"`
		Details   string `json:"details"`
	}

	submitAnswerRequest struct {
		Level      *int   `json:"level" binding:"required"`
		QuestionID string `json:"question_id" binding:"required"`
		Answer     string `json:"answer"`
	}

	submitCodeRequest struct {
		Code string `json:"code" binding:"required"`
	}

	createSessionRequest struct {
		Name            string `json:"name"`
		DurationMinutes *int   `json:"duration_minutes"`
	}

	timeAdjustRequest struct {
		Minutes int `json:"minutes" binding:"required"`
	}

	moveLevelRequest struct {
		Level *int `json:"level" binding:"required"`
	}

	adjustScoreRequest struct {
		Delta *int `json:"delta" binding:"required"`
	}

	freezeRequest struct {
		Frozen *bool `json:"frozen" binding:"required"`
	}
)

type gameStatusResponse struct {
	SessionID        *string `json:"session_id"`
	Name             string  `json:"name"`
	Status           string  `json:"status"`
	RemainingSeconds int     `json:"remaining_seconds"`
	DurationMinutes  int     `json:"duration_minutes"`
	PlayerCount      int     `json:"player_count"`
}

func toGameStatus(s *session.Summary) gameStatusResponse {
	if s == nil {
		return gameStatusResponse{Status: string(domain.SessionStatusWaiting)}
	}

	return gameStatusResponse{
		SessionID:        &s.ID,
		Name:             s.Name,
		Status:           string(s.Status),
		RemainingSeconds: s.RemainingSeconds,
		DurationMinutes:  s.DurationMinutes,
		PlayerCount:      s.PlayerCount,
	}
}

type registerResponse struct {
	Token            string `json:"token"`
	SessionID        string `json:"session_id"`
	Username         string `json:"username"`
	Score            int    `json:"score"`
	CurrentLevel     int    `json:"current_level"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Status           string `json:"status"`
}

type validateTokenResponse struct {
	Valid            bool   `json:"valid"`
	Username         string `json:"username"`
	SessionID        string `json:"session_id"`
	Score            int    `json:"score"`
	CurrentLevel     int    `json:"current_level"`
	RemainingSeconds int    `json:"remaining_seconds"`
	SessionStatus    string `json:"session_status"`
}

type questionDTO struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// toQuestions strips the expected answers before questions leave the server.
func toQuestions(qs []questionbank.Question) []questionDTO {
	res := make([]questionDTO, 0, len(qs))
	for _, q := range qs {
		res = append(res, questionDTO{ID: q.ID, Text: q.Text, Options: q.Options})
	}
	return res
}

type questionsResponse struct {
	Title     string        `json:"title"`
	Questions []questionDTO `json:"questions,omitempty"`
	Question  *questionDTO  `json:"question,omitempty"`
	Message   string        `json:"message,omitempty"`
	Paths     []string      `json:"paths,omitempty"`
}

func toQuestionsResponse(s questionbank.Selection) questionsResponse {
	res := questionsResponse{Title: s.Title}
	switch {
	case len(s.Paths) > 0:
		res.Message = "Choose path"
		res.Paths = s.Paths
	case s.Question != nil:
		res.Question = &questionDTO{ID: s.Question.ID, Text: s.Question.Text, Options: s.Question.Options}
	default:
		res.Questions = toQuestions(s.Questions)
	}
	return res
}

type sessionResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	DurationMinutes  int        `json:"duration_minutes"`
	RemainingSeconds int        `json:"remaining_seconds"`
	CreatedAt        time.Time  `json:"created_at"`
	PlayerCount      *int       `json:"player_count,omitempty"`
}

func toSession(ss domain.Session) sessionResponse {
	return sessionResponse{
		ID:               ss.ID,
		Name:             ss.Name,
		Status:           string(ss.Status),
		StartTime:        ss.StartTime,
		EndTime:          ss.EndTime,
		DurationMinutes:  ss.DurationMinutes,
		RemainingSeconds: ss.RemainingSeconds,
		CreatedAt:        ss.CreatedAt,
	}
}

func toSessions(ss []session.Summary) []sessionResponse {
	res := make([]sessionResponse, 0, len(ss))
	for _, s := range ss {
		r := toSession(s.Session)
		r.PlayerCount = &s.PlayerCount
		res = append(res, r)
	}
	return res
}

type livePlayerResponse struct {
	ID                   string `json:"id"`
	Username             string `json:"username"`
	Score                int    `json:"score"`
	CurrentLevel         int    `json:"current_level"`
	TimeTakenSeconds     int    `json:"time_taken_seconds"`
	IsCompleted          bool   `json:"is_completed"`
	LastActiveSecondsAgo int    `json:"last_active_seconds_ago"`
	IPAddress            string `json:"ip_address"`
	IsActive             bool   `json:"is_active"`
	IsBanned             bool   `json:"is_banned"`
	DuplicateIP          bool   `json:"duplicate_ip"`
}

func toLivePlayers(ps []player.LivePlayer) []livePlayerResponse {
	res := make([]livePlayerResponse, 0, len(ps))
	for _, p := range ps {
		res = append(res, livePlayerResponse{
			ID:                   p.ID,
			Username:             p.Username,
			Score:                p.Score,
			CurrentLevel:         p.CurrentLevel,
			TimeTakenSeconds:     p.TimeTakenSeconds,
			IsCompleted:          p.Completed(),
			LastActiveSecondsAgo: p.LastActiveSecondsAgo,
			IPAddress:            p.IPAddress,
			IsActive:             p.IsActive,
			IsBanned:             p.IsBanned,
			DuplicateIP:          p.DuplicateIP,
		})
	}
	return res
}

func toRows(rows []domain.LeaderboardRow) []domain.LeaderboardRow {
	if rows == nil {
		return []domain.LeaderboardRow{}
	}
	return rows
}

type analyticsResponse struct {
	SessionID         string          `json:"session_id"`
	SessionName       string          `json:"session_name"`
	TotalParticipants int             `json:"total_participants"`
	TopPlayer         *topPlayer      `json:"top_player"`
	AverageScore      decimal.Decimal `json:"average_score"`
	CompletionPercent decimal.Decimal `json:"completion_percent"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type topPlayer struct {
	Username         string `json:"username"`
	Score            int    `json:"score"`
	TimeTakenSeconds int    `json:"time_taken_seconds"`
}

func toAnalytics(a *domain.Analytics) analyticsResponse {
	res := analyticsResponse{
		SessionID:         a.SessionID,
		SessionName:       a.SessionName,
		TotalParticipants: a.TotalParticipants,
		AverageScore:      a.AverageScore,
		CompletionPercent: a.CompletionPercent,
		GeneratedAt:       a.GeneratedAt,
	}
	if a.TopPlayer != nil {
		res.TopPlayer = &topPlayer{
			Username:         a.TopPlayer.Username,
			Score:            a.TopPlayer.Score,
			TimeTakenSeconds: a.TopPlayer.TimeTakenSeconds,
		}
	}
	return res
}
