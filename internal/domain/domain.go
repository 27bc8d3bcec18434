package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionStatusWaiting SessionStatus = "waiting"
	SessionStatusRunning SessionStatus = "running"
	SessionStatusPaused  SessionStatus = "paused"
	SessionStatusEnded   SessionStatus = "ended"
)

// Live reports whether the session has not ended yet.
func (s SessionStatus) Live() bool {
	switch s {
	case SessionStatusWaiting, SessionStatusRunning, SessionStatusPaused:
		return true
	default:
		return false
	}
}

// Session represents a timed game event. RemainingSeconds is the authoritative countdown,
// decremented only by the timer loop.
type Session struct {
	ID                string
	Name              string
	Status            SessionStatus
	DurationMinutes   int
	RemainingSeconds  int
	StartTime         *time.Time
	EndTime           *time.Time
	LeaderboardFrozen bool
	FrozenSnapshot    []byte
	CreatedAt         time.Time
}

func (s *Session) TotalSeconds() int {
	return s.DurationMinutes * 60
}

// End moves the session to ended and stamps the end time.
func (s *Session) End(now time.Time) {
	s.Status = SessionStatusEnded
	s.EndTime = &now
}

// Player is unique by username across all sessions and bound to one session at a time.
type Player struct {
	ID            string
	Username      string
	SessionID     string
	Score         int
	CurrentLevel  int
	JoinTime      time.Time
	LastActive    time.Time
	IPAddress     string
	IsActive      bool
	IsBanned      bool
	AuthToken     string
	CompletedAt   *time.Time
	CodeAttempted bool
	// RemainingAtCompletion is the session countdown at the moment the final challenge was solved.
	RemainingAtCompletion *int
	// ElapsedAtCompletion is the time taken when the final challenge was solved. Later time
	// adjustments of the session do not move it.
	ElapsedAtCompletion *int
}

func (p *Player) Completed() bool {
	return p.CompletedAt != nil
}

// QuestionClear records that a player has already been scored for a question.
type QuestionClear struct {
	PlayerID   string
	QuestionID string
	SessionID  string
	Level      int
	ClearedAt  time.Time
}

type Log struct {
	ID         int64
	SessionID  string
	PlayerID   string
	ActionType string
	Details    string
	Timestamp  time.Time
}

const (
	ActionSessionCreated         = "session_created"
	ActionSessionStarted         = "session_started"
	ActionSessionPaused          = "session_paused"
	ActionSessionResumed         = "session_resumed"
	ActionSessionTimeAdjusted    = "session_time_adjusted"
	ActionSessionEnded           = "session_ended"
	ActionPlayerJoin             = "player_join"
	ActionPlayerRejoin           = "player_rejoin"
	ActionPlayerKick             = "player_kick"
	ActionPlayerBan              = "player_ban"
	ActionPlayerReset            = "player_reset"
	ActionPlayerMoveLevel        = "player_move_level"
	ActionPlayerScoreAdjust      = "player_score_adjust"
	ActionLeaderboardFreeze      = "leaderboard_freeze"
	ActionLevelComplete          = "level_complete"
	ActionFinalChallengeComplete = "final_challenge_complete"
	ActionFinalChallengeFailed   = "final_challenge_failed"
	ActionPlayerEventPrefix      = "player_event:"
)

// LeaderboardRow is one ranked entry. Rows are serialized as-is into frozen snapshots.
type LeaderboardRow struct {
	PlayerID         string `json:"player_id"`
	Username         string `json:"username"`
	Score            int    `json:"score"`
	CurrentLevel     int    `json:"current_level"`
	TimeTakenSeconds int    `json:"time_taken_seconds"`
	IsCompleted      bool   `json:"is_completed"`
}

// Leaderboard represents the ranked standings of a session: highest score first,
// then least time taken, then username.
type Leaderboard struct {
	SessionID string
	Frozen    bool
	Rows      []LeaderboardRow
}

type TopPlayer struct {
	Username         string
	Score            int
	TimeTakenSeconds int
}

type Analytics struct {
	SessionID         string
	SessionName       string
	TotalParticipants int
	TopPlayer         *TopPlayer
	AverageScore      decimal.Decimal
	// CompletionPercent is the share of participants who solved the final challenge.
	CompletionPercent decimal.Decimal
	GeneratedAt       time.Time
}
