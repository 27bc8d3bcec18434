package domain

import "time"

const (
	EventNameSessionUpdated     = "session_update"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard_update"
)

type EventSessionUpdated struct {
	Session Session
}

func (EventSessionUpdated) Name() string { return EventNameSessionUpdated }

// EventScoreUpdated is published whenever a change may reorder a session's leaderboard.
type EventScoreUpdated struct {
	SessionID  string
	PlayerID   string
	Score      int
	UpdateTime time.Time
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
