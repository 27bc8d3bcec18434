// Package store defines the transactional repository the game services run against.
//
// Every mutation happens inside Store.Tx. Drivers serialize writers to the same session row,
// so a service may read, check invariants and write within one transaction without
// losing concurrent updates. Lookups of a missing row return an error carrying
// errors.CodeNotFound.
package store

import (
	"context"
	"time"

	"github.com/victornm/questarena/internal/domain"
)

type Store interface {
	// Tx runs fn in a transaction. The transaction commits when fn returns nil and rolls back otherwise.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	// LiveSession returns the newest session that has not ended.
	LiveSession(ctx context.Context) (*domain.Session, error)
	// RunningSession returns the newest running session.
	RunningSession(ctx context.Context) (*domain.Session, error)
	// LatestSession returns the newest session regardless of status.
	LatestSession(ctx context.Context) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]domain.Session, error)
	InsertSession(ctx context.Context, s *domain.Session) error
	UpdateSession(ctx context.Context, s *domain.Session) error
	// DeleteSession removes the session with its players, clears and logs.
	DeleteSession(ctx context.Context, id string) error

	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	GetPlayerByUsername(ctx context.Context, username string) (*domain.Player, error)
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	// CountPlayers counts the non-banned players of a session.
	CountPlayers(ctx context.Context, sessionID string) (int, error)
	InsertPlayer(ctx context.Context, p *domain.Player) error
	UpdatePlayer(ctx context.Context, p *domain.Player) error
	// MarkInactivePlayers flips is_active off for active players last seen before the threshold
	// and returns how many were changed. Players locked by another transaction are skipped.
	MarkInactivePlayers(ctx context.Context, before time.Time) (int, error)

	HasClear(ctx context.Context, playerID, questionID string) (bool, error)
	InsertClear(ctx context.Context, c domain.QuestionClear) error
	DeleteClears(ctx context.Context, playerID string) error

	InsertLog(ctx context.Context, l domain.Log) error
	// ListPlayerLogs returns the player's logs of the given action in a session, newest first.
	ListPlayerLogs(ctx context.Context, playerID, sessionID, action string) ([]domain.Log, error)
}
