// Package postgres is the pgx-backed store driver.
package postgres

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/store"
)

//go:embed schema.sql
var schema string

const (
	codeUniqueViolation      = "23505"
	codeInvalidTextRepresent = "22P02"
)

type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	t, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, t.Rollback(ctx))
		}
	}()

	if err = fn(ctx, &tx{tx: t}); err != nil {
		return err
	}

	return t.Commit(ctx)
}

type tx struct {
	tx pgx.Tx
}

const sessionColumns = `id::text, name, status, duration_minutes, remaining_seconds, start_time, end_time,
	leaderboard_frozen, frozen_snapshot, created_at`

func scanSession(r pgx.Row) (*domain.Session, error) {
	var (
		ss     domain.Session
		status string
	)
	err := r.Scan(&ss.ID, &ss.Name, &status, &ss.DurationMinutes, &ss.RemainingSeconds, &ss.StartTime, &ss.EndTime,
		&ss.LeaderboardFrozen, &ss.FrozenSnapshot, &ss.CreatedAt)
	if err != nil {
		return nil, err
	}
	ss.Status = domain.SessionStatus(status)
	return &ss, nil
}

func (t *tx) querySession(ctx context.Context, notFound string, stmt string, args ...any) (*domain.Session, error) {
	ss, err := scanSession(t.tx.QueryRow(ctx, stmt, args...))
	if stderrors.Is(err, pgx.ErrNoRows) || hasCode(err, codeInvalidTextRepresent) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("%s", notFound))
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return ss, nil
}

func (t *tx) LiveSession(ctx context.Context) (*domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions
WHERE status IN ('waiting', 'running', 'paused')
ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE;`
	return t.querySession(ctx, "no live session", stmt)
}

func (t *tx) RunningSession(ctx context.Context) (*domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions
WHERE status = 'running'
ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE;`
	return t.querySession(ctx, "no running session", stmt)
}

func (t *tx) LatestSession(ctx context.Context) (*domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, id DESC LIMIT 1;`
	return t.querySession(ctx, "no session", stmt)
}

func (t *tx) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	if uuid.Validate(id) != nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", id))
	}

	const stmt = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE;`
	return t.querySession(ctx, fmt.Sprintf("session not found: id=%s", id), stmt, id)
}

func (t *tx) ListSessions(ctx context.Context) ([]domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, id DESC;`

	rows, err := t.tx.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Session, error) {
		ss, err := scanSession(r)
		if err != nil {
			return domain.Session{}, err
		}
		return *ss, nil
	})
}

func (t *tx) InsertSession(ctx context.Context, s *domain.Session) error {
	const stmt = `
INSERT INTO sessions (id, name, status, duration_minutes, remaining_seconds, start_time, end_time,
	leaderboard_frozen, frozen_snapshot, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	_, err := t.tx.Exec(ctx, stmt, s.ID, s.Name, string(s.Status), s.DurationMinutes, s.RemainingSeconds, s.StartTime,
		s.EndTime, s.LeaderboardFrozen, s.FrozenSnapshot, s.CreatedAt)
	return mapErr(err, "insert session")
}

func (t *tx) UpdateSession(ctx context.Context, s *domain.Session) error {
	const stmt = `
UPDATE sessions SET name = $2, status = $3, duration_minutes = $4, remaining_seconds = $5, start_time = $6,
	end_time = $7, leaderboard_frozen = $8, frozen_snapshot = $9
WHERE id = $1;`

	tag, err := t.tx.Exec(ctx, stmt, s.ID, s.Name, string(s.Status), s.DurationMinutes, s.RemainingSeconds, s.StartTime,
		s.EndTime, s.LeaderboardFrozen, s.FrozenSnapshot)
	if err != nil {
		return mapErr(err, "update session")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", s.ID))
	}
	return nil
}

func (t *tx) DeleteSession(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", id))
	}

	tag, err := t.tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1;`, id)
	if hasCode(err, codeInvalidTextRepresent) {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", id))
	}
	return nil
}

const playerColumns = `id::text, username, session_id::text, score, current_level, join_time, last_active, ip_address,
	is_active, is_banned, auth_token, completed_at, code_attempted, remaining_at_completion, elapsed_at_completion`

func scanPlayer(r pgx.Row) (*domain.Player, error) {
	var p domain.Player
	err := r.Scan(&p.ID, &p.Username, &p.SessionID, &p.Score, &p.CurrentLevel, &p.JoinTime, &p.LastActive, &p.IPAddress,
		&p.IsActive, &p.IsBanned, &p.AuthToken, &p.CompletedAt, &p.CodeAttempted, &p.RemainingAtCompletion,
		&p.ElapsedAtCompletion)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) queryPlayer(ctx context.Context, notFound string, stmt string, args ...any) (*domain.Player, error) {
	p, err := scanPlayer(t.tx.QueryRow(ctx, stmt, args...))
	if stderrors.Is(err, pgx.ErrNoRows) || hasCode(err, codeInvalidTextRepresent) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("%s", notFound))
	}
	if err != nil {
		return nil, fmt.Errorf("query player: %w", err)
	}
	return p, nil
}

func (t *tx) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	if uuid.Validate(id) != nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: id=%s", id))
	}

	const stmt = `SELECT ` + playerColumns + ` FROM players WHERE id = $1 FOR UPDATE;`
	return t.queryPlayer(ctx, fmt.Sprintf("player not found: id=%s", id), stmt, id)
}

func (t *tx) GetPlayerByUsername(ctx context.Context, username string) (*domain.Player, error) {
	const stmt = `SELECT ` + playerColumns + ` FROM players WHERE username = $1 FOR UPDATE;`
	return t.queryPlayer(ctx, fmt.Sprintf("player not found: username=%s", username), stmt, username)
}

func (t *tx) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	const stmt = `SELECT ` + playerColumns + ` FROM players WHERE session_id = $1 ORDER BY join_time, username;`

	rows, err := t.tx.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		p, err := scanPlayer(r)
		if err != nil {
			return domain.Player{}, err
		}
		return *p, nil
	})
}

func (t *tx) CountPlayers(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM players WHERE session_id = $1 AND NOT is_banned;`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}

func (t *tx) InsertPlayer(ctx context.Context, p *domain.Player) error {
	const stmt = `
INSERT INTO players (id, username, session_id, score, current_level, join_time, last_active, ip_address,
	is_active, is_banned, auth_token, completed_at, code_attempted, remaining_at_completion, elapsed_at_completion)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);`

	_, err := t.tx.Exec(ctx, stmt, p.ID, p.Username, p.SessionID, p.Score, p.CurrentLevel, p.JoinTime, p.LastActive,
		p.IPAddress, p.IsActive, p.IsBanned, p.AuthToken, p.CompletedAt, p.CodeAttempted, p.RemainingAtCompletion, p.ElapsedAtCompletion)
	return mapErr(err, "insert player")
}

func (t *tx) UpdatePlayer(ctx context.Context, p *domain.Player) error {
	const stmt = `
UPDATE players SET username = $2, session_id = $3, score = $4, current_level = $5, join_time = $6, last_active = $7,
	ip_address = $8, is_active = $9, is_banned = $10, auth_token = $11, completed_at = $12, code_attempted = $13,
	remaining_at_completion = $14, elapsed_at_completion = $15
WHERE id = $1;`

	tag, err := t.tx.Exec(ctx, stmt, p.ID, p.Username, p.SessionID, p.Score, p.CurrentLevel, p.JoinTime, p.LastActive,
		p.IPAddress, p.IsActive, p.IsBanned, p.AuthToken, p.CompletedAt, p.CodeAttempted, p.RemainingAtCompletion, p.ElapsedAtCompletion)
	if err != nil {
		return mapErr(err, "update player")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: id=%s", p.ID))
	}
	return nil
}

func (t *tx) MarkInactivePlayers(ctx context.Context, before time.Time) (int, error) {
	// Rows locked by a player request are left for the next sweep. Player requests lock the player
	// before the session, and the sweep runs under the session lock.
	const stmt = `
UPDATE players SET is_active = FALSE
WHERE id IN (
	SELECT id FROM players WHERE is_active AND last_active < $1 FOR UPDATE SKIP LOCKED
);`

	tag, err := t.tx.Exec(ctx, stmt, before)
	if err != nil {
		return 0, fmt.Errorf("mark inactive players: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *tx) HasClear(ctx context.Context, playerID, questionID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM question_clears WHERE player_id = $1 AND question_id = $2);`,
		playerID, questionID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("has clear: %w", err)
	}
	return ok, nil
}

func (t *tx) InsertClear(ctx context.Context, c domain.QuestionClear) error {
	const stmt = `
INSERT INTO question_clears (player_id, question_id, session_id, level, cleared_at)
VALUES ($1, $2, $3, $4, $5);`

	_, err := t.tx.Exec(ctx, stmt, c.PlayerID, c.QuestionID, c.SessionID, c.Level, c.ClearedAt)
	return mapErr(err, "insert clear")
}

func (t *tx) DeleteClears(ctx context.Context, playerID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM question_clears WHERE player_id = $1;`, playerID); err != nil {
		return fmt.Errorf("delete clears: %w", err)
	}
	return nil
}

func (t *tx) InsertLog(ctx context.Context, l domain.Log) error {
	const stmt = `
INSERT INTO logs (session_id, player_id, action_type, details, created_at)
VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5);`

	_, err := t.tx.Exec(ctx, stmt, l.SessionID, l.PlayerID, l.ActionType, l.Details, l.Timestamp)
	return mapErr(err, "insert log")
}

func (t *tx) ListPlayerLogs(ctx context.Context, playerID, sessionID, action string) ([]domain.Log, error) {
	const stmt = `
SELECT id, session_id::text, COALESCE(player_id::text, ''), action_type, details, created_at
FROM logs
WHERE player_id = $1 AND session_id = $2 AND action_type = $3
ORDER BY created_at DESC, id DESC;`

	rows, err := t.tx.Query(ctx, stmt, playerID, sessionID, action)
	if err != nil {
		return nil, fmt.Errorf("list player logs: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Log, error) {
		var l domain.Log
		err := r.Scan(&l.ID, &l.SessionID, &l.PlayerID, &l.ActionType, &l.Details, &l.Timestamp)
		return l, err
	})
}

func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("%s: %s", op, pgErr.ConstraintName),
			errors.WithCause(err))
	}

	return fmt.Errorf("%s: %w", op, err)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == code
}
