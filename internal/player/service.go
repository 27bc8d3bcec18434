// Package player manages the roster: registration and re-login, credential checks, activity
// tracking and the admin moderation actions.
package player

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/victornm/questarena/internal/auth"
	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/leaderboard"
	"github.com/victornm/questarena/internal/store"
)

const (
	MinUsernameLength = 2
	MaxUsernameLength = 40

	MinLevel = 0
	MaxLevel = 10
)

type Config struct {
	Store    store.Store
	Auth     *auth.Authenticator
	EventBus *event.Bus
	Now      func() time.Time
}

type Service struct {
	store store.Store
	auth  *auth.Authenticator
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		auth:  c.Auth,
		eb:    c.EventBus,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RegisterRequest struct {
	Username  string
	IPAddress string
}

type RegisterResponse struct {
	Token   string
	Player  domain.Player
	Session domain.Session
}

// Register joins a player to the live session. A known username logs back in, moving to the
// live session with fresh progress when it belonged to an older one.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	username := strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("username must be %d to %d characters", MinUsernameLength, MaxUsernameLength))
	}

	var res *RegisterResponse
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.LiveSession(ctx)
		if errors.Is(err, errors.CodeNotFound) {
			return errors.New(errors.CodeAborted, errors.WithMessagef("no active session, please wait for the admin to create one"))
		}
		if err != nil {
			return err
		}

		now := s.now()
		p, err := tx.GetPlayerByUsername(ctx, username)
		switch {
		case errors.Is(err, errors.CodeNotFound):
			p, err = s.join(ctx, tx, ss, username, req.IPAddress)
		case err != nil:
		default:
			err = s.rejoin(ctx, tx, ss, p, req.IPAddress)
		}
		if err != nil {
			return err
		}

		p.LastActive = now
		p.IsActive = true
		if p.AuthToken, err = s.auth.IssuePlayerToken(p.ID, ss.ID, p.Username); err != nil {
			return err
		}

		if err := tx.UpdatePlayer(ctx, p); err != nil {
			return err
		}

		res = &RegisterResponse{Token: p.AuthToken, Player: *p, Session: *ss}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *Service) join(ctx context.Context, tx store.Tx, ss *domain.Session, username, ip string) (*domain.Player, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player ID: %w", err)
	}

	p := &domain.Player{
		ID:         id.String(),
		Username:   username,
		SessionID:  ss.ID,
		JoinTime:   s.joinTime(ss),
		LastActive: s.now(),
		IPAddress:  ip,
	}
	if err := tx.InsertPlayer(ctx, p); err != nil {
		return nil, err
	}

	return p, s.log(ctx, tx, ss.ID, p.ID, domain.ActionPlayerJoin, fmt.Sprintf("Player %s joined from %s", username, ip))
}

func (s *Service) rejoin(ctx context.Context, tx store.Tx, ss *domain.Session, p *domain.Player, ip string) error {
	if p.IsBanned {
		return errors.New(errors.CodePermissionDenied, errors.WithMessagef("player is banned"))
	}

	if p.SessionID != ss.ID {
		resetProgress(p)
		p.SessionID = ss.ID
		p.JoinTime = s.joinTime(ss)
		p.IsActive = false
		p.AuthToken = ""
		if err := tx.DeleteClears(ctx, p.ID); err != nil {
			return err
		}
	}

	if p.IsActive && p.AuthToken != "" {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("username %s is already logged in", p.Username))
	}

	p.IPAddress = ip
	return s.log(ctx, tx, ss.ID, p.ID, domain.ActionPlayerRejoin, fmt.Sprintf("Player %s rejoined from %s", p.Username, ip))
}

// joinTime is the session start for a running session, so late joiners share the session clock.
func (s *Service) joinTime(ss *domain.Session) time.Time {
	if ss.Status == domain.SessionStatusRunning && ss.StartTime != nil {
		return *ss.StartTime
	}
	return s.now()
}

// Authenticate resolves the player behind a bearer token. The token must be the player's
// current credential.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Player, error) {
	var p *domain.Player
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) (err error) {
		p, err = s.authenticate(ctx, tx, token)
		return err
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (s *Service) authenticate(ctx context.Context, tx store.Tx, token string) (*domain.Player, error) {
	c, err := s.auth.Parse(token, auth.RolePlayer)
	if err != nil {
		return nil, err
	}

	p, err := tx.GetPlayer(ctx, c.Subject)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"))
	}
	if err != nil {
		return nil, err
	}

	if p.IsBanned {
		return nil, errors.New(errors.CodePermissionDenied, errors.WithMessagef("player is banned"))
	}

	if p.AuthToken != token {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token expired due to another login"))
	}

	return p, nil
}

type ValidateResponse struct {
	Player  domain.Player
	Session domain.Session
}

// Validate checks a stored token on reconnect. A token whose session has ended is revoked.
func (s *Service) Validate(ctx context.Context, token string) (*ValidateResponse, error) {
	var (
		res     *ValidateResponse
		revoked bool
	)
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := s.authenticate(ctx, tx, token)
		if err != nil {
			return err
		}

		ss, err := tx.GetSession(ctx, p.SessionID)
		if err != nil {
			return err
		}

		if ss.Status == domain.SessionStatusEnded {
			p.AuthToken = ""
			p.IsActive = false
			revoked = true
			return tx.UpdatePlayer(ctx, p)
		}

		p.LastActive = s.now()
		p.IsActive = true
		if err := tx.UpdatePlayer(ctx, p); err != nil {
			return err
		}

		res = &ValidateResponse{Player: *p, Session: *ss}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if revoked {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("session has ended"))
	}

	return res, nil
}

// Heartbeat marks the player as present.
func (s *Service) Heartbeat(ctx context.Context, playerID string) error {
	_, err := s.mutate(ctx, playerID, func(_ context.Context, _ store.Tx, p *domain.Player) error {
		p.LastActive = s.now()
		p.IsActive = true
		return nil
	})
	return err
}

// RecordActivity logs a client-side event, such as a tab switch, reported by the player.
func (s *Service) RecordActivity(ctx context.Context, playerID, eventType, details string) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("event_type is required"))
	}

	_, err := s.mutate(ctx, playerID, func(ctx context.Context, tx store.Tx, p *domain.Player) error {
		p.LastActive = s.now()
		return s.log(ctx, tx, p.SessionID, p.ID, domain.ActionPlayerEventPrefix+eventType, details)
	})
	return err
}

// Kick revokes the player's credential. The player may log in again.
func (s *Service) Kick(ctx context.Context, playerID string) (*domain.Player, error) {
	return s.mutate(ctx, playerID, func(ctx context.Context, tx store.Tx, p *domain.Player) error {
		p.IsActive = false
		p.AuthToken = ""
		return s.log(ctx, tx, p.SessionID, p.ID, domain.ActionPlayerKick, fmt.Sprintf("Player %s kicked by admin", p.Username))
	})
}

// Ban revokes the player's credential and hides the player from the leaderboard for good.
func (s *Service) Ban(ctx context.Context, playerID string) (*domain.Player, error) {
	p, err := s.mutate(ctx, playerID, func(ctx context.Context, tx store.Tx, p *domain.Player) error {
		p.IsBanned = true
		p.IsActive = false
		p.AuthToken = ""
		return s.log(ctx, tx, p.SessionID, p.ID, domain.ActionPlayerBan, fmt.Sprintf("Player %s banned by admin", p.Username))
	})
	if err != nil {
		return nil, err
	}

	s.publishScore(ctx, p)
	return p, nil
}

// ResetProgress wipes the player's score, level, cleared questions and final challenge state.
func (s *Service) ResetProgress(ctx context.Context, playerID string) (*domain.Player, error) {
	p, err := s.mutate(ctx, playerID, func(ctx context.Context, tx store.Tx, p *domain.Player) error {
		resetProgress(p)
		if err := tx.DeleteClears(ctx, p.ID); err != nil {
			return err
		}
		return s.log(ctx, tx, p.SessionID, p.ID, domain.ActionPlayerReset, fmt.Sprintf("Progress of %s reset by admin", p.Username))
	})
	if err != nil {
		return nil, err
	}

	s.publishScore(ctx, p)
	return p, nil
}

func resetProgress(p *domain.Player) {
	p.Score = 0
	p.CurrentLevel = 0
	p.CompletedAt = nil
	p.RemainingAtCompletion = nil
	p.ElapsedAtCompletion = nil
	p.CodeAttempted = false
}

func (s *Service) MoveLevel(ctx context.Context, playerID string, level int) (*domain.Player, error) {
	if level < MinLevel || level > MaxLevel {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("level must be between %d and %d", MinLevel, MaxLevel))
	}

	p, err := s.mutate(ctx, playerID, func(ctx context.Context, tx store.Tx, p *domain.Player) error {
		from := p.CurrentLevel
		p.CurrentLevel = level
		return s.log(ctx, tx, p.SessionID, p.ID, domain.ActionPlayerMoveLevel, fmt.Sprintf("Level %d -> %d", from, level))
	})
	if err != nil {
		return nil, err
	}

	s.publishScore(ctx, p)
	return p, nil
}

// AdjustScore adds delta, which may be negative, to the player's score.
func (s *Service) AdjustScore(ctx context.Context, playerID string, delta int) (*domain.Player, error) {
	p, err := s.mutate(ctx, playerID, func(ctx context.Context, tx store.Tx, p *domain.Player) error {
		p.Score += delta
		return s.log(ctx, tx, p.SessionID, p.ID, domain.ActionPlayerScoreAdjust, fmt.Sprintf("Score delta %d", delta))
	})
	if err != nil {
		return nil, err
	}

	s.publishScore(ctx, p)
	return p, nil
}

// LivePlayer is a row of the admin roster.
type LivePlayer struct {
	domain.Player
	TimeTakenSeconds     int
	LastActiveSecondsAgo int
	// DuplicateIP is set when another player of the session shares the IP address.
	DuplicateIP bool
}

// LivePlayers returns every player of the live session, banned players included.
func (s *Service) LivePlayers(ctx context.Context) ([]LivePlayer, error) {
	res := []LivePlayer{}
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.LiveSession(ctx)
		if errors.Is(err, errors.CodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		players, err := tx.ListPlayers(ctx, ss.ID)
		if err != nil {
			return err
		}

		ips := make(map[string]int, len(players))
		for _, p := range players {
			if p.IPAddress != "" {
				ips[p.IPAddress]++
			}
		}

		now := s.now()
		for _, p := range players {
			taken, err := leaderboard.TimeTaken(ctx, tx, ss, &p)
			if err != nil {
				return err
			}

			res = append(res, LivePlayer{
				Player:               p,
				TimeTakenSeconds:     taken,
				LastActiveSecondsAgo: max(int(now.Sub(p.LastActive).Seconds()), 0),
				DuplicateIP:          ips[p.IPAddress] > 1,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *Service) mutate(ctx context.Context, playerID string, fn func(ctx context.Context, tx store.Tx, p *domain.Player) error) (*domain.Player, error) {
	var p *domain.Player
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) (err error) {
		p, err = tx.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}

		if err := fn(ctx, tx, p); err != nil {
			return err
		}

		return tx.UpdatePlayer(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (s *Service) log(ctx context.Context, tx store.Tx, sessionID, playerID, action, details string) error {
	return tx.InsertLog(ctx, domain.Log{
		SessionID:  sessionID,
		PlayerID:   playerID,
		ActionType: action,
		Details:    details,
		Timestamp:  s.now(),
	})
}

func (s *Service) publishScore(ctx context.Context, p *domain.Player) {
	s.eb.Publish(ctx, domain.EventScoreUpdated{
		SessionID:  p.SessionID,
		PlayerID:   p.ID,
		Score:      p.Score,
		UpdateTime: s.now(),
	})
}
