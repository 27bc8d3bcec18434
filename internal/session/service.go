package session

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/store"
)

const (
	MinDurationMinutes = 5
	MaxDurationMinutes = 240
	MaxNameLength      = 120

	MinAdjustMinutes = 1
	MaxAdjustMinutes = 60
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Now      func() time.Time
}

// Service owns the lifecycle of the live session. Every operation that changes the session
// publishes a session_update event once its transaction has committed.
type Service struct {
	store store.Store
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateSessionRequest represents a request to create a new game session.
type CreateSessionRequest struct {
	Name            string
	DurationMinutes int
}

func (r CreateSessionRequest) validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("name must be 1 to %d characters", MaxNameLength))
	}

	if r.DurationMinutes < MinDurationMinutes || r.DurationMinutes > MaxDurationMinutes {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("duration_minutes must be between %d and %d", MinDurationMinutes, MaxDurationMinutes))
	}

	return nil
}

// CreateSession force-ends the live session, if any, and creates a new waiting session.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	now := s.now()
	ss := &domain.Session{
		ID:               id.String(),
		Name:             strings.TrimSpace(req.Name),
		Status:           domain.SessionStatusWaiting,
		DurationMinutes:  req.DurationMinutes,
		RemainingSeconds: req.DurationMinutes * 60,
		CreatedAt:        now,
	}

	var ended *domain.Session
	err = s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		live, err := tx.LiveSession(ctx)
		switch {
		case errors.Is(err, errors.CodeNotFound):
		case err != nil:
			return err
		default:
			live.End(now)
			if err := tx.UpdateSession(ctx, live); err != nil {
				return err
			}
			if err := s.log(ctx, tx, live.ID, domain.ActionSessionEnded, "Auto-ended due to new session creation"); err != nil {
				return err
			}
			ended = live
		}

		if err := tx.InsertSession(ctx, ss); err != nil {
			return err
		}

		return s.log(ctx, tx, ss.ID, domain.ActionSessionCreated,
			fmt.Sprintf("Session '%s' created with duration %d minutes", ss.Name, ss.DurationMinutes))
	})
	if err != nil {
		return nil, err
	}

	if ended != nil {
		s.publish(ctx, ended)
	}
	s.publish(ctx, ss)

	return ss, nil
}

// StartSession moves the live session to running. The start time is stamped only once.
func (s *Service) StartSession(ctx context.Context) (*domain.Session, error) {
	return s.mutateLive(ctx, func(ctx context.Context, tx store.Tx, ss *domain.Session) error {
		ss.Status = domain.SessionStatusRunning
		if ss.StartTime == nil {
			now := s.now()
			ss.StartTime = &now
		}

		return s.log(ctx, tx, ss.ID, domain.ActionSessionStarted, "Session started")
	})
}

func (s *Service) PauseSession(ctx context.Context) (*domain.Session, error) {
	return s.mutateLive(ctx, func(ctx context.Context, tx store.Tx, ss *domain.Session) error {
		if ss.Status != domain.SessionStatusRunning {
			return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session is not running"))
		}

		ss.Status = domain.SessionStatusPaused
		return s.log(ctx, tx, ss.ID, domain.ActionSessionPaused, "Session paused")
	})
}

func (s *Service) ResumeSession(ctx context.Context) (*domain.Session, error) {
	return s.mutateLive(ctx, func(ctx context.Context, tx store.Tx, ss *domain.Session) error {
		if ss.Status != domain.SessionStatusPaused {
			return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session is not paused"))
		}

		ss.Status = domain.SessionStatusRunning
		return s.log(ctx, tx, ss.ID, domain.ActionSessionResumed, "Session resumed")
	})
}

// AddTime extends both the countdown and the session duration by minutes, so elapsed time is preserved.
func (s *Service) AddTime(ctx context.Context, minutes int) (*domain.Session, error) {
	if err := validateAdjust(minutes); err != nil {
		return nil, err
	}

	return s.mutateLive(ctx, func(ctx context.Context, tx store.Tx, ss *domain.Session) error {
		ss.DurationMinutes += minutes
		ss.RemainingSeconds = min(ss.RemainingSeconds+minutes*60, ss.TotalSeconds())

		return s.log(ctx, tx, ss.ID, domain.ActionSessionTimeAdjusted, fmt.Sprintf("+%d minutes", minutes))
	})
}

// SubtractTime shortens the countdown by minutes. A countdown that reaches zero ends the session.
func (s *Service) SubtractTime(ctx context.Context, minutes int) (*domain.Session, error) {
	if err := validateAdjust(minutes); err != nil {
		return nil, err
	}

	return s.mutateLive(ctx, func(ctx context.Context, tx store.Tx, ss *domain.Session) error {
		ss.RemainingSeconds = max(ss.RemainingSeconds-minutes*60, 0)

		if err := s.log(ctx, tx, ss.ID, domain.ActionSessionTimeAdjusted, fmt.Sprintf("-%d minutes", minutes)); err != nil {
			return err
		}

		if ss.RemainingSeconds > 0 {
			return nil
		}

		ss.End(s.now())
		return s.log(ctx, tx, ss.ID, domain.ActionSessionEnded, "Time reduced to zero by admin")
	})
}

func validateAdjust(minutes int) error {
	if minutes < MinAdjustMinutes || minutes > MaxAdjustMinutes {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("minutes must be between %d and %d", MinAdjustMinutes, MaxAdjustMinutes))
	}
	return nil
}

// EndSession force-ends the live session.
func (s *Service) EndSession(ctx context.Context) (*domain.Session, error) {
	return s.mutateLive(ctx, func(ctx context.Context, tx store.Tx, ss *domain.Session) error {
		ss.RemainingSeconds = 0
		ss.End(s.now())

		return s.log(ctx, tx, ss.ID, domain.ActionSessionEnded, "Force ended by admin")
	})
}

// DeleteSession removes an ended session together with its players, clears and logs.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.GetSession(ctx, id)
		if err != nil {
			return err
		}

		if ss.Status.Live() {
			return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("cannot delete a live session, end it first"))
		}

		return tx.DeleteSession(ctx, id)
	})
}

// Summary is a session together with its non-banned player count.
type Summary struct {
	domain.Session
	PlayerCount int
}

// ListSessions returns every session, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]Summary, error) {
	var res []Summary
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		sessions, err := tx.ListSessions(ctx)
		if err != nil {
			return err
		}

		res = make([]Summary, 0, len(sessions))
		for _, ss := range sessions {
			n, err := tx.CountPlayers(ctx, ss.ID)
			if err != nil {
				return err
			}
			res = append(res, Summary{Session: ss, PlayerCount: n})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GameStatus returns the live session, falling back to the most recent one.
// It returns nil when no session was ever created.
func (s *Service) GameStatus(ctx context.Context) (*Summary, error) {
	var res *Summary
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.LiveSession(ctx)
		if errors.Is(err, errors.CodeNotFound) {
			ss, err = tx.LatestSession(ctx)
		}
		if errors.Is(err, errors.CodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := tx.CountPlayers(ctx, ss.ID)
		if err != nil {
			return err
		}

		res = &Summary{Session: *ss, PlayerCount: n}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// EnsureLive creates a waiting session with the given defaults unless one is already live.
func (s *Service) EnsureLive(ctx context.Context, name string, durationMinutes int) (*domain.Session, error) {
	var live *domain.Session
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.LiveSession(ctx)
		if errors.Is(err, errors.CodeNotFound) {
			return nil
		}
		live = ss
		return err
	})
	if err != nil {
		return nil, err
	}

	if live != nil {
		return live, nil
	}

	return s.CreateSession(ctx, CreateSessionRequest{Name: name, DurationMinutes: durationMinutes})
}

func (s *Service) mutateLive(ctx context.Context, fn func(ctx context.Context, tx store.Tx, ss *domain.Session) error) (*domain.Session, error) {
	var ss *domain.Session
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) (err error) {
		ss, err = tx.LiveSession(ctx)
		if errors.Is(err, errors.CodeNotFound) {
			return errors.New(errors.CodeNotFound, errors.WithMessagef("no active session"), errors.WithCause(err))
		}
		if err != nil {
			return err
		}

		if err := fn(ctx, tx, ss); err != nil {
			return err
		}

		return tx.UpdateSession(ctx, ss)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ss)
	return ss, nil
}

func (s *Service) log(ctx context.Context, tx store.Tx, sessionID, action, details string) error {
	return tx.InsertLog(ctx, domain.Log{
		SessionID:  sessionID,
		ActionType: action,
		Details:    details,
		Timestamp:  s.now(),
	})
}

func (s *Service) publish(ctx context.Context, ss *domain.Session) {
	s.eb.Publish(ctx, domain.EventSessionUpdated{
		Session: *ss,
	})
}
