package leaderboard

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/store"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	// Redis throttles score-driven publishing across instances. Without it every score update publishes.
	Redis  redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

type Service struct {
	store  store.Store
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:  c.Store,
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

// GetLeaderboard returns the leaderboard of the live session, or an empty one when no session is live.
func (s *Service) GetLeaderboard(ctx context.Context) (*domain.Leaderboard, error) {
	var l *domain.Leaderboard
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.LiveSession(ctx)
		if errors.Is(err, errors.CodeNotFound) {
			l = &domain.Leaderboard{Rows: []domain.LeaderboardRow{}}
			return nil
		}
		if err != nil {
			return err
		}

		l, err = Compute(ctx, tx, ss)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	return l, nil
}

// GetSessionLeaderboard returns the leaderboard of any session.
func (s *Service) GetSessionLeaderboard(ctx context.Context, sessionID string) (*domain.Leaderboard, error) {
	var l *domain.Leaderboard
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}

		l, err = Compute(ctx, tx, ss)
		return err
	})
	if err != nil {
		return nil, err
	}

	return l, nil
}

// SetFreeze pins the live session's leaderboard to a snapshot of the current standings,
// or releases it.
func (s *Service) SetFreeze(ctx context.Context, frozen bool) (*domain.Leaderboard, error) {
	var l *domain.Leaderboard
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.LiveSession(ctx)
		if err != nil {
			return err
		}

		ss.LeaderboardFrozen = frozen
		ss.FrozenSnapshot = nil

		rows, err := Rank(ctx, tx, ss)
		if err != nil {
			return err
		}

		if frozen {
			ss.FrozenSnapshot, err = json.Marshal(rows)
			if err != nil {
				return fmt.Errorf("encode snapshot: %w", err)
			}
		}

		if err := tx.UpdateSession(ctx, ss); err != nil {
			return err
		}

		if err := tx.InsertLog(ctx, domain.Log{
			SessionID:  ss.ID,
			ActionType: domain.ActionLeaderboardFreeze,
			Details:    fmt.Sprintf("Frozen=%t", frozen),
			Timestamp:  s.now(),
		}); err != nil {
			return err
		}

		l = &domain.Leaderboard{SessionID: ss.ID, Frozen: frozen, Rows: rows}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return l, nil
}

// Analytics summarizes a session: participants, the top-ranked player, average score and completion.
func (s *Service) Analytics(ctx context.Context, sessionID string) (*domain.Analytics, error) {
	var a *domain.Analytics
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}

		rows, err := Rank(ctx, tx, ss)
		if err != nil {
			return err
		}

		a = analyticsOf(ss, rows)
		a.GeneratedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

func analyticsOf(ss *domain.Session, rows []domain.LeaderboardRow) *domain.Analytics {
	a := &domain.Analytics{
		SessionID:         ss.ID,
		SessionName:       ss.Name,
		TotalParticipants: len(rows),
		AverageScore:      decimal.Zero,
		CompletionPercent: decimal.Zero,
	}
	if len(rows) == 0 {
		return a
	}

	var (
		total     = decimal.Zero
		completed int
	)
	for _, r := range rows {
		total = total.Add(decimal.NewFromInt(int64(r.Score)))
		if r.IsCompleted {
			completed++
		}
	}

	n := decimal.NewFromInt(int64(len(rows)))
	a.AverageScore = total.DivRound(n, 2)
	a.CompletionPercent = decimal.NewFromInt(int64(completed*100)).DivRound(n, 2)
	a.TopPlayer = &domain.TopPlayer{
		Username:         rows[0].Username,
		Score:            rows[0].Score,
		TimeTakenSeconds: rows[0].TimeTakenSeconds,
	}

	return a
}

// Export writes a session's leaderboard as CSV.
func (s *Service) Export(ctx context.Context, sessionID string, w io.Writer) error {
	l, err := s.GetSessionLeaderboard(ctx, sessionID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", "username", "score", "current_level", "time_taken_seconds"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, r := range l.Rows {
		if err := cw.Write([]string{
			strconv.Itoa(i + 1),
			r.Username,
			strconv.Itoa(r.Score),
			strconv.Itoa(r.CurrentLevel),
			strconv.Itoa(r.TimeTakenSeconds),
		}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// UpdateLeaderboard reacts to a score change by publishing the session's leaderboard,
// at most once per publish interval.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	if s.redis != nil {
		// This is a simple way to prevent multiple instances of the service from publishing the leaderboard.
		ok, err := s.redis.SetNX(ctx, s.getPublishKey(e.SessionID), e.UpdateTime.UnixMilli(), publishInterval).Result()
		if err != nil {
			return fmt.Errorf("setnx: %w", err)
		}

		if !ok {
			return s.publishTrailing(ctx, e.SessionID)
		}
	}

	return s.publishLeaderboard(ctx, e.SessionID)
}

// publishTrailing publishes once more when the current window closes, so the last update of a
// burst is not lost. Only one caller per window takes the trailing slot.
func (s *Service) publishTrailing(ctx context.Context, sessionID string) error {
	ok, err := s.redis.SetNX(ctx, s.getTrailingKey(sessionID), 1, publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx trailing: %w", err)
	}
	if !ok {
		return nil
	}

	wait, err := s.redis.PTTL(ctx, s.getPublishKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("pttl: %w", err)
	}
	wait = min(max(wait, 0), publishInterval)

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.publishLeaderboard(ctx, sessionID)
}

func (s *Service) publishLeaderboard(ctx context.Context, sessionID string) error {
	l, err := s.GetSessionLeaderboard(ctx, sessionID)
	if errors.Is(err, errors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getPublishKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard:published", s.prefix, session)
}

func (s *Service) getTrailingKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard:trailing", s.prefix, session)
}
