// Package timer drives the session countdown. It is the only writer of Session.RemainingSeconds
// outside of admin time adjustments.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/leaderboard"
	"github.com/victornm/questarena/internal/store"
	"github.com/victornm/questarena/internal/telemetry"
)

const (
	defaultInterval      = time.Second
	defaultInactiveAfter = 5 * time.Minute
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	// Interval is both the tick period and the amount one tick takes off the countdown, in whole seconds.
	Interval      time.Duration
	InactiveAfter time.Duration
	Now           func() time.Time
	NewTickerFunc func(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Loop struct {
	store         store.Store
	eb            *event.Bus
	interval      time.Duration
	inactiveAfter time.Duration
	now           func() time.Time
	newTicker     func(d time.Duration) Ticker
}

func New(c Config) *Loop {
	l := &Loop{
		store:         c.Store,
		eb:            c.EventBus,
		interval:      c.Interval,
		inactiveAfter: c.InactiveAfter,
		now:           c.Now,
		newTicker:     c.NewTickerFunc,
	}
	if l.interval < time.Second {
		l.interval = defaultInterval
	}
	if l.inactiveAfter <= 0 {
		l.inactiveAfter = defaultInactiveAfter
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newTicker == nil {
		l.newTicker = newTimeTicker
	}
	return l
}

// Run ticks until ctx is cancelled. A failing tick is logged and the loop carries on.
func (l *Loop) Run(ctx context.Context) {
	t := l.newTicker(l.interval)
	defer t.Stop()

	slog.InfoContext(ctx, "timer: started", "interval", l.interval)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "timer: stopped")
			return
		case <-t.C():
			l.safeTick(ctx)
		}
	}
}

func (l *Loop) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.TimerTicks.WithLabelValues("panic").Inc()
			slog.ErrorContext(ctx, "timer: tick panic",
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	if err := l.Tick(ctx); err != nil {
		telemetry.TimerTicks.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "timer: tick failed", "error", err)
	}
}

// Tick advances the running session by one interval, ends it when the countdown runs out and
// marks players without recent activity as inactive.
func (l *Loop) Tick(ctx context.Context) error {
	var (
		ss    *domain.Session
		board *domain.Leaderboard
	)
	err := l.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ss, err = tx.RunningSession(ctx)
		switch {
		case errors.Is(err, errors.CodeNotFound):
			ss = nil
		case err != nil:
			return err
		default:
			if err := l.countdown(ctx, tx, ss); err != nil {
				return err
			}
		}

		now := l.now()
		n, err := tx.MarkInactivePlayers(ctx, now.Add(-l.inactiveAfter))
		if err != nil {
			return fmt.Errorf("mark inactive players: %w", err)
		}
		if n > 0 {
			slog.DebugContext(ctx, "timer: players marked inactive", "count", n)
		}

		if ss == nil {
			return nil
		}

		board, err = leaderboard.Compute(ctx, tx, ss)
		return err
	})
	if err != nil {
		return err
	}

	if ss == nil {
		telemetry.TimerTicks.WithLabelValues("idle").Inc()
		return nil
	}

	telemetry.TimerTicks.WithLabelValues("ok").Inc()
	l.eb.Publish(ctx, domain.EventSessionUpdated{Session: *ss})
	l.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *board})

	return nil
}

func (l *Loop) countdown(ctx context.Context, tx store.Tx, ss *domain.Session) error {
	ss.RemainingSeconds = max(ss.RemainingSeconds-int(l.interval/time.Second), 0)

	if ss.RemainingSeconds == 0 {
		ss.End(l.now())
		if err := tx.InsertLog(ctx, domain.Log{
			SessionID:  ss.ID,
			ActionType: domain.ActionSessionEnded,
			Details:    "Timer reached zero",
			Timestamp:  l.now(),
		}); err != nil {
			return err
		}
		slog.InfoContext(ctx, "timer: session ended", "session_id", ss.ID)
	}

	return tx.UpdateSession(ctx, ss)
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }

func (t timeTicker) Stop() { t.t.Stop() }
