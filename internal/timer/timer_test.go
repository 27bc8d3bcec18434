package timer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/store"
	"github.com/victornm/questarena/internal/store/memory"
	"github.com/victornm/questarena/internal/timer"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestLoop_Tick(t *testing.T) {
	type (
		inputs struct {
			status    domain.SessionStatus
			remaining int
			ticks     int
		}

		outputs struct {
			session *domain.Session
			logs    []domain.Log
			events  []string
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should decrement a running session once per tick": {
			arrange: func() inputs {
				return inputs{status: domain.SessionStatusRunning, remaining: 1800, ticks: 5}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 1795, out.session.RemainingSeconds)
				assert.Equal(t, domain.SessionStatusRunning, out.session.Status)
				assert.Len(t, out.events, 10, "every tick broadcasts session and leaderboard")
			},
		},

		"should not touch a paused session": {
			arrange: func() inputs {
				return inputs{status: domain.SessionStatusPaused, remaining: 600, ticks: 3}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, 600, out.session.RemainingSeconds)
				assert.Empty(t, out.events)
			},
		},

		"should end the session exactly once when the countdown runs out": {
			arrange: func() inputs {
				return inputs{status: domain.SessionStatusRunning, remaining: 1800, ticks: 1805}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Zero(t, out.session.RemainingSeconds)
				assert.Equal(t, domain.SessionStatusEnded, out.session.Status)
				require.NotNil(t, out.session.EndTime)

				var ended []string
				for _, l := range out.logs {
					if l.ActionType == domain.ActionSessionEnded {
						ended = append(ended, l.Details)
					}
				}
				assert.Equal(t, []string{"Timer reached zero"}, ended)
				assert.Len(t, out.events, 3600, "ticks after the end find no running session")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			st := memory.New()
			seedSession(t, st, in.status, in.remaining)

			eb := event.NewBus()
			var mu sync.Mutex
			record := func(_ context.Context, e event.Event) error {
				mu.Lock()
				out.events = append(out.events, e.Name())
				mu.Unlock()
				return nil
			}
			eb.Subscribe(domain.EventNameSessionUpdated, record)
			eb.Subscribe(domain.EventNameLeaderboardUpdated, record)

			l := timer.New(timer.Config{
				Store:    st,
				EventBus: eb,
				Now:      func() time.Time { return now },
			})

			for range in.ticks {
				require.NoError(t, l.Tick(context.Background()))
			}
			eb.Stop()

			out.session = getSession(t, st)
			out.logs = st.Logs()

			tt.assert(t, out)
		})
	}
}

func TestLoop_Tick_MarksInactivePlayers(t *testing.T) {
	st := memory.New()
	seedSession(t, st, domain.SessionStatusRunning, 1200)

	require.NoError(t, st.Tx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, p := range []domain.Player{
			{ID: "p1", Username: "idle", SessionID: "s1", IsActive: true, LastActive: now.Add(-6 * time.Minute)},
			{ID: "p2", Username: "busy", SessionID: "s1", IsActive: true, LastActive: now.Add(-time.Minute)},
		} {
			if err := tx.InsertPlayer(ctx, &p); err != nil {
				return err
			}
		}
		return nil
	}))

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	l := timer.New(timer.Config{
		Store:    st,
		EventBus: eb,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, l.Tick(context.Background()))

	require.NoError(t, st.Tx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		idle, err := tx.GetPlayer(ctx, "p1")
		require.NoError(t, err)
		busy, err := tx.GetPlayer(ctx, "p2")
		require.NoError(t, err)

		assert.False(t, idle.IsActive)
		assert.True(t, busy.IsActive)
		return nil
	}))
}

func TestLoop_Run(t *testing.T) {
	st := memory.New()
	seedSession(t, st, domain.SessionStatusRunning, 100)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	ticks := make(chan time.Time)
	l := timer.New(timer.Config{
		Store:    st,
		EventBus: eb,
		Now:      func() time.Time { return now },
		NewTickerFunc: func(time.Duration) timer.Ticker {
			return fakeTicker(ticks)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	// Sends on the unbuffered channel only complete once the previous tick has been handled.
	for range 4 {
		ticks <- now
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	assert.Equal(t, 96, getSession(t, st).RemainingSeconds)
}

type fakeTicker chan time.Time

func (f fakeTicker) C() <-chan time.Time { return f }

func (fakeTicker) Stop() {}

func seedSession(t *testing.T, st store.Store, status domain.SessionStatus, remaining int) {
	t.Helper()

	start := now.Add(-time.Minute)
	require.NoError(t, st.Tx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSession(ctx, &domain.Session{
			ID:               "s1",
			Name:             "quiz",
			Status:           status,
			DurationMinutes:  30,
			RemainingSeconds: remaining,
			StartTime:        &start,
			CreatedAt:        start,
		})
	}))
}

func getSession(t *testing.T, st store.Store) *domain.Session {
	t.Helper()

	var ss *domain.Session
	require.NoError(t, st.Tx(context.Background(), func(ctx context.Context, tx store.Tx) (err error) {
		ss, err = tx.GetSession(ctx, "s1")
		return err
	}))
	return ss
}
