package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/session"
	"github.com/victornm/questarena/internal/store/memory"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestService_CreateSession(t *testing.T) {
	type outputs struct {
		session *domain.Session
		err     error
	}

	tests := map[string]struct {
		req    session.CreateSessionRequest
		assert func(t *testing.T, out outputs)
	}{
		"should create a waiting session with a full countdown": {
			req: session.CreateSessionRequest{Name: "  Friday quiz ", DurationMinutes: 30},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, "Friday quiz", out.session.Name)
				assert.Equal(t, domain.SessionStatusWaiting, out.session.Status)
				assert.Equal(t, 1800, out.session.RemainingSeconds)
				assert.Nil(t, out.session.StartTime)
				assert.NotEmpty(t, out.session.ID)
			},
		},

		"should reject a duration below the minimum": {
			req: session.CreateSessionRequest{Name: "quiz", DurationMinutes: 4},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
			},
		},

		"should reject a duration above the maximum": {
			req: session.CreateSessionRequest{Name: "quiz", DurationMinutes: 241},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
			},
		},

		"should reject a blank name": {
			req: session.CreateSessionRequest{Name: "   ", DurationMinutes: 30},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, _ := makeService(t)

			var out outputs
			out.session, out.err = s.CreateSession(context.Background(), tt.req)

			tt.assert(t, out)
		})
	}
}

func TestService_CreateSession_EndsLiveSession(t *testing.T) {
	ctx := context.Background()
	s, st := makeService(t)

	first, err := s.CreateSession(ctx, session.CreateSessionRequest{Name: "first", DurationMinutes: 30})
	require.NoError(t, err)
	_, err = s.StartSession(ctx)
	require.NoError(t, err)

	second, err := s.CreateSession(ctx, session.CreateSessionRequest{Name: "second", DurationMinutes: 10})
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, domain.SessionStatusWaiting, sessions[0].Status)
	assert.Equal(t, first.ID, sessions[1].ID)
	assert.Equal(t, domain.SessionStatusEnded, sessions[1].Status)
	assert.NotNil(t, sessions[1].EndTime)

	assert.Contains(t, logDetails(st, first.ID, domain.ActionSessionEnded), "Auto-ended due to new session creation")
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, st := makeService(t)

	_, err := s.StartSession(ctx)
	assert.True(t, errors.Is(err, errors.CodeNotFound), "no live session yet")

	created, err := s.CreateSession(ctx, session.CreateSessionRequest{Name: "quiz", DurationMinutes: 30})
	require.NoError(t, err)

	_, err = s.PauseSession(ctx)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "waiting session cannot be paused")

	ss, err := s.StartSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusRunning, ss.Status)
	require.NotNil(t, ss.StartTime)
	assert.Equal(t, now, *ss.StartTime)

	_, err = s.ResumeSession(ctx)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "running session cannot be resumed")

	ss, err = s.PauseSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPaused, ss.Status)

	ss, err = s.ResumeSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusRunning, ss.Status)

	ss, err = s.EndSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusEnded, ss.Status)
	assert.Zero(t, ss.RemainingSeconds)
	assert.NotNil(t, ss.EndTime)

	_, err = s.EndSession(ctx)
	assert.True(t, errors.Is(err, errors.CodeNotFound), "ended session is no longer live")

	var actions []string
	for _, l := range st.Logs() {
		if l.SessionID == created.ID {
			actions = append(actions, l.ActionType)
		}
	}
	assert.Equal(t, []string{
		domain.ActionSessionCreated,
		domain.ActionSessionStarted,
		domain.ActionSessionPaused,
		domain.ActionSessionResumed,
		domain.ActionSessionEnded,
	}, actions)
}

func TestService_AdjustTime(t *testing.T) {
	ctx := context.Background()
	s, st := makeService(t)

	_, err := s.CreateSession(ctx, session.CreateSessionRequest{Name: "quiz", DurationMinutes: 30})
	require.NoError(t, err)

	ss, err := s.AddTime(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 35, ss.DurationMinutes)
	assert.Equal(t, 2100, ss.RemainingSeconds)
	assert.LessOrEqual(t, ss.RemainingSeconds, ss.TotalSeconds())

	ss, err = s.SubtractTime(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1500, ss.RemainingSeconds)
	assert.Equal(t, domain.SessionStatusWaiting, ss.Status)

	_, err = s.AddTime(ctx, 61)
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
	_, err = s.SubtractTime(ctx, 0)
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument))

	for range 3 {
		_, err = s.SubtractTime(ctx, 20)
		if err != nil {
			break
		}
	}
	assert.True(t, errors.Is(err, errors.CodeNotFound), "session ended after reaching zero")

	status, err := s.GameStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, domain.SessionStatusEnded, status.Status)
	assert.Zero(t, status.RemainingSeconds)
	assert.NotNil(t, status.EndTime)

	assert.Equal(t, []string{"+5 minutes", "-10 minutes", "-20 minutes", "-20 minutes"},
		logDetails(st, status.ID, domain.ActionSessionTimeAdjusted))
}

func TestService_DeleteSession(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	ss, err := s.CreateSession(ctx, session.CreateSessionRequest{Name: "quiz", DurationMinutes: 30})
	require.NoError(t, err)

	err = s.DeleteSession(ctx, ss.ID)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "live session cannot be deleted")

	err = s.DeleteSession(ctx, "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, err = s.EndSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DeleteSession(ctx, ss.ID))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestService_GameStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	status, err := s.GameStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, status)

	ss, err := s.EnsureLive(ctx, "default", 60)
	require.NoError(t, err)

	again, err := s.EnsureLive(ctx, "other", 10)
	require.NoError(t, err)
	assert.Equal(t, ss.ID, again.ID, "existing live session is kept")

	status, err = s.GameStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "default", status.Name)
	assert.Equal(t, 3600, status.RemainingSeconds)
	assert.Zero(t, status.PlayerCount)
}

func TestService_PublishSessionUpdated(t *testing.T) {
	ctx := context.Background()
	eb := event.NewBus()

	var (
		mu       sync.Mutex
		statuses []domain.SessionStatus
	)
	eb.Subscribe(domain.EventNameSessionUpdated, func(_ context.Context, e event.Event) error {
		mu.Lock()
		statuses = append(statuses, e.(domain.EventSessionUpdated).Session.Status)
		mu.Unlock()
		return nil
	}, event.WithPoolSize(1))

	s := session.NewService(session.Config{
		Store:    memory.New(),
		EventBus: eb,
		Now:      func() time.Time { return now },
	})

	_, err := s.CreateSession(ctx, session.CreateSessionRequest{Name: "quiz", DurationMinutes: 30})
	require.NoError(t, err)
	_, err = s.StartSession(ctx)
	require.NoError(t, err)
	_, err = s.PauseSession(ctx)
	require.NoError(t, err)
	_, err = s.PauseSession(ctx)
	require.Error(t, err)

	eb.Stop()

	assert.ElementsMatch(t, []domain.SessionStatus{
		domain.SessionStatusWaiting,
		domain.SessionStatusRunning,
		domain.SessionStatusPaused,
	}, statuses, "rejected operations must not publish")
}

func makeService(t *testing.T) (*session.Service, *memory.Store) {
	t.Helper()

	st := memory.New()
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	return session.NewService(session.Config{
		Store:    st,
		EventBus: eb,
		Now:      func() time.Time { return now },
	}), st
}

func logDetails(st *memory.Store, sessionID, action string) []string {
	var res []string
	for _, l := range st.Logs() {
		if l.SessionID == sessionID && l.ActionType == action {
			res = append(res, l.Details)
		}
	}
	return res
}
