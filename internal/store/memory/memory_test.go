package memory_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/store"
	"github.com/victornm/questarena/internal/store/memory"
)

func TestStore_TxRollback(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	failed := stderrors.New("failed")
	err := s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertSession(ctx, &domain.Session{ID: "s1", Status: domain.SessionStatusWaiting, CreatedAt: time.Now()}))
		require.NoError(t, tx.InsertLog(ctx, domain.Log{SessionID: "s1", ActionType: domain.ActionSessionCreated}))
		return failed
	})
	require.ErrorIs(t, err, failed)

	err = s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetSession(ctx, "s1")
		return err
	})
	assert.True(t, errors.Is(err, errors.CodeNotFound), "session should be rolled back")
	assert.Empty(t, s.Logs())
}

func TestStore_Sessions(t *testing.T) {
	type (
		inputs struct {
			sessions []domain.Session
		}

		outputs struct {
			live, latest, running *domain.Session
			liveErr, runningErr   error
			insertErr             error
		}
	)

	now := time.Now()

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"no session at all": {
			arrange: func() inputs { return inputs{} },
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.liveErr, errors.CodeNotFound))
				assert.True(t, errors.Is(out.runningErr, errors.CodeNotFound))
			},
		},

		"newest session wins": {
			arrange: func() inputs {
				return inputs{sessions: []domain.Session{
					{ID: "s1", Status: domain.SessionStatusEnded, CreatedAt: now.Add(-2 * time.Minute)},
					{ID: "s2", Status: domain.SessionStatusEnded, CreatedAt: now.Add(-time.Minute)},
					{ID: "s3", Status: domain.SessionStatusRunning, CreatedAt: now},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.insertErr)
				assert.Equal(t, "s3", out.live.ID)
				assert.Equal(t, "s3", out.latest.ID)
				assert.Equal(t, "s3", out.running.ID)
			},
		},

		"sessions created in the same instant are ordered by insertion": {
			arrange: func() inputs {
				return inputs{sessions: []domain.Session{
					{ID: "s1", Status: domain.SessionStatusEnded, CreatedAt: now},
					{ID: "s2", Status: domain.SessionStatusPaused, CreatedAt: now},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.insertErr)
				assert.Equal(t, "s2", out.latest.ID)
				assert.Equal(t, "s2", out.live.ID)
				assert.True(t, errors.Is(out.runningErr, errors.CodeNotFound))
			},
		},

		"a second live session is rejected": {
			arrange: func() inputs {
				return inputs{sessions: []domain.Session{
					{ID: "s1", Status: domain.SessionStatusWaiting, CreatedAt: now},
					{ID: "s2", Status: domain.SessionStatusWaiting, CreatedAt: now},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.insertErr, errors.CodeAlreadyExists))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}
			s := memory.New()
			ctx := context.Background()

			out.insertErr = s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
				for _, ss := range in.sessions {
					if err := tx.InsertSession(ctx, &ss); err != nil {
						return err
					}
				}
				return nil
			})

			_ = s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
				out.live, out.liveErr = tx.LiveSession(ctx)
				out.running, out.runningErr = tx.RunningSession(ctx)
				out.latest, _ = tx.LatestSession(ctx)
				return nil
			})

			tt.assert(t, out)
		})
	}
}

func TestStore_DeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertSession(ctx, &domain.Session{ID: "s1", Status: domain.SessionStatusEnded, CreatedAt: time.Now()}))
		require.NoError(t, tx.InsertSession(ctx, &domain.Session{ID: "s2", Status: domain.SessionStatusWaiting, CreatedAt: time.Now()}))
		require.NoError(t, tx.InsertPlayer(ctx, &domain.Player{ID: "p1", Username: "alice", SessionID: "s1"}))
		require.NoError(t, tx.InsertPlayer(ctx, &domain.Player{ID: "p2", Username: "bob", SessionID: "s2"}))
		require.NoError(t, tx.InsertClear(ctx, domain.QuestionClear{PlayerID: "p1", QuestionID: "q0_1", SessionID: "s1"}))
		require.NoError(t, tx.InsertLog(ctx, domain.Log{SessionID: "s1", PlayerID: "p1", ActionType: domain.ActionPlayerJoin}))
		require.NoError(t, tx.InsertLog(ctx, domain.Log{SessionID: "s2", PlayerID: "p2", ActionType: domain.ActionPlayerJoin}))
		return nil
	}))

	require.NoError(t, s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteSession(ctx, "s1")
	}))

	require.NoError(t, s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetPlayer(ctx, "p1")
		assert.True(t, errors.Is(err, errors.CodeNotFound))

		ok, err := tx.HasClear(ctx, "p1", "q0_1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = tx.GetPlayer(ctx, "p2")
		assert.NoError(t, err)
		return nil
	}))

	logs := s.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "s2", logs[0].SessionID)
}

func TestStore_Players(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	require.NoError(t, s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertPlayer(ctx, &domain.Player{ID: "p1", Username: "alice", SessionID: "s1", IsActive: true, LastActive: now.Add(-10 * time.Minute)}))
		require.NoError(t, tx.InsertPlayer(ctx, &domain.Player{ID: "p2", Username: "bob", SessionID: "s1", IsActive: true, LastActive: now}))
		require.NoError(t, tx.InsertPlayer(ctx, &domain.Player{ID: "p3", Username: "carol", SessionID: "s1", IsBanned: true}))

		err := tx.InsertPlayer(ctx, &domain.Player{ID: "p4", Username: "alice", SessionID: "s1"})
		assert.True(t, errors.Is(err, errors.CodeAlreadyExists), "username must be unique")
		return nil
	}))

	require.NoError(t, s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.MarkInactivePlayers(ctx, now.Add(-5*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		p, err := tx.GetPlayerByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, p.IsActive)

		count, err := tx.CountPlayers(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		return nil
	}))
}

func TestStore_ListPlayerLogs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertLog(ctx, domain.Log{SessionID: "s1", PlayerID: "p1", ActionType: domain.ActionFinalChallengeComplete, Details: "first"}))
		require.NoError(t, tx.InsertLog(ctx, domain.Log{SessionID: "s1", PlayerID: "p1", ActionType: domain.ActionLevelComplete}))
		require.NoError(t, tx.InsertLog(ctx, domain.Log{SessionID: "s2", PlayerID: "p1", ActionType: domain.ActionFinalChallengeComplete}))
		require.NoError(t, tx.InsertLog(ctx, domain.Log{SessionID: "s1", PlayerID: "p1", ActionType: domain.ActionFinalChallengeComplete, Details: "second"}))
		return nil
	}))

	require.NoError(t, s.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		logs, err := tx.ListPlayerLogs(ctx, "p1", "s1", domain.ActionFinalChallengeComplete)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "second", logs[0].Details)
		assert.Equal(t, "first", logs[1].Details)
		return nil
	}))
}
