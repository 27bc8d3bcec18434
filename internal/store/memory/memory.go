// Package memory is a store driver that keeps all rows in process memory.
//
// Transactions are serialized by a single mutex and applied copy-on-write: fn works on a
// private copy of the state which replaces the committed state only when fn succeeds.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/store"
)

type clearKey struct {
	playerID   string
	questionID string
}

type sessionRow struct {
	domain.Session
	seq int64
}

type state struct {
	seq      int64
	logSeq   int64
	sessions map[string]sessionRow
	players  map[string]domain.Player
	clears   map[clearKey]domain.QuestionClear
	logs     []domain.Log
}

func (s *state) clone() *state {
	return &state{
		seq:      s.seq,
		logSeq:   s.logSeq,
		sessions: maps.Clone(s.sessions),
		players:  maps.Clone(s.players),
		clears:   maps.Clone(s.clears),
		logs:     slices.Clip(s.logs),
	}
}

type Store struct {
	mu    sync.Mutex
	state *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		state: &state{
			sessions: make(map[string]sessionRow),
			players:  make(map[string]domain.Player),
			clears:   make(map[clearKey]domain.QuestionClear),
		},
	}
}

func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{st: s.state.clone()}
	if err := fn(ctx, t); err != nil {
		return err
	}

	s.state = t.st
	return nil
}

type tx struct {
	st *state
}

func (t *tx) newestSession(match func(domain.Session) bool) (*domain.Session, bool) {
	var (
		found sessionRow
		ok    bool
	)
	for _, r := range t.st.sessions {
		if !match(r.Session) {
			continue
		}
		if !ok || newer(r, found) {
			found, ok = r, true
		}
	}
	if !ok {
		return nil, false
	}

	ss := found.Session
	return &ss, true
}

func newer(a, b sessionRow) bool {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c > 0
	}
	return a.seq > b.seq
}

func (t *tx) LiveSession(_ context.Context) (*domain.Session, error) {
	ss, ok := t.newestSession(func(s domain.Session) bool { return s.Status.Live() })
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no live session"))
	}
	return ss, nil
}

func (t *tx) RunningSession(_ context.Context) (*domain.Session, error) {
	ss, ok := t.newestSession(func(s domain.Session) bool { return s.Status == domain.SessionStatusRunning })
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no running session"))
	}
	return ss, nil
}

func (t *tx) LatestSession(_ context.Context) (*domain.Session, error) {
	ss, ok := t.newestSession(func(domain.Session) bool { return true })
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no session"))
	}
	return ss, nil
}

func (t *tx) GetSession(_ context.Context, id string) (*domain.Session, error) {
	r, ok := t.st.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", id))
	}

	ss := r.Session
	return &ss, nil
}

func (t *tx) ListSessions(_ context.Context) ([]domain.Session, error) {
	rows := make([]sessionRow, 0, len(t.st.sessions))
	for _, r := range t.st.sessions {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b sessionRow) int {
		if newer(a, b) {
			return -1
		}
		return 1
	})

	res := make([]domain.Session, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.Session)
	}
	return res, nil
}

func (t *tx) InsertSession(_ context.Context, s *domain.Session) error {
	if _, ok := t.st.sessions[s.ID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session already exists: id=%s", s.ID))
	}
	if s.Status.Live() {
		if _, ok := t.newestSession(func(s domain.Session) bool { return s.Status.Live() }); ok {
			return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("another session is live"))
		}
	}

	t.st.seq++
	t.st.sessions[s.ID] = sessionRow{Session: *s, seq: t.st.seq}
	return nil
}

func (t *tx) UpdateSession(_ context.Context, s *domain.Session) error {
	r, ok := t.st.sessions[s.ID]
	if !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", s.ID))
	}

	r.Session = *s
	t.st.sessions[s.ID] = r
	return nil
}

func (t *tx) DeleteSession(_ context.Context, id string) error {
	if _, ok := t.st.sessions[id]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: id=%s", id))
	}

	delete(t.st.sessions, id)
	maps.DeleteFunc(t.st.players, func(_ string, p domain.Player) bool { return p.SessionID == id })
	maps.DeleteFunc(t.st.clears, func(_ clearKey, c domain.QuestionClear) bool { return c.SessionID == id })
	t.st.logs = slices.DeleteFunc(slices.Clone(t.st.logs), func(l domain.Log) bool { return l.SessionID == id })
	return nil
}

func (t *tx) GetPlayer(_ context.Context, id string) (*domain.Player, error) {
	p, ok := t.st.players[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: id=%s", id))
	}
	return &p, nil
}

func (t *tx) GetPlayerByUsername(_ context.Context, username string) (*domain.Player, error) {
	for _, p := range t.st.players {
		if p.Username == username {
			return &p, nil
		}
	}
	return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: username=%s", username))
}

func (t *tx) ListPlayers(_ context.Context, sessionID string) ([]domain.Player, error) {
	var res []domain.Player
	for _, p := range t.st.players {
		if p.SessionID == sessionID {
			res = append(res, p)
		}
	}
	slices.SortFunc(res, func(a, b domain.Player) int {
		return cmp.Or(a.JoinTime.Compare(b.JoinTime), cmp.Compare(a.Username, b.Username))
	})
	return res, nil
}

func (t *tx) CountPlayers(_ context.Context, sessionID string) (int, error) {
	n := 0
	for _, p := range t.st.players {
		if p.SessionID == sessionID && !p.IsBanned {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertPlayer(_ context.Context, p *domain.Player) error {
	if _, ok := t.st.players[p.ID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("player already exists: id=%s", p.ID))
	}
	for _, other := range t.st.players {
		if other.Username == p.Username {
			return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("username already taken: %s", p.Username))
		}
	}

	t.st.players[p.ID] = *p
	return nil
}

func (t *tx) UpdatePlayer(_ context.Context, p *domain.Player) error {
	if _, ok := t.st.players[p.ID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: id=%s", p.ID))
	}

	t.st.players[p.ID] = *p
	return nil
}

func (t *tx) MarkInactivePlayers(_ context.Context, before time.Time) (int, error) {
	n := 0
	for id, p := range t.st.players {
		if p.IsActive && p.LastActive.Before(before) {
			p.IsActive = false
			t.st.players[id] = p
			n++
		}
	}
	return n, nil
}

func (t *tx) HasClear(_ context.Context, playerID, questionID string) (bool, error) {
	_, ok := t.st.clears[clearKey{playerID: playerID, questionID: questionID}]
	return ok, nil
}

func (t *tx) InsertClear(_ context.Context, c domain.QuestionClear) error {
	k := clearKey{playerID: c.PlayerID, questionID: c.QuestionID}
	if _, ok := t.st.clears[k]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("question already cleared: player=%s, question=%s", c.PlayerID, c.QuestionID))
	}

	t.st.clears[k] = c
	return nil
}

func (t *tx) DeleteClears(_ context.Context, playerID string) error {
	maps.DeleteFunc(t.st.clears, func(k clearKey, _ domain.QuestionClear) bool { return k.playerID == playerID })
	return nil
}

func (t *tx) InsertLog(_ context.Context, l domain.Log) error {
	t.st.logSeq++
	l.ID = t.st.logSeq
	t.st.logs = append(t.st.logs, l)
	return nil
}

func (t *tx) ListPlayerLogs(_ context.Context, playerID, sessionID, action string) ([]domain.Log, error) {
	var res []domain.Log
	for i := len(t.st.logs) - 1; i >= 0; i-- {
		l := t.st.logs[i]
		if l.PlayerID == playerID && l.SessionID == sessionID && l.ActionType == action {
			res = append(res, l)
		}
	}
	return res, nil
}

// Logs returns a copy of the whole audit log in insertion order.
func (s *Store) Logs() []domain.Log {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.state.logs)
}
