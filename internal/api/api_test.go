package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/questarena/internal/api"
	"github.com/victornm/questarena/internal/auth"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/leaderboard"
	"github.com/victornm/questarena/internal/player"
	"github.com/victornm/questarena/internal/questionbank"
	"github.com/victornm/questarena/internal/realtime"
	"github.com/victornm/questarena/internal/score"
	"github.com/victornm/questarena/internal/session"
	"github.com/victornm/questarena/internal/store/memory"
)

const (
	adminPassword = "letmein"

	questions = `{
  "0": {"title": "Warm up", "questions": [{"id": "q0_1", "text": "What does HTTP stand for?", "answer": "HyperText Transfer Protocol"}]},
  "3": {
    "title": "Incident",
    "easy": [{"id": "q3_e1", "text": "Graceful stop signal?", "answer": "SIGTERM"}],
    "hard": [{"id": "q3_h1", "text": "Isolation level without phantoms?", "answer": "Serializable"}]
  },
  "5": {"title": "Final", "question": {"id": "q5_final", "text": "Sum two integers."}}
}`
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAPI_GameFlow(t *testing.T) {
	h := makeHandler(t)

	res := do(t, h, http.MethodPost, "/api/admin_login", "", `{"password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = do(t, h, http.MethodPost, "/api/admin_login", "", `{"password":"`+adminPassword+`"}`)
	require.Equal(t, http.StatusOK, res.Code)
	admin := decode[map[string]string](t, res)["token"]
	require.NotEmpty(t, admin)

	res = do(t, h, http.MethodPost, "/api/admin/session/create", "", `{"name":"Friday quiz"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code, "admin routes need a token")

	res = do(t, h, http.MethodPost, "/api/admin/session/create", admin, `{"name":"Friday quiz"}`)
	require.Equal(t, http.StatusOK, res.Code)
	created := decode[map[string]any](t, res)
	assert.Equal(t, "waiting", created["status"])
	assert.EqualValues(t, 30, created["duration_minutes"], "duration defaults to 30 minutes")
	assert.EqualValues(t, 1800, created["remaining_seconds"])

	res = do(t, h, http.MethodPost, "/api/player/register", "", `{"username":"alice"}`)
	require.Equal(t, http.StatusOK, res.Code)
	reg := decode[map[string]any](t, res)
	token := reg["token"].(string)
	assert.Equal(t, "alice", reg["username"])
	assert.Equal(t, created["id"], reg["session_id"])

	res = do(t, h, http.MethodPost, "/api/player/register", "", `{"username":"alice"}`)
	assert.Equal(t, http.StatusConflict, res.Code, "a second login is rejected while the first is active")

	res = do(t, h, http.MethodPost, "/api/admin/session/start", admin, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"ok":true}`, res.Body.String())

	res = do(t, h, http.MethodGet, "/api/game_status", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	status := decode[map[string]any](t, res)
	assert.Equal(t, "running", status["status"])
	assert.EqualValues(t, 1, status["player_count"])

	res = do(t, h, http.MethodPost, "/api/submit_answer", token, `{"level":0,"question_id":"q0_1","answer":" hypertext transfer protocol "}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"correct","new_score":10,"current_level":0}`, res.Body.String())

	res = do(t, h, http.MethodPost, "/api/submit_answer", token, `{"level":0,"question_id":"q0_1","answer":"HyperText Transfer Protocol"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "already_answered", decode[map[string]any](t, res)["status"])

	res = do(t, h, http.MethodPost, "/api/player/heartbeat", token, "")
	assert.Equal(t, http.StatusOK, res.Code)

	res = do(t, h, http.MethodPost, "/api/player/activity", token, `{"event_type":"tab_hidden"}`)
	assert.Equal(t, http.StatusOK, res.Code)

	res = do(t, h, http.MethodGet, "/api/leaderboard", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	rows := decode[[]map[string]any](t, res)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["username"])
	assert.EqualValues(t, 10, rows[0]["score"])

	res = do(t, h, http.MethodGet, "/api/admin/players/live", admin, "")
	require.Equal(t, http.StatusOK, res.Code)
	live := decode[[]map[string]any](t, res)
	require.Len(t, live, 1)
	id := live[0]["id"].(string)

	res = do(t, h, http.MethodPost, "/api/admin/player/"+id+"/adjust-score", admin, `{"delta":-15}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"ok":true,"new_score":-5}`, res.Body.String())

	res = do(t, h, http.MethodPost, "/api/admin/leaderboard/freeze", admin, `{"frozen":true}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"ok":true,"frozen":true}`, res.Body.String())

	res = do(t, h, http.MethodPost, "/api/admin/session/add_time", admin, `{"minutes":5}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 2100, decode[map[string]any](t, res)["remaining_seconds"])

	res = do(t, h, http.MethodGet, "/api/admin/analytics/"+created["id"].(string), admin, "")
	require.Equal(t, http.StatusOK, res.Code)
	analytics := decode[map[string]any](t, res)
	assert.EqualValues(t, 1, analytics["total_participants"])
	assert.Equal(t, "Friday quiz", analytics["session_name"])

	res = do(t, h, http.MethodGet, "/api/admin/export/"+created["id"].(string), admin, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "text/csv", res.Header().Get("Content-Type"))
	assert.Contains(t, res.Header().Get("Content-Disposition"), "questarena_session_")
	assert.True(t, strings.HasPrefix(res.Body.String(), "rank,username,score,current_level,time_taken_seconds\n"))

	res = do(t, h, http.MethodPost, "/api/admin/session/end", admin, "")
	require.Equal(t, http.StatusOK, res.Code)

	res = do(t, h, http.MethodPost, "/api/validate-token", "", `{"token":"`+token+`"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code, "tokens of an ended session are revoked")

	res = do(t, h, http.MethodGet, "/api/admin/sessions", admin, "")
	require.Equal(t, http.StatusOK, res.Code)
	sessions := decode[[]map[string]any](t, res)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ended", sessions[0]["status"])

	res = do(t, h, http.MethodDelete, "/api/admin/sessions/"+created["id"].(string), admin, "")
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestAPI_Errors(t *testing.T) {
	tests := map[string]struct {
		method, path, body string
		admin              bool
		wantCode           int
	}{
		"should reject registration without a live session": {
			method: http.MethodPost, path: "/api/player/register", body: `{"username":"bob"}`,
			wantCode: http.StatusConflict,
		},
		"should reject a malformed body": {
			method: http.MethodPost, path: "/api/player/register", body: `{"username":`,
			wantCode: http.StatusBadRequest,
		},
		"should reject an unknown level": {
			method: http.MethodGet, path: "/api/questions/9",
			wantCode: http.StatusNotFound,
		},
		"should reject a non numeric level": {
			method: http.MethodGet, path: "/api/questions/one",
			wantCode: http.StatusBadRequest,
		},
		"should require a player token to answer": {
			method: http.MethodPost, path: "/api/submit_answer", body: `{"level":0,"question_id":"q0_1","answer":"x"}`,
			wantCode: http.StatusUnauthorized,
		},
		"should reject an out of range duration": {
			method: http.MethodPost, path: "/api/admin/session/create", body: `{"name":"quiz","duration_minutes":1}`, admin: true,
			wantCode: http.StatusBadRequest,
		},
		"should reject a pause without a live session": {
			method: http.MethodPost, path: "/api/admin/session/pause", admin: true,
			wantCode: http.StatusNotFound,
		},
		"should reject an unknown session export": {
			method: http.MethodGet, path: "/api/admin/export/missing", admin: true,
			wantCode: http.StatusNotFound,
		},
		"should reject a move level request without a level": {
			method: http.MethodPost, path: "/api/admin/player/p1/move-level", body: `{}`, admin: true,
			wantCode: http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := makeHandler(t)

			var token string
			if tt.admin {
				token = adminToken(t, h)
			}

			res := do(t, h, tt.method, tt.path, token, tt.body)
			assert.Equal(t, tt.wantCode, res.Code, res.Body.String())

			var e struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(res.Body.Bytes(), &e))
			assert.NotZero(t, e.Code)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestAPI_Questions(t *testing.T) {
	h := makeHandler(t)

	tests := map[string]struct {
		path string
		want string
	}{
		"should strip answers from a flat level": {
			path: "/api/questions/0",
			want: `{"title":"Warm up","questions":[{"id":"q0_1","text":"What does HTTP stand for?"}]}`,
		},
		"should ask to choose a path on a branching level": {
			path: "/api/questions/3",
			want: `{"title":"Incident","message":"Choose path","paths":["easy","hard"]}`,
		},
		"should list the chosen path": {
			path: "/api/questions/3?path=hard",
			want: `{"title":"Incident","questions":[{"id":"q3_h1","text":"Isolation level without phantoms?"}]}`,
		},
		"should return the single final question": {
			path: "/api/questions/5",
			want: `{"title":"Final","question":{"id":"q5_final","text":"Sum two integers."}}`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			res := do(t, h, http.MethodGet, tt.path, "", "")
			require.Equal(t, http.StatusOK, res.Code)
			assert.JSONEq(t, tt.want, res.Body.String())
		})
	}
}

func TestAPI_GameStatusWithoutSession(t *testing.T) {
	h := makeHandler(t)

	res := do(t, h, http.MethodGet, "/api/game_status", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"session_id":null,"name":"","status":"waiting","remaining_seconds":0,"duration_minutes":0,"player_count":0}`, res.Body.String())

	res = do(t, h, http.MethodGet, "/api/leaderboard", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[]`, res.Body.String())
}

func TestAPI_JoinQR(t *testing.T) {
	h := makeHandler(t)

	res := do(t, h, http.MethodGet, "/api/join-qr", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "image/png", res.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(res.Body.Bytes(), []byte("\x89PNG")))
}

func TestAPI_Healthz(t *testing.T) {
	h := makeHandler(t)

	res := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, res.Code)
}

type fakeJudge struct{}

func (fakeJudge) Judge(context.Context, string, string) bool { return true }

func makeHandler(t *testing.T) http.Handler {
	t.Helper()

	st := memory.New()
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	a, err := auth.New(auth.Config{Secret: "test-secret", AdminPassword: adminPassword})
	require.NoError(t, err)

	bank, err := questionbank.Parse([]byte(questions))
	require.NoError(t, err)

	e := gin.New()
	api.New(api.Config{
		Session: session.NewService(session.Config{Store: st, EventBus: eb}),
		Player:  player.NewService(player.Config{Store: st, Auth: a, EventBus: eb}),
		Score: score.NewService(score.Config{
			Store:     st,
			EventBus:  eb,
			Questions: bank,
			Judge:     fakeJudge{},
		}),
		Leaderboard: leaderboard.NewService(leaderboard.Config{Store: st, EventBus: eb}),
		Questions:   bank,
		Auth:        a,
		Hub:         realtime.NewHub(realtime.Config{EventBus: eb}),
		JoinURL:     "http://quiz.local/",
	}).Register(e)

	return e
}

func adminToken(t *testing.T, h http.Handler) string {
	t.Helper()

	res := do(t, h, http.MethodPost, "/api/admin_login", "", `{"password":"`+adminPassword+`"}`)
	require.Equal(t, http.StatusOK, res.Code)
	return decode[map[string]string](t, res)["token"]
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &v), res.Body.String())
	return v
}
