package score

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/errors"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/leaderboard"
	"github.com/victornm/questarena/internal/questionbank"
	"github.com/victornm/questarena/internal/store"
)

const (
	FinalLevel          = 6
	FinalChallengeBonus = 100

	defaultPoints = 10
)

// Judge decides whether submitted code solves the question. Any failure must resolve to false.
type Judge interface {
	Judge(ctx context.Context, question, code string) bool
}

type Config struct {
	Store     store.Store
	EventBus  *event.Bus
	Questions *questionbank.Bank
	Judge     Judge
	Now       func() time.Time
}

type Service struct {
	store     store.Store
	eb        *event.Bus
	questions *questionbank.Bank
	judge     Judge
	now       func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:     c.Store,
		eb:        c.EventBus,
		questions: c.Questions,
		judge:     c.Judge,
		now:       c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type AnswerStatus string

const (
	AnswerCorrect         AnswerStatus = "correct"
	AnswerWrong           AnswerStatus = "wrong"
	AnswerAlreadyAnswered AnswerStatus = "already_answered"
)

type SubmitAnswerRequest struct {
	PlayerID   string
	Level      int
	QuestionID string
	Answer     string
}

type SubmitAnswerResponse struct {
	Status       AnswerStatus
	Score        int
	CurrentLevel int
}

// SubmitAnswer checks an answer and awards the question's points on the first correct submission.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	var (
		res *SubmitAnswerResponse
		p   *domain.Player
	)
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = s.runningPlayer(ctx, tx, req.PlayerID)
		if err != nil {
			return err
		}

		q, err := s.questions.Lookup(req.Level, req.QuestionID)
		if err != nil {
			return err
		}

		cleared, err := tx.HasClear(ctx, p.ID, q.ID)
		if err != nil {
			return err
		}
		if cleared {
			res = &SubmitAnswerResponse{Status: AnswerAlreadyAnswered, Score: p.Score, CurrentLevel: p.CurrentLevel}
			return nil
		}

		now := s.now()
		p.LastActive = now

		if Normalize(req.Answer) != Normalize(q.Answer) {
			res = &SubmitAnswerResponse{Status: AnswerWrong, Score: p.Score, CurrentLevel: p.CurrentLevel}
			return tx.UpdatePlayer(ctx, p)
		}

		if err := tx.InsertClear(ctx, domain.QuestionClear{
			PlayerID:   p.ID,
			QuestionID: q.ID,
			SessionID:  p.SessionID,
			Level:      req.Level,
			ClearedAt:  now,
		}); err != nil {
			return err
		}

		points := Points(req.Level, q.ID)
		p.Score += points
		p.CurrentLevel = max(p.CurrentLevel, req.Level)
		if err := tx.UpdatePlayer(ctx, p); err != nil {
			return err
		}

		if err := tx.InsertLog(ctx, domain.Log{
			SessionID:  p.SessionID,
			PlayerID:   p.ID,
			ActionType: domain.ActionLevelComplete,
			Details:    fmt.Sprintf("Level %d question %s answered correctly (+%d)", req.Level, q.ID, points),
			Timestamp:  now,
		}); err != nil {
			return err
		}

		res = &SubmitAnswerResponse{Status: AnswerCorrect, Score: p.Score, CurrentLevel: p.CurrentLevel}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Status == AnswerCorrect {
		s.publishScore(ctx, p)
	}

	return res, nil
}

type Verdict string

const (
	VerdictCorrect Verdict = "CORRECT"
	VerdictWrong   Verdict = "WRONG"
)

type SubmitCodeResponse struct {
	Verdict Verdict
	// Reason explains a verdict that was not produced by judging this submission:
	// "already_completed" or "already_attempted".
	Reason string
	Score  int
}

// SubmitCode judges the final coding challenge. Every player gets exactly one attempt; the attempt
// is recorded before the judge is consulted, so a failed or abandoned call still consumes it.
func (s *Service) SubmitCode(ctx context.Context, playerID, code string) (*SubmitCodeResponse, error) {
	var (
		res       *SubmitCodeResponse
		sessionID string
	)
	err := s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := s.runningPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}

		switch {
		case p.Completed():
			res = &SubmitCodeResponse{Verdict: VerdictCorrect, Reason: "already_completed", Score: p.Score}
			return nil
		case p.CodeAttempted:
			res = &SubmitCodeResponse{Verdict: VerdictWrong, Reason: "already_attempted", Score: p.Score}
			return nil
		}

		sessionID = p.SessionID
		p.CodeAttempted = true
		p.LastActive = s.now()
		return tx.UpdatePlayer(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	correct := s.judge.Judge(ctx, s.questions.FinalQuestionText(), code)

	var p *domain.Player
	err = s.store.Tx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = s.runningPlayer(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if p.SessionID != sessionID {
			return errors.New(errors.CodePermissionDenied, errors.WithMessagef("session is not running"))
		}

		ss, err := tx.GetSession(ctx, p.SessionID)
		if err != nil {
			return err
		}

		now := s.now()
		l := domain.Log{
			SessionID:  p.SessionID,
			PlayerID:   p.ID,
			ActionType: domain.ActionFinalChallengeFailed,
			Details:    "Coding challenge failed",
			Timestamp:  now,
		}

		res = &SubmitCodeResponse{Verdict: VerdictWrong}
		if correct {
			remaining := ss.RemainingSeconds
			elapsed := leaderboard.Elapsed(ss, remaining)
			p.Score += FinalChallengeBonus
			p.CurrentLevel = max(p.CurrentLevel, FinalLevel)
			p.CompletedAt = &now
			p.RemainingAtCompletion = &remaining
			p.ElapsedAtCompletion = &elapsed
			if err := tx.UpdatePlayer(ctx, p); err != nil {
				return err
			}

			l.ActionType = domain.ActionFinalChallengeComplete
			l.Details = leaderboard.CompletionDetails(remaining)
			res.Verdict = VerdictCorrect
		}
		res.Score = p.Score

		return tx.InsertLog(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	if correct {
		s.publishScore(ctx, p)
	}

	return res, nil
}

// runningPlayer loads the player and checks that its session accepts submissions.
func (s *Service) runningPlayer(ctx context.Context, tx store.Tx, playerID string) (*domain.Player, error) {
	p, err := tx.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	ss, err := tx.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status != domain.SessionStatusRunning {
		return nil, errors.New(errors.CodePermissionDenied, errors.WithMessagef("session is not running"))
	}

	return p, nil
}

func (s *Service) publishScore(ctx context.Context, p *domain.Player) {
	s.eb.Publish(ctx, domain.EventScoreUpdated{
		SessionID:  p.SessionID,
		PlayerID:   p.ID,
		Score:      p.Score,
		UpdateTime: s.now(),
	})
}

// Normalize collapses whitespace and folds case so answers compare loosely.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

type pointsKey struct {
	level int
	hint  byte
}

// points is keyed on the level and the path hint of the question id. Flat levels have no hint.
var points = map[pointsKey]int{
	{0, 0}:   10,
	{1, 0}:   15,
	{2, 0}:   20,
	{3, 'e'}: 10,
	{3, 'h'}: 40,
	{4, 'e'}: 15,
	{4, 'h'}: 60,
}

// Points returns the score for a question. The path is read from the question id:
// "q3_e1" is on the easy path, "q3_h1" on the hard one, and anything else has no path.
func Points(level int, questionID string) int {
	if p, ok := points[pointsKey{level, pathHint(questionID)}]; ok {
		return p
	}
	return defaultPoints
}

func pathHint(questionID string) byte {
	parts := strings.Split(questionID, "_")
	if len(parts) < 2 || parts[1] == "" {
		return 0
	}
	switch h := parts[1][0]; h {
	case 'e', 'h':
		return h
	}
	return 0
}
