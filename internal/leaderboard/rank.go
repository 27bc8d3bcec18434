package leaderboard

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/store"
)

var remainingRe = regexp.MustCompile(`remaining_seconds=(-?\d+)`)

// Compute returns the leaderboard of a session: the frozen snapshot when the session is frozen,
// otherwise freshly ranked rows.
func Compute(ctx context.Context, tx store.Tx, s *domain.Session) (*domain.Leaderboard, error) {
	l := &domain.Leaderboard{
		SessionID: s.ID,
		Frozen:    s.LeaderboardFrozen,
	}

	if s.LeaderboardFrozen && len(s.FrozenSnapshot) > 0 {
		l.Rows = decodeSnapshot(ctx, s)
		return l, nil
	}

	rows, err := Rank(ctx, tx, s)
	if err != nil {
		return nil, err
	}
	l.Rows = rows
	return l, nil
}

func decodeSnapshot(ctx context.Context, s *domain.Session) []domain.LeaderboardRow {
	var rows []domain.LeaderboardRow
	if err := json.Unmarshal(s.FrozenSnapshot, &rows); err != nil {
		slog.WarnContext(ctx, "leaderboard: decode frozen snapshot failed", "session_id", s.ID, "error", err)
		return []domain.LeaderboardRow{}
	}
	return rows
}

// Rank computes fresh rows for every non-banned player of the session.
func Rank(ctx context.Context, tx store.Tx, s *domain.Session) ([]domain.LeaderboardRow, error) {
	players, err := tx.ListPlayers(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	rows := make([]domain.LeaderboardRow, 0, len(players))
	for _, p := range players {
		if p.IsBanned {
			continue
		}

		taken, err := TimeTaken(ctx, tx, s, &p)
		if err != nil {
			return nil, err
		}

		rows = append(rows, domain.LeaderboardRow{
			PlayerID:         p.ID,
			Username:         p.Username,
			Score:            p.Score,
			CurrentLevel:     p.CurrentLevel,
			TimeTakenSeconds: taken,
			IsCompleted:      p.Completed(),
		})
	}

	Sort(rows)
	return rows, nil
}

// Sort orders rows by score descending, then time taken ascending, then username case-insensitively.
func Sort(rows []domain.LeaderboardRow) {
	slices.SortStableFunc(rows, func(a, b domain.LeaderboardRow) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.TimeTakenSeconds, b.TimeTakenSeconds),
			cmp.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username)),
		)
	})
}

// TimeTaken measures a player's elapsed time on the shared session countdown.
// Completed players are measured at the countdown value recorded when they finished,
// everyone else at the live countdown.
func TimeTaken(ctx context.Context, tx store.Tx, s *domain.Session, p *domain.Player) (int, error) {
	remaining := s.RemainingSeconds

	if p.Completed() {
		switch {
		case p.ElapsedAtCompletion != nil:
			return min(max(*p.ElapsedAtCompletion, 0), s.TotalSeconds()), nil
		case p.RemainingAtCompletion != nil:
			remaining = *p.RemainingAtCompletion
		default:
			// Rows written before the structured field existed only carry the value in the log text.
			v, ok, err := remainingFromLogs(ctx, tx, s, p)
			if err != nil {
				return 0, err
			}
			if ok {
				remaining = v
			}
		}
	}

	return Elapsed(s, remaining), nil
}

// Elapsed is how long the session has run when its countdown shows remaining.
func Elapsed(s *domain.Session, remaining int) int {
	total := s.TotalSeconds()
	return total - min(max(remaining, 0), total)
}

func remainingFromLogs(ctx context.Context, tx store.Tx, s *domain.Session, p *domain.Player) (int, bool, error) {
	logs, err := tx.ListPlayerLogs(ctx, p.ID, s.ID, domain.ActionFinalChallengeComplete)
	if err != nil {
		return 0, false, fmt.Errorf("list player logs: %w", err)
	}

	for _, l := range logs {
		m := remainingRe.FindStringSubmatch(l.Details)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return v, true, nil
	}

	return 0, false, nil
}

// CompletionDetails is the log detail recorded when a player solves the final challenge.
func CompletionDetails(remaining int) string {
	return fmt.Sprintf("Coding challenge solved; remaining_seconds=%d", remaining)
}
