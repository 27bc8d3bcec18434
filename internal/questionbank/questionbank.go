// Package questionbank holds the static, read-only question document.
//
// The document is keyed by level number. Each level comes in one of four shapes, decoded once
// at load time into a Level with an explicit Kind: a flat list, easy and hard branches, a flat
// list with a hidden bonus route, or a single free-text question for the final challenge.
package questionbank

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/victornm/questarena/internal/errors"
)

const (
	PathEasy        = "easy"
	PathHard        = "hard"
	PathHiddenRoute = "backlog_king"

	defaultFinalQuestion = "Solve the given programming problem."
	defaultHiddenTitle   = "Backlog King Route"
)

type Kind int

const (
	KindFlat Kind = iota + 1
	KindBranching
	KindHiddenRoute
	KindSingle
)

type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Answer  string   `json:"answer,omitempty"`
}

type Route struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

type Level struct {
	Number int
	Title  string
	Kind   Kind

	// Questions is set for KindFlat and KindHiddenRoute.
	Questions []Question
	// Easy and Hard are set for KindBranching.
	Easy, Hard []Question
	// Hidden is set for KindHiddenRoute.
	Hidden *Route
	// Single is set for KindSingle.
	Single *Question
}

type Bank struct {
	levels map[int]Level
}

type rawLevel struct {
	Title       string     `json:"title"`
	Questions   []Question `json:"questions"`
	Easy        []Question `json:"easy"`
	Hard        []Question `json:"hard"`
	HiddenRoute *Route     `json:"hidden_route"`
	Question    *Question  `json:"question"`
}

// Load reads and decodes a question document from a file.
func Load(path string) (*Bank, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("questionbank: read %s: %w", path, err)
	}

	return Parse(b)
}

func Parse(data []byte) (*Bank, error) {
	var raw map[string]rawLevel
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("questionbank: decode: %w", err)
	}

	b := &Bank{levels: make(map[int]Level, len(raw))}
	for key, rl := range raw {
		n, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("questionbank: level key %q is not a number", key)
		}

		l, err := rl.decode(n)
		if err != nil {
			return nil, fmt.Errorf("questionbank: level %d: %w", n, err)
		}
		b.levels[n] = l
	}

	return b, nil
}

func (rl rawLevel) decode(n int) (Level, error) {
	l := Level{Number: n, Title: rl.Title}

	switch {
	case rl.Easy != nil || rl.Hard != nil:
		l.Kind = KindBranching
		l.Easy, l.Hard = rl.Easy, rl.Hard
	case rl.HiddenRoute != nil:
		l.Kind = KindHiddenRoute
		l.Questions = rl.Questions
		l.Hidden = rl.HiddenRoute
		if l.Hidden.Title == "" {
			l.Hidden.Title = defaultHiddenTitle
		}
	case rl.Questions != nil:
		l.Kind = KindFlat
		l.Questions = rl.Questions
	case rl.Question != nil:
		l.Kind = KindSingle
		l.Single = rl.Question
	default:
		return Level{}, fmt.Errorf("unknown level shape")
	}

	return l, nil
}

func (b *Bank) Level(n int) (Level, error) {
	l, ok := b.levels[n]
	if !ok {
		return Level{}, errors.New(errors.CodeNotFound, errors.WithMessagef("level not found: %d", n))
	}
	return l, nil
}

// Lookup finds an answerable question by id within a level, across every path of that level.
// The final question is judged rather than answered, so it is never found here.
func (b *Bank) Lookup(level int, id string) (Question, error) {
	l, err := b.Level(level)
	if err != nil {
		return Question{}, err
	}

	var candidates [][]Question
	switch l.Kind {
	case KindFlat:
		candidates = [][]Question{l.Questions}
	case KindBranching:
		candidates = [][]Question{l.Easy, l.Hard}
	case KindHiddenRoute:
		candidates = [][]Question{l.Questions, l.Hidden.Questions}
	}

	for _, qs := range candidates {
		if i := slices.IndexFunc(qs, func(q Question) bool { return q.ID == id }); i >= 0 {
			return qs[i], nil
		}
	}

	return Question{}, errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: level=%d, id=%s", level, id))
}

// Selection is what a player sees when opening a level on a given path.
type Selection struct {
	Title     string
	Questions []Question
	Question  *Question
	// Paths is set when the level branches and no path was chosen.
	Paths []string
}

func (b *Bank) Select(level int, path string) (Selection, error) {
	l, err := b.Level(level)
	if err != nil {
		return Selection{}, err
	}

	switch l.Kind {
	case KindBranching:
		switch path {
		case PathEasy:
			return Selection{Title: l.Title, Questions: l.Easy}, nil
		case PathHard:
			return Selection{Title: l.Title, Questions: l.Hard}, nil
		default:
			return Selection{Title: l.Title, Paths: []string{PathEasy, PathHard}}, nil
		}
	case KindHiddenRoute:
		if path == PathHiddenRoute {
			return Selection{Title: l.Hidden.Title, Questions: l.Hidden.Questions}, nil
		}
		return Selection{Title: l.Title, Questions: l.Questions}, nil
	case KindSingle:
		return Selection{Title: l.Title, Question: l.Single}, nil
	default:
		return Selection{Title: l.Title, Questions: l.Questions}, nil
	}
}

// FinalQuestionText returns the text of the final coding challenge: the single-question level
// with the highest number.
func (b *Bank) FinalQuestionText() string {
	final := -1
	for n, l := range b.levels {
		if l.Kind == KindSingle && n > final {
			final = n
		}
	}

	if final < 0 || b.levels[final].Single.Text == "" {
		return defaultFinalQuestion
	}
	return b.levels[final].Single.Text
}
