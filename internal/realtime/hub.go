// Package realtime pushes game events to connected observers and mirrors them to Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/questarena/internal/domain"
	"github.com/victornm/questarena/internal/event"
	"github.com/victornm/questarena/internal/telemetry"
)

const (
	defaultSendTimeout   = 2 * time.Second
	defaultMaxConcurrent = 100
)

// Message is the envelope every observer receives.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Observer is a connected client. Send must honor ctx.
type Observer interface {
	Send(ctx context.Context, m Message) error
	Close() error
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	EventBus *event.Bus
	// Redis mirrors every broadcast to "<prefix>:live". Optional.
	Redis         Redis
	Prefix        string
	SendTimeout   time.Duration
	MaxConcurrent int
}

type Hub struct {
	redis         Redis
	prefix        string
	sendTimeout   time.Duration
	maxConcurrent int

	mu        sync.Mutex
	observers map[Observer]struct{}

	// ended holds sessions already announced as ended. Ended is terminal, so a late update
	// from a tick that raced the end is dropped.
	endedMu sync.Mutex
	ended   map[string]struct{}
}

func NewHub(c Config) *Hub {
	h := &Hub{
		redis:         c.Redis,
		prefix:        c.Prefix,
		sendTimeout:   c.SendTimeout,
		maxConcurrent: c.MaxConcurrent,
		observers:     make(map[Observer]struct{}),
		ended:         make(map[string]struct{}),
	}
	if h.sendTimeout <= 0 {
		h.sendTimeout = defaultSendTimeout
	}
	if h.maxConcurrent <= 0 {
		h.maxConcurrent = defaultMaxConcurrent
	}

	if c.EventBus != nil {
		// One ordering for both events, so observers see them in the order they were published.
		o := event.NewOrdering()
		c.EventBus.Subscribe(domain.EventNameSessionUpdated, func(ctx context.Context, e event.Event) error {
			return h.PublishSessionUpdated(ctx, e.(domain.EventSessionUpdated))
		}, event.WithOrdering(o))
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return h.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		}, event.WithOrdering(o))
	}

	return h
}

type (
	SessionPayload struct {
		SessionID        string `json:"session_id"`
		Name             string `json:"name"`
		Status           string `json:"status"`
		RemainingSeconds int    `json:"remaining_seconds"`
		DurationMinutes  int    `json:"duration_minutes"`
	}

	LeaderboardPayload struct {
		SessionID string                  `json:"session_id"`
		Frozen    bool                    `json:"frozen"`
		Rows      []domain.LeaderboardRow `json:"rows"`
	}
)

func (h *Hub) PublishSessionUpdated(ctx context.Context, e domain.EventSessionUpdated) error {
	ss := e.Session
	if h.stale(ss) {
		slog.DebugContext(ctx, "realtime: dropped stale session update", "session_id", ss.ID, "status", ss.Status)
		return nil
	}

	return h.Broadcast(ctx, e.Name(), SessionPayload{
		SessionID:        ss.ID,
		Name:             ss.Name,
		Status:           string(ss.Status),
		RemainingSeconds: ss.RemainingSeconds,
		DurationMinutes:  ss.DurationMinutes,
	})
}

func (h *Hub) stale(ss domain.Session) bool {
	h.endedMu.Lock()
	defer h.endedMu.Unlock()

	if _, ok := h.ended[ss.ID]; ok {
		return ss.Status != domain.SessionStatusEnded
	}
	if ss.Status == domain.SessionStatusEnded {
		h.ended[ss.ID] = struct{}{}
	}
	return false
}

func (h *Hub) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard
	rows := l.Rows
	if rows == nil {
		rows = []domain.LeaderboardRow{}
	}

	return h.Broadcast(ctx, e.Name(), LeaderboardPayload{
		SessionID: l.SessionID,
		Frozen:    l.Frozen,
		Rows:      rows,
	})
}

// Connect registers an observer. Connecting the same observer twice is a no-op.
func (h *Hub) Connect(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[o]; ok {
		return
	}
	h.observers[o] = struct{}{}
	telemetry.Observers.Inc()
}

// Disconnect unregisters and closes an observer. Unknown observers are ignored.
func (h *Hub) Disconnect(o Observer) {
	h.mu.Lock()
	_, ok := h.observers[o]
	delete(h.observers, o)
	h.mu.Unlock()

	if !ok {
		return
	}

	telemetry.Observers.Dec()
	if err := o.Close(); err != nil {
		slog.Debug("realtime: close observer failed", "error", err)
	}
}

// Len returns the number of connected observers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.observers)
}

// Broadcast sends the message to every observer concurrently. Observers that fail or time out
// are disconnected once every send has finished. Delivery failures never surface to the caller;
// the returned error only reports a message that cannot be encoded.
func (h *Hub) Broadcast(ctx context.Context, name string, payload any) error {
	m := Message{Event: name, Payload: payload}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", name, err)
	}

	telemetry.Broadcasts.WithLabelValues(name).Inc()
	h.mirror(ctx, name, b)

	h.mu.Lock()
	observers := make([]Observer, 0, len(h.observers))
	for o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.Unlock()

	var (
		eg    errgroup.Group
		mu    sync.Mutex
		stale []Observer
	)
	eg.SetLimit(h.maxConcurrent)

	for _, o := range observers {
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()

			if err := o.Send(ctx, m); err != nil {
				mu.Lock()
				stale = append(stale, o)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, o := range stale {
		telemetry.StaleObservers.Inc()
		h.Disconnect(o)
	}

	return nil
}

func (h *Hub) mirror(ctx context.Context, name string, b []byte) {
	if h.redis == nil {
		return
	}

	if err := h.redis.Publish(ctx, h.channel(), b).Err(); err != nil {
		slog.ErrorContext(ctx, "realtime: mirror to redis failed", "event", name, "error", err)
	}
}

func (h *Hub) channel() string {
	return fmt.Sprintf("%s:live", h.prefix)
}
