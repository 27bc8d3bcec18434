// Package judge asks an Ollama-served model whether a code submission solves the final challenge.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/victornm/questarena/internal/telemetry"
)

const (
	defaultURL           = "http://localhost:11434/api/generate"
	defaultModel         = "qwen2.5-coder:1.5b"
	defaultTimeout       = 60 * time.Second
	defaultMaxConcurrent = 4

	maxResponseBytes = 1 << 20
)

const promptTemplate = `Task: %s

Submission:
%s

Does this submission correctly solve the task? Reply with one word only: CORRECT or WRONG.`

type Config struct {
	URL   string
	Model string
	// Timeout bounds a whole judgement, including the wait for a free slot.
	Timeout       time.Duration
	MaxConcurrent int64
	HTTPClient    *http.Client
}

type Judge struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
	gate    *semaphore.Weighted
}

func New(c Config) *Judge {
	j := &Judge{
		url:     c.URL,
		model:   c.Model,
		timeout: c.Timeout,
		client:  c.HTTPClient,
	}

	if j.url == "" {
		j.url = defaultURL
	}
	if j.model == "" {
		j.model = defaultModel
	}
	if j.timeout <= 0 {
		j.timeout = defaultTimeout
	}
	if j.client == nil {
		j.client = &http.Client{}
	}

	n := c.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	j.gate = semaphore.NewWeighted(n)

	return j
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Judge reports whether the model considers code a correct solution to question.
// Any failure, including a timeout while waiting for a free slot, counts as wrong.
func (j *Judge) Judge(ctx context.Context, question, code string) bool {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	if err := j.gate.Acquire(ctx, 1); err != nil {
		slog.WarnContext(ctx, "judge: no free slot, falling back to WRONG", "error", err)
		telemetry.JudgeVerdicts.WithLabelValues("unavailable").Inc()
		return false
	}
	defer j.gate.Release(1)

	start := time.Now()
	verdict, err := j.ask(ctx, question, code)
	telemetry.JudgeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		slog.WarnContext(ctx, "judge: request failed, falling back to WRONG", "url", j.url, "error", err)
		telemetry.JudgeVerdicts.WithLabelValues("error").Inc()
		return false
	}

	correct := strings.Contains(verdict, "CORRECT")
	slog.InfoContext(ctx, "judge: verdict", "verdict", verdict, "correct", correct)
	if correct {
		telemetry.JudgeVerdicts.WithLabelValues("correct").Inc()
	} else {
		telemetry.JudgeVerdicts.WithLabelValues("wrong").Inc()
	}

	return correct
}

func (j *Judge) ask(ctx context.Context, question, code string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  j.model,
		Prompt: fmt.Sprintf(promptTemplate, strings.TrimSpace(question), strings.TrimSpace(code)),
		Options: generateOptions{
			Temperature: 0,
			NumPredict:  5,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var gr generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return strings.ToUpper(strings.TrimSpace(gr.Response)), nil
}
