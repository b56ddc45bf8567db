package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"pocket-council/internal/platform/metrics"
)

// Category groups agent output for the UI and for the summary merge rule.
type Category string

const (
	CategoryNote      Category = "note"
	CategoryDiagnosis Category = "diagnosis"
	CategoryAlert     Category = "alert"
	CategoryInsight   Category = "insight"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryNote, CategoryDiagnosis, CategoryAlert, CategoryInsight:
		return true
	}
	return false
}

// Result is the output of one agent for one orchestration run.
type Result struct {
	Agent      string   `json:"agent"`
	Category   Category `json:"category"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
	// Fallback marks content produced without a successful model call.
	Fallback bool `json:"fallback"`
	// Canned marks the demo note that bypasses the model entirely.
	Canned bool `json:"canned"`
}

// ModelProvider returns a chat model handle, or nil when no model is configured.
// An error is treated the same as nil.
type ModelProvider func() (model.BaseChatModel, error)

const offlineMarker = "Offline summary."

var offlinePattern = regexp.MustCompile(`^\[[^\]]+\] Offline summary\.`)

// IsOfflineContent reports whether text looks like fallback content. Results carry
// an explicit Fallback flag; this is only for text stored without one.
func IsOfflineContent(text string) bool {
	return offlinePattern.MatchString(strings.TrimSpace(text))
}

// Agent runs one Descriptor against the model with retry and offline fallback.
type Agent struct {
	desc     Descriptor
	provider ModelProvider
	policy   RetryPolicy
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Agent)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(a *Agent) { a.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Agent) {
		if fn != nil {
			a.sleep = fn
		}
	}
}

func New(desc Descriptor, provider ModelProvider, opts ...Option) *Agent {
	a := &Agent{
		desc:     desc,
		provider: provider,
		policy:   DefaultRetryPolicy(),
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Descriptor() Descriptor { return a.desc }

// Run never fails: model problems end up as fallback content.
func (a *Agent) Run(ctx context.Context, transcript string, snap Snapshot) Result {
	start := time.Now()
	res := a.run(ctx, transcript, snap)

	outcome := "live"
	if res.Fallback {
		outcome = "fallback"
	}
	metrics.AgentRuns.WithLabelValues(a.desc.Name, outcome).Inc()
	metrics.AgentDuration.WithLabelValues(a.desc.Name).Observe(time.Since(start).Seconds())
	return res
}

func (a *Agent) run(ctx context.Context, transcript string, snap Snapshot) Result {
	chat := a.model()
	if chat == nil {
		a.logger.Warn("agent running in fallback mode (no model configured)", "agent", a.desc.Name)
		return a.fallback(transcript, snap, nil)
	}

	msgs := a.desc.Messages(transcript, snap)
	attempts := a.policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := a.invoke(ctx, chat, msgs)
		if err == nil {
			metrics.ModelAttempts.WithLabelValues(a.desc.Name, "ok").Inc()
			return Result{Agent: a.desc.Name, Category: a.desc.Category, Content: text}
		}
		metrics.ModelAttempts.WithLabelValues(a.desc.Name, "error").Inc()
		lastErr = err

		if attempt == attempts || ctx.Err() != nil || !IsTransient(err) {
			break
		}
		wait := a.policy.Backoff(attempt)
		a.logger.Warn("model call failed, retrying",
			"agent", a.desc.Name,
			"attempt", attempt,
			"wait", wait,
			"error", err)
		if err := a.sleep(ctx, wait); err != nil {
			break
		}
	}

	a.logger.Warn("agent failed, returning fallback", "agent", a.desc.Name, "error", lastErr)
	return a.fallback(transcript, snap, lastErr)
}

func (a *Agent) model() model.BaseChatModel {
	if a.provider == nil {
		return nil
	}
	chat, err := a.provider()
	if err != nil {
		a.logger.Warn("model provider failed", "agent", a.desc.Name, "error", err)
		return nil
	}
	return chat
}

func (a *Agent) invoke(ctx context.Context, chat model.BaseChatModel, msgs []*schema.Message) (string, error) {
	if a.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.policy.AttemptTimeout)
		defer cancel()
	}
	out, err := chat.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", errors.New("model returned no message")
	}
	return out.Content, nil
}

func (a *Agent) fallback(transcript string, snap Snapshot, cause error) Result {
	content := a.desc.Fallback(transcript, snap)
	if cause != nil {
		content += fmt.Sprintf(" | error: %v", cause)
	}
	return Result{
		Agent:    a.desc.Name,
		Category: a.desc.Category,
		Content:  content,
		Fallback: true,
	}
}

// Fallback renders the deterministic offline text for this role.
func (d Descriptor) Fallback(transcript string, snap Snapshot) string {
	return fmt.Sprintf("[%s] %s Transcript len=%d. Key context: allergies=%s, medications=%s, complaint=%s",
		d.Name,
		offlineMarker,
		utf8.RuneCountInString(transcript),
		orNone(snap.Allergies),
		orNone(snap.Medications),
		orNone(snap.Complaint),
	)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
