package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(context.Context, time.Duration) error { return nil }

func names(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Agent
	}
	return out
}

func TestOrchestrator_RosterOrderOffline(t *testing.T) {
	o, err := NewOrchestrator(DefaultRoster(), noModel, OrchestratorConfig{})
	require.NoError(t, err)

	transcript := "[Doctor] What brings you in?\n[Patient] Headache for two days, nausea."
	results := o.Run(context.Background(), transcript, Snapshot{})

	require.Len(t, results, 4)
	assert.Equal(t, []string{"Scribe", "Dr. House", "Guardian", "Dr. Watson"}, names(results))
	assert.Equal(t, []Category{CategoryNote, CategoryDiagnosis, CategoryAlert, CategoryInsight},
		[]Category{results[0].Category, results[1].Category, results[2].Category, results[3].Category})
	for _, r := range results {
		assert.True(t, r.Fallback)
		assert.True(t, IsOfflineContent(r.Content))
	}
}

// roleModel fails for the roles listed in failFor, panics for panicFor and
// answers the rest.
type roleModel struct {
	failFor  map[string]bool
	panicFor map[string]bool
	calls   atomic.Int32
	delay   func(prompt string) time.Duration
}

func (m *roleModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls.Add(1)
	prompt := input[0].Content
	if m.delay != nil {
		time.Sleep(m.delay(prompt))
	}
	for role := range m.panicFor {
		if strings.Contains(prompt, role) {
			panic("nil map write in " + role)
		}
	}
	for role := range m.failFor {
		if strings.Contains(prompt, role) {
			return nil, errors.New("status code: 502")
		}
	}
	return schema.AssistantMessage("live: "+firstLine(prompt), nil), nil
}

func (m *roleModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func TestOrchestrator_MixedLiveAndFallbackKeepsOrder(t *testing.T) {
	m := &roleModel{failFor: map[string]bool{"Dr. House": true}}
	o, err := NewOrchestrator(DefaultRoster(), providerOf(m), OrchestratorConfig{}, WithSleep(noWait))
	require.NoError(t, err)

	results := o.Run(context.Background(), "[Patient] Chest pain", testSnapshot)

	require.Len(t, results, 4)
	assert.Equal(t, []string{"Scribe", "Dr. House", "Guardian", "Dr. Watson"}, names(results))
	assert.False(t, results[0].Fallback)
	assert.True(t, results[1].Fallback)
	assert.Contains(t, results[1].Content, "error: status code: 502")
	assert.False(t, results[2].Fallback)
	assert.False(t, results[3].Fallback)
	// three live calls plus three attempts for the failing agent
	assert.Equal(t, int32(6), m.calls.Load())
}

func TestOrchestrator_ConcurrentKeepsRosterOrder(t *testing.T) {
	// earlier roster entries finish last
	m := &roleModel{delay: func(prompt string) time.Duration {
		switch {
		case strings.Contains(prompt, "Scribe"):
			return 40 * time.Millisecond
		case strings.Contains(prompt, "Dr. House"):
			return 20 * time.Millisecond
		}
		return 0
	}}
	o, err := NewOrchestrator(DefaultRoster(), providerOf(m), OrchestratorConfig{Concurrent: true, MaxParallel: 4})
	require.NoError(t, err)

	results := o.Run(context.Background(), "x", Snapshot{})
	assert.Equal(t, []string{"Scribe", "Dr. House", "Guardian", "Dr. Watson"}, names(results))
	for _, r := range results {
		assert.False(t, r.Fallback)
	}
}

func TestOrchestrator_PanickingAgentFallsBack(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		m := &roleModel{panicFor: map[string]bool{"Guardian": true}}
		o, err := NewOrchestrator(DefaultRoster(), providerOf(m), OrchestratorConfig{Concurrent: concurrent}, WithSleep(noWait))
		require.NoError(t, err)

		var results []Result
		require.NotPanics(t, func() {
			results = o.Run(context.Background(), "[Patient] Chest pain", testSnapshot)
		})

		require.Len(t, results, 4, "concurrent=%v", concurrent)
		assert.Equal(t, []string{"Scribe", "Dr. House", "Guardian", "Dr. Watson"}, names(results))
		assert.False(t, results[0].Fallback)
		assert.False(t, results[1].Fallback)
		assert.True(t, results[2].Fallback)
		assert.Equal(t, CategoryAlert, results[2].Category)
		assert.Contains(t, results[2].Content, "agent panicked: nil map write in Guardian")
		assert.False(t, results[3].Fallback)
	}
}

func TestOrchestrator_CannedNote(t *testing.T) {
	m := &roleModel{}
	o, err := NewOrchestrator(DefaultRoster(), providerOf(m), OrchestratorConfig{CannedNote: true})
	require.NoError(t, err)

	results := o.Run(context.Background(), "x", Snapshot{})
	require.Len(t, results, 4)

	note := results[0]
	assert.Equal(t, "Scribe", note.Agent)
	assert.Equal(t, CategoryNote, note.Category)
	assert.True(t, note.Canned)
	assert.False(t, note.Fallback)
	require.NotNil(t, note.Confidence)
	assert.Equal(t, 1.0, *note.Confidence)
	// the note agent never reached the model
	assert.Equal(t, int32(3), m.calls.Load())
	for _, r := range results[1:] {
		assert.False(t, r.Canned)
	}
}

func TestOrchestrator_CannedNoteWithoutModel(t *testing.T) {
	o, err := NewOrchestrator(DefaultRoster(), noModel, OrchestratorConfig{CannedNote: true})
	require.NoError(t, err)

	results := o.Run(context.Background(), "", Snapshot{})
	assert.True(t, results[0].Canned)
	assert.False(t, results[0].Fallback)
	for _, r := range results[1:] {
		assert.True(t, r.Fallback)
	}
}

func TestNewOrchestrator_RejectsBadRoster(t *testing.T) {
	_, err := NewOrchestrator(nil, noModel, OrchestratorConfig{})
	assert.Error(t, err)

	dup := []Descriptor{Scribe, Scribe}
	_, err = NewOrchestrator(dup, noModel, OrchestratorConfig{})
	assert.ErrorContains(t, err, "duplicate")

	bad := Scribe
	bad.Name = "Other"
	bad.Category = "summary"
	_, err = NewOrchestrator([]Descriptor{bad}, noModel, OrchestratorConfig{})
	assert.ErrorContains(t, err, "unknown category")

	empty := Scribe
	empty.SystemPrompt = " "
	_, err = NewOrchestrator([]Descriptor{empty}, noModel, OrchestratorConfig{})
	assert.ErrorContains(t, err, "no system prompt")
}

func TestOrchestrator_Roster(t *testing.T) {
	o, err := NewOrchestrator(DefaultRoster(), noModel, OrchestratorConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRoster(), o.Roster())
}
