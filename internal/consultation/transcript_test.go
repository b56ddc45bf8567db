package consultation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pocket-council/internal/agent"
)

func TestRenderTranscript(t *testing.T) {
	chunks := []TranscriptChunk{
		{Seq: 2, Speaker: "Patient", Text: "Headache for two days, nausea.", CapturedAt: baseTime.Add(time.Second)},
		{Seq: 1, Speaker: "Doctor", Text: "What brings you in?", CapturedAt: baseTime},
	}
	assert.Equal(t, "[Doctor] What brings you in?\n[Patient] Headache for two days, nausea.", RenderTranscript(chunks))
}

func TestRenderTranscript_SameInstantUsesSeq(t *testing.T) {
	chunks := []TranscriptChunk{
		{Seq: 5, Speaker: "patient", Text: "second", CapturedAt: baseTime},
		{Seq: 4, Speaker: "doctor", Text: "first", CapturedAt: baseTime},
	}
	assert.Equal(t, "[doctor] first\n[patient] second", RenderTranscript(chunks))
}

func TestRenderTranscript_Empty(t *testing.T) {
	assert.Equal(t, "", RenderTranscript(nil))
}

func TestMergeSummary(t *testing.T) {
	note := func(content string, fallback bool) agent.Result {
		return agent.Result{Agent: "Scribe", Category: agent.CategoryNote, Content: content, Fallback: fallback}
	}
	alert := agent.Result{Agent: "Guardian", Category: agent.CategoryAlert, Content: "No allergy conflicts."}

	tests := []struct {
		name    string
		results []agent.Result
		want    string
		changed bool
	}{
		{"no results", nil, "complaint", false},
		{"non-note only", []agent.Result{alert}, "complaint", false},
		{"fallback note ignored", []agent.Result{note("[Scribe] Offline summary.", true), alert}, "complaint", false},
		{"live note replaces", []agent.Result{note("S: headache", false), alert}, "S: headache", true},
		{"last live note wins", []agent.Result{note("first", false), note("second", false), note("offline", true)}, "second", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := MergeSummary("complaint", tt.results)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}
