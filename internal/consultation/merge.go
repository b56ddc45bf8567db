package consultation

import "pocket-council/internal/agent"

// MergeSummary applies the summary rule: the last non-fallback note result
// replaces the summary. Anything else leaves it untouched.
func MergeSummary(current string, results []agent.Result) (string, bool) {
	summary, changed := current, false
	for _, r := range results {
		if r.Category != agent.CategoryNote || r.Fallback {
			continue
		}
		summary, changed = r.Content, true
	}
	return summary, changed
}
