package agent

import (
	"strings"

	"repairbot/internal/turn"
)

var negativeSignals = []string{"no results found", "no devices found"}

// HasOfficialResult reports whether any directory result is worth showing
// instead of web content. It depends on nothing but results.
func HasOfficialResult(results []turn.Result) bool {
	for _, r := range results {
		if isOfficial(r) {
			return true
		}
	}
	return false
}

func isOfficial(r turn.Result) bool {
	if r.Kind == turn.KindError {
		return false
	}
	lower := strings.ToLower(r.Content)
	for _, neg := range negativeSignals {
		if strings.Contains(lower, neg) {
			return false
		}
	}

	listed := (strings.Contains(lower, "found devices:") || strings.Contains(lower, "found guides:")) &&
		strings.Contains(r.Content, "-")
	guideLink := strings.Contains(lower, "[guide]") && strings.Contains(lower, "url:")
	directoryLink := strings.Contains(lower, "ifixit.com") && strings.Contains(lower, "url:")
	return listed || guideLink || directoryLink
}
