package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	listedTitleRe = regexp.MustCompile(`-\s*([^(]+)\s*\(URL:`)
	deviceLineRe  = regexp.MustCompile(`Device:\s*([^\n]+)`)

	bracketIDRe  = regexp.MustCompile(`\[(\d+)\]`)
	labelledIDRe = regexp.MustCompile(`(?:ID|id):\s*(\d+)`)
)

// ExtractDeviceTitle pulls a device name out of a device search result.
// It tries "- <title> (URL:", then "Device: <title>", then a title or name
// key in JSON text. No match returns "".
func ExtractDeviceTitle(text string) string {
	if m := listedTitleRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := deviceLineRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var obj map[string]any
		if json.Unmarshal([]byte(trimmed), &obj) == nil {
			return titleOf(obj)
		}
	case strings.HasPrefix(trimmed, "["):
		var arr []map[string]any
		if json.Unmarshal([]byte(trimmed), &arr) == nil && len(arr) > 0 {
			return titleOf(arr[0])
		}
	}
	return ""
}

func titleOf(obj map[string]any) string {
	if s, ok := obj["title"].(string); ok {
		return s
	}
	if s, ok := obj["name"].(string); ok {
		return s
	}
	return ""
}

// keywordGroup ranks guides whose line mentions one of lineWords when the
// query contains one of queryWords.
type keywordGroup struct {
	queryWords []string
	line       *regexp.Regexp
}

// Groups are tried in order; the first group that matches a line wins.
var guideKeywordGroups = []keywordGroup{
	{
		queryWords: []string{"disc", "drive", "disk", "dvd", "cd", "blu"},
		line:       regexp.MustCompile(`(?i)\[(\d+)\][^\n]*(disc|drive|disk)`),
	},
	{
		queryWords: []string{"screen", "display", "lcd", "glass"},
		line:       regexp.MustCompile(`(?i)\[(\d+)\][^\n]*(screen|display|lcd)`),
	},
	{
		queryWords: []string{"batter"},
		line:       regexp.MustCompile(`(?i)\[(\d+)\][^\n]*batter`),
	},
}

// ExtractGuideID picks the guide most relevant to query from a guide
// listing. query should already be normalized (lower-cased). Without a
// keyword match the first listed id is returned; no ids returns "".
func ExtractGuideID(guides, query string) string {
	ids := bracketIDRe.FindAllStringSubmatch(guides, -1)
	if len(ids) == 0 {
		ids = labelledIDRe.FindAllStringSubmatch(guides, -1)
	}
	if len(ids) == 0 {
		return ""
	}

	for _, g := range guideKeywordGroups {
		if !containsAny(query, g.queryWords) {
			continue
		}
		if m := g.line.FindStringSubmatch(guides); m != nil {
			return m[1]
		}
	}
	return ids[0][1]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
