package directory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type searchResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"results"`
}

type categoryResponse struct {
	Guides []struct {
		GuideID    *int64 `json:"guideid"`
		Title      string `json:"title"`
		Difficulty string `json:"difficulty"`
	} `json:"guides"`
}

type guideResponse struct {
	Title        string      `json:"title"`
	Introduction string      `json:"introduction"`
	IntroRaw     string      `json:"introduction_raw"`
	Difficulty   string      `json:"difficulty"`
	TimeRequired string      `json:"time_required"`
	Steps        []guideStep `json:"steps"`
	Tools        []struct {
		Text string `json:"text"`
	} `json:"tools"`
}

type guideStep struct {
	Title string `json:"title"`
	Lines []struct {
		Text string `json:"text"`
	} `json:"lines"`
	Media struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"media"`
}

type imageData struct {
	Standard string `json:"standard"`
}

// imageURL returns the standard-size image of a step. The API sends either
// one image object or a list of them.
func (s guideStep) imageURL() string {
	if s.Media.Type != "image" || len(s.Media.Data) == 0 {
		return ""
	}
	var one imageData
	if err := json.Unmarshal(s.Media.Data, &one); err == nil && one.Standard != "" {
		return one.Standard
	}
	var many []imageData
	if err := json.Unmarshal(s.Media.Data, &many); err == nil {
		for _, img := range many {
			if img.Standard != "" {
				return img.Standard
			}
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatSearchResults(raw searchResponse) string {
	if len(raw.Results) == 0 {
		return "No devices found. Try a different search term."
	}
	var sb strings.Builder
	sb.WriteString("Found devices:")
	for i, item := range raw.Results {
		if i == maxDevices {
			break
		}
		fmt.Fprintf(&sb, "\n- %s (URL: %s)", orDefault(item.Title, "Unknown"), item.URL)
	}
	return sb.String()
}

func formatGuidesList(raw categoryResponse) string {
	if len(raw.Guides) == 0 {
		return "No repair guides found for this device."
	}
	var sb strings.Builder
	sb.WriteString("Available repair guides:")
	for i, g := range raw.Guides {
		if i == maxGuides {
			break
		}
		id := "N/A"
		if g.GuideID != nil {
			id = strconv.FormatInt(*g.GuideID, 10)
		}
		fmt.Fprintf(&sb, "\n- [%s] %s (Difficulty: %s)", id, orDefault(g.Title, "Unknown"), orDefault(g.Difficulty, "Unknown"))
	}
	return sb.String()
}

func formatGuideDetails(raw guideResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**\n", orDefault(raw.Title, "Unknown Guide"))
	fmt.Fprintf(&sb, "Difficulty: %s | Time: %s\n\n", orDefault(raw.Difficulty, "Unknown"), orDefault(raw.TimeRequired, "Unknown"))

	if intro := orDefault(raw.Introduction, raw.IntroRaw); intro != "" {
		fmt.Fprintf(&sb, "Introduction: %s\n\n", intro)
	}

	if len(raw.Steps) == 0 {
		sb.WriteString("No steps available.")
		return sb.String()
	}

	sb.WriteString("**Repair Steps:**\n\n")
	for i, step := range raw.Steps {
		n := i + 1
		fmt.Fprintf(&sb, "**Step %d: %s**\n", n, orDefault(step.Title, fmt.Sprintf("Step %d", n)))
		for _, line := range step.Lines {
			if line.Text != "" {
				fmt.Fprintf(&sb, "- %s\n", line.Text)
			}
		}
		if img := step.imageURL(); img != "" {
			fmt.Fprintf(&sb, "  ![Step %d image](%s)\n", n, img)
		}
		sb.WriteString("\n")
	}

	if len(raw.Tools) > 0 {
		sb.WriteString("**Tools Required:**\n")
		for _, t := range raw.Tools {
			fmt.Fprintf(&sb, "- %s\n", orDefault(t.Text, "Unknown tool"))
		}
	}
	return sb.String()
}
