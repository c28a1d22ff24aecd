package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDeviceTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"listed device", "- PlayStation 5 (URL: http://x)", "PlayStation 5"},
		{"first of several", "Found devices:\n- iPhone 13 (URL: https://www.ifixit.com/Device/iPhone_13)\n- iPhone 13 Pro (URL: u)", "iPhone 13"},
		{"device label", "Device: MacBook Pro 13\" 2019\nOther text", "MacBook Pro 13\" 2019"},
		{"json object title", `{"title": "Nintendo Switch", "name": "switch"}`, "Nintendo Switch"},
		{"json object name", `{"name": "Steam Deck"}`, "Steam Deck"},
		{"json array", `[{"name": "Pixel 7"}, {"title": "Pixel 8"}]`, "Pixel 7"},
		{"empty json array", `[]`, ""},
		{"broken json", `{"title": `, ""},
		{"plain text", "No devices found. Try a different search term.", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDeviceTitle(tt.in))
		})
	}
}

const ps5Guides = `Available repair guides:
- [101] PlayStation 5 Battery Replacement (Difficulty: Easy)
- [102] PlayStation 5 Screen Replacement (Difficulty: Moderate)
- [103] PlayStation 5 Disc Drive Replacement (Difficulty: Difficult)`

func TestExtractGuideID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		guides string
		query  string
		want   string
	}{
		{"screen keyword", "[101] Battery Replacement\n[102] Screen Replacement", "my screen is cracked", "102"},
		{"no keyword takes first", "[101] Battery Replacement\n[102] Screen Replacement", "it won't turn on", "101"},
		{"keyword group without matching line", "[101] Fan Replacement\n[102] Thermal Paste", "screen flicker", "101"},
		{"battery", ps5Guides, "battery drains fast", "101"},
		{"disc outranks screen", ps5Guides, "disc drive and screen both broken", "103"},
		{"dvd query matches drive line", ps5Guides, "dvd won't eject", "103"},
		{"lcd query matches display line", "[7] Logic Board\n[8] Display Assembly", "lcd is dead", "8"},
		{"case insensitive line match", "[9] Fan\n[10] SCREEN swap", "screen", "10"},
		{"labelled ids", "ID: 55 Battery\nid: 56 Screen", "anything", "55"},
		{"labelled ids ignore keyword lines", "ID: 55 Battery\nid: 56 Screen", "screen", "55"},
		{"no ids", "Status: Not Found - No guides available for this device", "screen", ""},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractGuideID(tt.guides, tt.query))
		})
	}
}
