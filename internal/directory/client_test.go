package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"repairbot/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeIFixit(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search/{q}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "device", r.URL.Query().Get("filter"))
		switch r.PathValue("q") {
		case "iphone 13 screen":
			w.Write([]byte(`{"results":[
				{"title":"iPhone 13","url":"https://www.ifixit.com/Device/iPhone_13"},
				{"title":"iPhone 13 Pro","url":"https://www.ifixit.com/Device/iPhone_13_Pro"}]}`))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`{"results":[]}`))
		}
	})
	mux.HandleFunc("/wikis/CATEGORY/{title}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.PathValue("title") {
		case "iPhone 13":
			w.Write([]byte(`{"guides":[
				{"guideid":145713,"title":"iPhone 13 Battery Replacement","difficulty":"Moderate"},
				{"guideid":145812,"title":"iPhone 13 Screen Replacement","difficulty":"Difficult"},
				{"title":"Mystery"}]}`))
		case "Empty":
			w.Write([]byte(`{"guides":[]}`))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/guides/{id}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.PathValue("id") != "145812" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"title":"iPhone 13 Screen Replacement",
			"difficulty":"Difficult",
			"time_required":"1 - 2 hours",
			"introduction":"Replace a cracked display.",
			"steps":[
				{"title":"Power off","lines":[{"text":"Shut down your phone."},{"text":""}],
				 "media":{"type":"image","data":[{"standard":"https://img/1.jpg"}]}},
				{"title":"","lines":[{"text":"Remove the pentalobe screws."}],
				 "media":{"type":"image","data":{"standard":"https://img/2.jpg"}}},
				{"title":"Heat","lines":[],"media":{"type":"video","data":{}}}
			],
			"tools":[{"text":"P2 Pentalobe Screwdriver"},{"text":""}]
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestSearchDevice(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeIFixit(t)
	c := New(srv.URL, 5*time.Second)

	out, err := c.SearchDevice(context.Background(), "iphone 13 screen")
	require.NoError(t, err)
	assert.Equal(t, "Found devices:\n"+
		"- iPhone 13 (URL: https://www.ifixit.com/Device/iPhone_13)\n"+
		"- iPhone 13 Pro (URL: https://www.ifixit.com/Device/iPhone_13_Pro)", out)

	out, err = c.SearchDevice(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Equal(t, "No devices found. Try a different search term.", out)

	_, err = c.SearchDevice(context.Background(), "boom")
	assert.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "500")
}

func TestListGuides(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeIFixit(t)
	c := New(srv.URL, 5*time.Second)

	out, err := c.ListGuides(context.Background(), "iPhone 13")
	require.NoError(t, err)
	assert.Equal(t, "Available repair guides:\n"+
		"- [145713] iPhone 13 Battery Replacement (Difficulty: Moderate)\n"+
		"- [145812] iPhone 13 Screen Replacement (Difficulty: Difficult)\n"+
		"- [N/A] Mystery (Difficulty: Unknown)", out)

	out, err = c.ListGuides(context.Background(), "Empty")
	require.NoError(t, err)
	assert.Equal(t, "No repair guides found for this device.", out)

	out, err = c.ListGuides(context.Background(), "Toaster")
	require.NoError(t, err)
	assert.Equal(t, "Status: Not Found - No guides available for this device", out)
}

func TestGetGuide(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeIFixit(t)
	c := New(srv.URL, 5*time.Second)

	out, err := c.GetGuide(context.Background(), "145812")
	require.NoError(t, err)
	want := strings.Join([]string{
		"**iPhone 13 Screen Replacement**",
		"Difficulty: Difficult | Time: 1 - 2 hours",
		"",
		"Introduction: Replace a cracked display.",
		"",
		"**Repair Steps:**",
		"",
		"**Step 1: Power off**",
		"- Shut down your phone.",
		"  ![Step 1 image](https://img/1.jpg)",
		"",
		"**Step 2: Step 2**",
		"- Remove the pentalobe screws.",
		"  ![Step 2 image](https://img/2.jpg)",
		"",
		"**Step 3: Heat**",
		"",
		"**Tools Required:**",
		"- P2 Pentalobe Screwdriver",
		"- Unknown tool",
		"",
	}, "\n")
	assert.Equal(t, want, out)

	out, err = c.GetGuide(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Status: Not Found - Guide does not exist", out)
}

func TestFormatGuideDetails_NoSteps(t *testing.T) {
	t.Parallel()
	out := formatGuideDetails(guideResponse{})
	assert.Equal(t, "**Unknown Guide**\nDifficulty: Unknown | Time: Unknown\n\nNo steps available.", out)
}

func TestClient_UsesCache(t *testing.T) {
	t.Parallel()
	srv, hits := newFakeIFixit(t)
	c := New(srv.URL, 5*time.Second, WithCache(cache.New(10, time.Minute)), WithUserAgent("test"))

	for range 3 {
		_, err := c.SearchDevice(context.Background(), "iphone 13 screen")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, hits.Load())

	// Failures are not cached.
	for range 2 {
		_, err := c.SearchDevice(context.Background(), "boom")
		require.Error(t, err)
	}
	assert.EqualValues(t, 3, hits.Load())
}

func TestClient_NetworkError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.ListGuides(context.Background(), "iPhone 13")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guides list")
}
