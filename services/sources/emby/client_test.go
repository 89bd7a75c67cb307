package emby_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"watchtally/models"
	"watchtally/services/sources/emby"
)

const fallback = models.Date("2024-06-01")

func TestNormalizeDateFallbackChain(t *testing.T) {
	base := emby.Item{
		Name:         "Fallback Film",
		Type:         "Movie",
		RunTimeTicks: 36_000_000_000,
		UserData:     emby.UserData{Played: true, PlayCount: 1},
	}

	cases := []struct {
		name   string
		mutate func(*emby.Item)
		want   models.Date
	}{
		{"last played wins", func(i *emby.Item) {
			i.UserData.LastPlayedDate = "2024-03-15T08:00:00Z"
			i.DateCreated = "2024-02-01T00:00:00Z"
			i.PremiereDate = "2023-01-01T00:00:00Z"
		}, "2024-03-15"},
		{"date created next", func(i *emby.Item) {
			i.DateCreated = "2024-02-01T00:00:00Z"
			i.PremiereDate = "2023-01-01T00:00:00Z"
		}, "2024-02-01"},
		{"premiere date next", func(i *emby.Item) {
			i.PremiereDate = "2023-01-01T00:00:00Z"
		}, "2023-01-01"},
		{"fallback when all missing", func(i *emby.Item) {}, fallback},
	}

	for _, tc := range cases {
		item := base
		tc.mutate(&item)
		event, ok := emby.Normalize(item, fallback)
		if !ok {
			t.Fatalf("%s: expected item to normalize", tc.name)
		}
		if event.PlayedDate != tc.want {
			t.Errorf("%s: expected date %s, got %s", tc.name, tc.want, event.PlayedDate)
		}
	}
}

func TestNormalizePlayCountCoercion(t *testing.T) {
	event, ok := emby.Normalize(emby.Item{
		Name:         "Pilot",
		Type:         "Episode",
		SeriesName:   "Some Show",
		RunTimeTicks: 27_000_000_000,
		UserData:     emby.UserData{Played: true, PlayCount: 0},
	}, fallback)
	if !ok {
		t.Fatal("expected item to normalize")
	}
	if event.PlayCount != 1 || event.Seconds() != 2700 {
		t.Fatalf("expected 1 play / 2700 seconds, got %d / %d", event.PlayCount, event.Seconds())
	}
	if event.Kind != models.MediaKindEpisode {
		t.Fatalf("expected episode kind, got %s", event.Kind)
	}
}

func TestNormalizeSkipsZeroRuntime(t *testing.T) {
	_, ok := emby.Normalize(emby.Item{
		Name:     "Broken",
		Type:     "Movie",
		UserData: emby.UserData{Played: true, PlayCount: 1},
	}, fallback)
	if ok {
		t.Fatal("expected zero-runtime item to be skipped")
	}
}

func TestFetchEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "test-key" {
			t.Errorf("missing api_key parameter")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Items": []emby.Item{
				{
					Name: "Good", Type: "Movie", RunTimeTicks: 72_000_000_000,
					UserData: emby.UserData{Played: true, PlayCount: 1, LastPlayedDate: "2024-03-15T08:00:00Z"},
				},
			},
			"TotalRecordCount": 1,
		})
	}))
	defer server.Close()

	client := emby.NewClient(server.URL, "test-key")
	events, skipped, err := client.FetchEvents(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FetchEvents failed: %v", err)
	}
	if len(events) != 1 || skipped != 0 {
		t.Fatalf("expected 1 event and 0 skipped, got %d and %d", len(events), skipped)
	}
	if events[0].RuntimeSeconds != 7200 {
		t.Fatalf("expected 7200 seconds, got %d", events[0].RuntimeSeconds)
	}
}
