package tautulli_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"watchtally/models"
	"watchtally/services/sources/tautulli"
)

func TestNormalizeConvertsMilliseconds(t *testing.T) {
	played := time.Date(2024, 3, 15, 21, 30, 0, 0, time.UTC)
	event, ok := tautulli.Normalize(tautulli.HistoryRow{
		FullTitle:     "Some Show - Pilot",
		MediaType:     "episode",
		DurationMS:    2_700_000,
		Date:          played.Unix(),
		WatchedStatus: 1,
	})
	if !ok {
		t.Fatal("expected row to normalize")
	}
	if event.RuntimeSeconds != 2700 {
		t.Fatalf("expected 2700 seconds, got %d", event.RuntimeSeconds)
	}
	if event.PlayedDate != "2024-03-15" {
		t.Fatalf("expected date 2024-03-15, got %s", event.PlayedDate)
	}
	if event.PlayCount != 1 {
		t.Fatalf("expected single play, got %d", event.PlayCount)
	}
	if event.Kind != models.MediaKindEpisode {
		t.Fatalf("expected episode kind, got %s", event.Kind)
	}
}

func TestNormalizeSkipsUnwatchedRows(t *testing.T) {
	_, ok := tautulli.Normalize(tautulli.HistoryRow{
		FullTitle:  "Abandoned",
		MediaType:  "movie",
		DurationMS: 600_000,
		Date:       time.Now().Unix(),
	})
	if ok {
		t.Fatal("expected unwatched row to be skipped")
	}
}

func TestFetchEventsPages(t *testing.T) {
	// 3 rows total served one per page exercises the paging loop.
	rows := []tautulli.HistoryRow{
		{FullTitle: "Movie A", MediaType: "movie", DurationMS: 3_600_000, Date: 1710500000, WatchedStatus: 1},
		{FullTitle: "Movie B", MediaType: "movie", DurationMS: 1_800_000, Date: 1710586400, WatchedStatus: 1},
		{FullTitle: "Partial", MediaType: "movie", DurationMS: 900_000, Date: 1710672800, WatchedStatus: 0},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("cmd") != "get_history" || q.Get("apikey") != "test-key" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		start, _ := strconv.Atoi(q.Get("start"))
		page := []tautulli.HistoryRow{}
		if start < len(rows) {
			page = rows[start : start+1]
		}
		json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"result": "success",
				"data": map[string]any{
					"recordsTotal": len(rows),
					"data":         page,
				},
			},
		})
	}))
	defer server.Close()

	client := tautulli.NewClientWithPageSize(server.URL, "test-key", 1)
	events, skipped, err := client.FetchEvents(context.Background(), "7")
	if err != nil {
		t.Fatalf("FetchEvents failed: %v", err)
	}
	if len(events) != 2 || skipped != 1 {
		t.Fatalf("expected 2 events and 1 skipped, got %d and %d", len(events), skipped)
	}
}

func TestFetchEventsCollapsesRepeatPlays(t *testing.T) {
	// Two plays of the same movie on the same day plus one on the next
	// day: the same-day pair becomes one event with PlayCount 2.
	day1 := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	rows := []tautulli.HistoryRow{
		{FullTitle: "Rewatched", MediaType: "movie", DurationMS: 3_600_000, Date: day1.Add(10 * time.Hour).Unix(), WatchedStatus: 1},
		{FullTitle: "Rewatched", MediaType: "movie", DurationMS: 3_600_000, Date: day1.Add(20 * time.Hour).Unix(), WatchedStatus: 1},
		{FullTitle: "Rewatched", MediaType: "movie", DurationMS: 3_600_000, Date: day1.Add(30 * time.Hour).Unix(), WatchedStatus: 1},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"result": "success",
				"data": map[string]any{
					"recordsTotal": len(rows),
					"data":         rows,
				},
			},
		})
	}))
	defer server.Close()

	client := tautulli.NewClient(server.URL, "test-key")
	events, _, err := client.FetchEvents(context.Background(), "7")
	if err != nil {
		t.Fatalf("FetchEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].PlayCount != 2 || events[0].PlayedDate != "2024-03-15" {
		t.Fatalf("expected 2 plays on 2024-03-15, got %d on %s", events[0].PlayCount, events[0].PlayedDate)
	}
	if got := events[0].Seconds() + events[1].Seconds(); got != 10800 {
		t.Fatalf("expected 10800 total seconds, got %d", got)
	}
}

func TestFetchEventsTautulliError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{"result": "error", "message": "invalid apikey"},
		})
	}))
	defer server.Close()

	client := tautulli.NewClient(server.URL, "bad-key")
	if _, _, err := client.FetchEvents(context.Background(), "7"); err == nil {
		t.Fatal("expected error on tautulli failure response")
	}
}
