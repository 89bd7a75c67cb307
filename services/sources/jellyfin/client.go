package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"watchtally/models"
	"watchtally/services/sources"
)

// ticksPerSecond converts Jellyfin RunTimeTicks (100ns units) to seconds.
const ticksPerSecond = 10_000_000

// Client fetches played items from a Jellyfin server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Item is one entry of the Jellyfin /Users/{id}/Items response.
type Item struct {
	Name         string   `json:"Name"`
	Type         string   `json:"Type"`
	SeriesName   string   `json:"SeriesName,omitempty"`
	RunTimeTicks int64    `json:"RunTimeTicks"`
	UserData     UserData `json:"UserData"`
}

// UserData carries the per-user playback state attached to an item.
type UserData struct {
	Played         bool   `json:"Played"`
	PlayCount      int    `json:"PlayCount"`
	LastPlayedDate string `json:"LastPlayedDate,omitempty"`
}

type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// NewClient creates a Jellyfin API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Source() models.SourceID { return models.SourceJellyfin }

// FetchEvents pulls every played movie and episode for the given Jellyfin
// user and normalizes them. Items without a runtime or a playback date are
// skipped and counted.
func (c *Client) FetchEvents(ctx context.Context, externalUserID string) ([]models.WatchEvent, int, error) {
	params := url.Values{}
	params.Set("Recursive", "true")
	params.Set("IncludeItemTypes", "Movie,Episode")
	params.Set("Fields", "DateCreated,RunTimeTicks,UserData")
	params.Set("Filters", "IsPlayed")

	endpoint := fmt.Sprintf("%s/Users/%s/Items?%s", c.baseURL, url.PathEscape(externalUserID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: jellyfin: %v", sources.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("%w: jellyfin items failed: %s - %s", sources.ErrUnavailable, resp.Status, string(body))
	}

	var payload itemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("decode jellyfin response: %w", err)
	}

	events := make([]models.WatchEvent, 0, len(payload.Items))
	skipped := 0
	for _, item := range payload.Items {
		event, ok := Normalize(item)
		if !ok {
			skipped++
			continue
		}
		events = append(events, event)
	}
	return events, skipped, nil
}

// Normalize converts one Jellyfin item into a canonical watch event. It
// returns false for items that carry no usable runtime or playback date.
func Normalize(item Item) (models.WatchEvent, bool) {
	if item.RunTimeTicks <= 0 {
		return models.WatchEvent{}, false
	}
	date, ok := playedDate(item.UserData.LastPlayedDate)
	if !ok {
		return models.WatchEvent{}, false
	}

	playCount := item.UserData.PlayCount
	// Some servers mark items Played without ever bumping the counter.
	if playCount == 0 && item.UserData.Played {
		playCount = 1
	}
	if playCount <= 0 {
		return models.WatchEvent{}, false
	}

	return models.WatchEvent{
		Title:          item.Name,
		Kind:           mediaKind(item.Type),
		SeriesTitle:    item.SeriesName,
		RuntimeSeconds: item.RunTimeTicks / ticksPerSecond,
		PlayedDate:     date,
		PlayCount:      playCount,
		Source:         models.SourceJellyfin,
	}, true
}

// playedDate reduces an ISO-8601 timestamp to its calendar day.
func playedDate(s string) (models.Date, bool) {
	if len(s) < 10 {
		return "", false
	}
	date, err := models.ParseDate(s[:10])
	if err != nil {
		return "", false
	}
	return date, true
}

func mediaKind(itemType string) models.MediaKind {
	switch itemType {
	case "Movie":
		return models.MediaKindMovie
	case "Episode":
		return models.MediaKindEpisode
	}
	return models.MediaKindUnknown
}
