package emby

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

const ticksPerSecond = 10_000_000

// Client fetches played items from an Emby server. The API is a close
// sibling of Jellyfin's, but Emby frequently omits LastPlayedDate, so
// normalization falls back through the item's library and release dates.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Item is one entry of the Emby /Users/{id}/Items response.
type Item struct {
	Name         string   `json:"Name"`
	Type         string   `json:"Type"`
	SeriesName   string   `json:"SeriesName,omitempty"`
	RunTimeTicks int64    `json:"RunTimeTicks"`
	DateCreated  string   `json:"DateCreated,omitempty"`
	PremiereDate string   `json:"PremiereDate,omitempty"`
	UserData     UserData `json:"UserData"`
}

type UserData struct {
	Played         bool   `json:"Played"`
	PlayCount      int    `json:"PlayCount"`
	LastPlayedDate string `json:"LastPlayedDate,omitempty"`
}

type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Source() models.SourceID { return models.SourceEmby }

// FetchEvents pulls every played movie and episode for the given Emby user.
func (c *Client) FetchEvents(ctx context.Context, externalUserID string) ([]models.WatchEvent, int, error) {
	params := url.Values{}
	params.Set("Recursive", "true")
	params.Set("IncludeItemTypes", "Movie,Episode")
	params.Set("Fields", "DateCreated,PremiereDate,RunTimeTicks,UserData")
	params.Set("Filters", "IsPlayed")
	params.Set("api_key", c.apiKey)

	endpoint := fmt.Sprintf("%s/Users/%s/Items?%s", c.baseURL, url.PathEscape(externalUserID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: emby: %v", sources.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("%w: emby items failed: %s - %s", sources.ErrUnavailable, resp.Status, string(body))
	}

	var payload itemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("decode emby response: %w", err)
	}

	events := make([]models.WatchEvent, 0, len(payload.Items))
	skipped := 0
	for _, item := range payload.Items {
		event, ok := Normalize(item, models.Today())
		if !ok {
			skipped++
			continue
		}
		events = append(events, event)
	}
	return events, skipped, nil
}

// Normalize converts one Emby item into a canonical watch event. The
// playback date falls back LastPlayedDate, DateCreated, PremiereDate, then
// fallbackDate, so a played item is never dropped for a missing date alone.
func Normalize(item Item, fallbackDate models.Date) (models.WatchEvent, bool) {
	if item.RunTimeTicks <= 0 {
		return models.WatchEvent{}, false
	}

	playCount := item.UserData.PlayCount
	if playCount == 0 && item.UserData.Played {
		playCount = 1
	}
	if playCount <= 0 {
		return models.WatchEvent{}, false
	}

	date := fallbackDate
	for _, candidate := range []string{item.UserData.LastPlayedDate, item.DateCreated, item.PremiereDate} {
		if d, ok := isoDate(candidate); ok {
			date = d
			break
		}
	}

	return models.WatchEvent{
		Title:          item.Name,
		Kind:           mediaKind(item.Type),
		SeriesTitle:    item.SeriesName,
		RuntimeSeconds: item.RunTimeTicks / ticksPerSecond,
		PlayedDate:     date,
		PlayCount:      playCount,
		Source:         models.SourceEmby,
	}, true
}

func isoDate(s string) (models.Date, bool) {
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
