package tautulli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"watchtally/models"
	"watchtally/services/sources"
)

const historyPageSize = 1000

// Client fetches Plex watch history through a Tautulli instance. Plex has no
// first-party history API, so the Plex source is backed by Tautulli's
// get_history command.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
}

// HistoryRow is one entry of the Tautulli get_history response. DurationMS
// is reported in milliseconds, Date as a unix timestamp.
type HistoryRow struct {
	Title            string `json:"title"`
	FullTitle        string `json:"full_title"`
	GrandparentTitle string `json:"grandparent_title,omitempty"`
	MediaType        string `json:"media_type"`
	DurationMS       int64  `json:"duration"`
	Date             int64  `json:"date"`
	WatchedStatus    int    `json:"watched_status"`
}

type historyResponse struct {
	Response struct {
		Result  string `json:"result"`
		Message string `json:"message,omitempty"`
		Data    struct {
			RecordsTotal int          `json:"recordsTotal"`
			Data         []HistoryRow `json:"data"`
		} `json:"data"`
	} `json:"response"`
}

func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithPageSize(baseURL, apiKey, historyPageSize)
}

// NewClientWithPageSize creates a client with a custom history page size.
func NewClientWithPageSize(baseURL, apiKey string, pageSize int) *Client {
	if pageSize < 1 {
		pageSize = historyPageSize
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Source() models.SourceID { return models.SourcePlex }

// FetchEvents pulls the Plex watch history for the given Tautulli user ID,
// paging until the server runs dry. Rows Tautulli does not consider watched
// are skipped and counted. History rows are one-per-play, so repeats of the
// same title on the same day collapse into a single event with the play
// count raised.
func (c *Client) FetchEvents(ctx context.Context, externalUserID string) ([]models.WatchEvent, int, error) {
	var events []models.WatchEvent
	index := make(map[string]int)
	skipped := 0

	for start := 0; ; start += c.pageSize {
		rows, total, err := c.historyPage(ctx, externalUserID, start)
		if err != nil {
			return nil, 0, err
		}
		for _, row := range rows {
			event, ok := Normalize(row)
			if !ok {
				skipped++
				continue
			}
			key := event.Title + "\x00" + string(event.PlayedDate)
			if i, seen := index[key]; seen {
				events[i].PlayCount++
				continue
			}
			index[key] = len(events)
			events = append(events, event)
		}
		if start+len(rows) >= total || len(rows) == 0 {
			break
		}
	}
	return events, skipped, nil
}

func (c *Client) historyPage(ctx context.Context, userID string, start int) ([]HistoryRow, int, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("cmd", "get_history")
	params.Set("user_id", userID)
	params.Set("start", strconv.Itoa(start))
	params.Set("length", strconv.Itoa(c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: tautulli: %v", sources.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("%w: tautulli history failed: %s - %s", sources.ErrUnavailable, resp.Status, string(body))
	}

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("decode tautulli response: %w", err)
	}
	if payload.Response.Result != "success" {
		return nil, 0, fmt.Errorf("%w: tautulli: %s", sources.ErrUnavailable, payload.Response.Message)
	}
	return payload.Response.Data.Data, payload.Response.Data.RecordsTotal, nil
}

// Normalize converts one Tautulli history row into a canonical watch event.
// A row is a single play, so PlayCount starts at 1; FetchEvents raises it
// when the same title repeats on the same day. The millisecond duration is
// converted to whole seconds.
func Normalize(row HistoryRow) (models.WatchEvent, bool) {
	if row.WatchedStatus <= 0 || row.DurationMS <= 0 || row.Date <= 0 {
		return models.WatchEvent{}, false
	}

	title := row.FullTitle
	if title == "" {
		title = row.Title
	}

	return models.WatchEvent{
		Title:          title,
		Kind:           mediaKind(row.MediaType),
		SeriesTitle:    row.GrandparentTitle,
		RuntimeSeconds: row.DurationMS / 1000,
		PlayedDate:     models.DateOf(time.Unix(row.Date, 0)),
		PlayCount:      1,
		Source:         models.SourcePlex,
	}, true
}

func mediaKind(mediaType string) models.MediaKind {
	switch mediaType {
	case "movie":
		return models.MediaKindMovie
	case "episode":
		return models.MediaKindEpisode
	}
	return models.MediaKindUnknown
}
