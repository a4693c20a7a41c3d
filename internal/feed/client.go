package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vital-watch/internal/models"
)

var (
	// ErrMissingChannel is returned before any request when no channel id is given.
	ErrMissingChannel = errors.New("channel id is required")
	// ErrNoData means the provider answered but the feed list was empty.
	ErrNoData = errors.New("no feed data")
)

// FetchError is a transport failure: the request failed or the provider returned non-2xx.
type FetchError struct {
	ChannelID  string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch channel %s: provider returned status %d", e.ChannelID, e.StatusCode)
	}
	return fmt.Sprintf("fetch channel %s: %v", e.ChannelID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client reads channel feeds from the telemetry provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Latest returns the newest results records, oldest first.
func (c *Client) Latest(ctx context.Context, channelID string, results int) ([]models.FeedRecord, error) {
	q := url.Values{}
	q.Set("results", strconv.Itoa(results))
	return c.fetch(ctx, channelID, q)
}

// Since returns every record created at or after start, oldest first.
func (c *Client) Since(ctx context.Context, channelID string, start time.Time) ([]models.FeedRecord, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	return c.fetch(ctx, channelID, q)
}

// Window returns at most results records from the last days days, oldest first.
func (c *Client) Window(ctx context.Context, channelID string, days, results int) ([]models.FeedRecord, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	q.Set("results", strconv.Itoa(results))
	return c.fetch(ctx, channelID, q)
}

func (c *Client) fetch(ctx context.Context, channelID string, q url.Values) ([]models.FeedRecord, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, ErrMissingChannel
	}
	q.Set("api_key", c.apiKey)
	endpoint := fmt.Sprintf("%s/%s/feeds.json?%s", c.baseURL, url.PathEscape(channelID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{ChannelID: channelID, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{ChannelID: channelID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{ChannelID: channelID, StatusCode: resp.StatusCode}
	}

	var body models.FeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &FetchError{ChannelID: channelID, Err: fmt.Errorf("decode feed: %w", err)}
	}
	if len(body.Feeds) == 0 {
		return nil, ErrNoData
	}
	return body.Feeds, nil
}

// MostRecentFirst returns a reversed copy of an oldest-first feed.
func MostRecentFirst(feeds []models.FeedRecord) []models.FeedRecord {
	out := make([]models.FeedRecord, len(feeds))
	for i, rec := range feeds {
		out[len(feeds)-1-i] = rec
	}
	return out
}
