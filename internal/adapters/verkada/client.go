package verkada

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

const (
	DefaultBaseURL = "https://api.verkada.com"

	// tokenValidity is how long the provider honours an issued token.
	tokenValidity = 25 * time.Minute

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 8 << 20
	eventPageSize   = 100
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the access provider's REST API: token issuance, the
// access event feed, user profile photos and camera thumbnails.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	maxBody    int64
}

var _ ports.AccessProvider = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("verkada: invalid base url %q: %w", baseURL, err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("verkada: api key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		maxBody:    maxResponseBody,
	}, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *Client) IssueToken(ctx context.Context) (domain.Credential, error) {
	header := http.Header{}
	header.Set("x-api-key", c.apiKey)

	issuedAt := c.now()
	body, _, err := c.do(ctx, http.MethodPost, "/token", header)
	if err != nil {
		return domain.Credential{}, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Credential{}, fmt.Errorf("verkada: decode token response: %w", err)
	}
	if resp.Token == "" {
		return domain.Credential{}, fmt.Errorf("verkada: token response carried no token")
	}
	return domain.Credential{Token: resp.Token, ExpiresAt: issuedAt.Add(tokenValidity).UTC()}, nil
}

type accessEventsResponse struct {
	Events []accessEvent `json:"events"`
}

type accessEvent struct {
	Timestamp json.RawMessage `json:"timestamp"`
	EventType string          `json:"event_type"`
	EventInfo *eventInfo      `json:"event_info"`
}

type eventInfo struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Name     string `json:"name"`
	Accepted bool   `json:"accepted"`
	Type     string `json:"type"`
	DoorInfo *struct {
		AccessControllerID string `json:"accessControllerId"`
	} `json:"doorInfo"`
}

// SearchAccessEvents returns the first page of access events between start
// and end. Records without event_info or with an unreadable timestamp are
// dropped.
func (c *Client) SearchAccessEvents(ctx context.Context, token string, start, end time.Time) ([]domain.BadgeEvent, error) {
	query := url.Values{}
	query.Set("start_time", strconv.FormatInt(start.Unix(), 10))
	query.Set("end_time", strconv.FormatInt(end.Unix(), 10))
	query.Set("page_size", strconv.Itoa(eventPageSize))

	body, _, err := c.do(ctx, http.MethodGet, "/events/v1/access?"+query.Encode(), authHeader(token))
	if err != nil {
		return nil, err
	}

	var resp accessEventsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("verkada: decode access events: %w", err)
	}

	events := make([]domain.BadgeEvent, 0, len(resp.Events))
	for _, raw := range resp.Events {
		if raw.EventInfo == nil {
			continue
		}
		ts, ok := parseTimestamp(raw.Timestamp)
		if !ok {
			c.logger.Debug("skipping access event with unreadable timestamp", "timestamp", string(raw.Timestamp))
			continue
		}
		info := raw.EventInfo
		name := info.UserName
		if name == "" {
			name = info.Name
		}
		event := domain.BadgeEvent{
			Timestamp: ts,
			EventType: raw.EventType,
			Type:      info.Type,
			Accepted:  info.Accepted,
			UserID:    info.UserID,
			UserName:  name,
		}
		if info.DoorInfo != nil {
			event.ControllerID = info.DoorInfo.AccessControllerID
		}
		events = append(events, event)
	}
	return events, nil
}

func (c *Client) UserPhoto(ctx context.Context, token, userID string) (domain.Image, error) {
	query := url.Values{}
	query.Set("user_id", userID)
	query.Set("original", "false")

	body, contentType, err := c.do(ctx, http.MethodGet, "/access/v1/access_users/user/profile_photo?"+query.Encode(), authHeader(token))
	if err != nil {
		return domain.Image{}, err
	}
	return domain.Image{ContentType: mediaType(contentType), Data: body}, nil
}

// CameraThumbnail fetches the low resolution frame closest to at. The
// provider always answers with a JPEG.
func (c *Client) CameraThumbnail(ctx context.Context, token, cameraID string, at time.Time) (domain.Image, error) {
	query := url.Values{}
	query.Set("camera_id", cameraID)
	query.Set("timestamp", strconv.FormatInt(at.Unix(), 10))
	query.Set("resolution", "low-res")

	body, _, err := c.do(ctx, http.MethodGet, "/cameras/v1/footage/thumbnails?"+query.Encode(), authHeader(token))
	if err != nil {
		return domain.Image{}, err
	}
	return domain.Image{ContentType: "image/jpeg", Data: body}, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("verkada: create request: %w", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("verkada: %s %s: %w", method, stripQuery(path), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("verkada: %s %s returned status %d: %s", method, stripQuery(path), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, "", fmt.Errorf("verkada: read response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, "", fmt.Errorf("verkada: %s %s response exceeds %d bytes", method, stripQuery(path), c.maxBody)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func authHeader(token string) http.Header {
	header := http.Header{}
	header.Set("x-verkada-auth", token)
	return header
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func mediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}

// parseTimestamp accepts RFC 3339 strings as well as unix seconds, which
// the feed has used interchangeably.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), true
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return unixFloat(secs), true
		}
		return time.Time{}, false
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		return unixFloat(secs), true
	}
	return time.Time{}, false
}

func unixFloat(secs float64) time.Time {
	whole := int64(secs)
	frac := secs - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}
