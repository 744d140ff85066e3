package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"discord-file-relay/internal/config"
)

// ErrMissingConfig is returned when the bot token or channel id is not
// configured. No network call is attempted in that case.
var ErrMissingConfig = errors.New("discord bot token and channel id are required")

// ErrNotFound is returned when a requested message no longer exists.
var ErrNotFound = errors.New("discord resource not found")

// APIError carries the HTTP status and the server-provided message of a
// rejected Discord API request.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is a credential rejection (401).
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsAccessError reports whether err is a channel reachability or
// permission failure (403/404).
func IsAccessError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusNotFound
}

// Message is a Discord channel message with its file attachments.
type Message struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is a file attached to a message, exposed via a signed
// time-limited URL.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// BotUser identifies the bot account behind the configured token.
type BotUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

// Channel is the storage channel resource.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccessReport is the result of the two-step channel access probe. Each
// step's failure is reported independently so callers can tell "channel
// unreachable" from "reachable but unreadable".
type AccessReport struct {
	ChannelFound    bool   `json:"channel_found"`
	CanReadMessages bool   `json:"can_read_messages"`
	BotInGuild      bool   `json:"bot_in_guild"`
	ErrorDetails    string `json:"error_details,omitempty"`
}

// Client is a thin authenticated wrapper over the Discord REST API.
// It holds no local state beyond the credential and channel reference.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	channelID  string
}

// NewClient creates a Discord API client. It fails fast when the token
// or channel id is missing.
func NewClient(cfg *config.DiscordConfig) (*Client, error) {
	if cfg.BotToken == "" || cfg.ChannelID == "" {
		return nil, ErrMissingConfig
	}

	base := cfg.APIBase
	if base == "" {
		base = "https://discord.com/api/v10"
	}

	return &Client{
		httpClient: &http.Client{},
		baseURL:    base,
		token:      cfg.BotToken,
		channelID:  cfg.ChannelID,
	}, nil
}

// ChannelID returns the configured storage channel reference.
func (c *Client) ChannelID() string {
	return c.channelID
}

// ValidateToken calls the identity endpoint with the configured token.
// Any non-2xx response is reported as an APIError with a best-effort
// message extracted from the response body.
func (c *Client) ValidateToken(ctx context.Context) (*BotUser, error) {
	var bot BotUser
	if err := c.get(ctx, "/users/@me", &bot); err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return &bot, nil
}

// TestChannelAccess probes the storage channel in two steps: first the
// channel resource itself, then a 1-message read.
func (c *Client) TestChannelAccess(ctx context.Context) (*AccessReport, error) {
	var channel Channel
	if err := c.get(ctx, "/channels/"+c.channelID, &channel); err != nil {
		return &AccessReport{
			ErrorDetails: fmt.Sprintf("cannot access channel: %v", err),
		}, nil
	}

	logrus.Infof("Channel found: %s (%s)", channel.Name, channel.ID)

	if _, err := c.FetchMessages(ctx, "", 1); err != nil {
		return &AccessReport{
			ChannelFound: true,
			BotInGuild:   true,
			ErrorDetails: fmt.Sprintf("cannot read messages: %v", err),
		}, nil
	}

	return &AccessReport{
		ChannelFound:    true,
		CanReadMessages: true,
		BotInGuild:      true,
	}, nil
}

// FetchMessages fetches one page of channel messages, newest first.
// A non-empty before cursor excludes that message id and everything
// newer. An empty result means the start of history was reached.
func (c *Client) FetchMessages(ctx context.Context, before string, limit int) ([]Message, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if before != "" {
		q.Set("before", before)
	}

	var messages []Message
	if err := c.get(ctx, "/channels/"+c.channelID+"/messages?"+q.Encode(), &messages); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// FetchMessage fetches a single message by id. A missing message is
// reported as ErrNotFound.
func (c *Client) FetchMessage(ctx context.Context, messageID string) (*Message, error) {
	var message Message
	err := c.get(ctx, "/channels/"+c.channelID+"/messages/"+messageID, &message)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch message %s: %w", messageID, err)
	}
	return &message, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// extractErrorMessage pulls the "message" field out of a Discord error
// body, falling back to a generic string when the body is not JSON.
func extractErrorMessage(body io.Reader) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil || payload.Message == "" {
		return "API request failed"
	}
	return payload.Message
}
