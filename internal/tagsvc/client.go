// ABOUTME: HTTP client for the external tag-generation service
// ABOUTME: Converts freeform text into a bounded set of topic tags

package tagsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// maxTags bounds how many tags the service is asked for per request.
const maxTags = 5

// DefaultTimeout bounds a tag-generation round trip when the config does
// not say otherwise.
const DefaultTimeout = 10 * time.Second

// Error reports a failed tag-generation request. Status is the HTTP status
// of the upstream response, or 0 when the request never completed.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tag generation failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("tag generation failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client calls the external tag-generation endpoint. It keeps no local
// state beyond the HTTP client; there is no caching.
type Client struct {
	url    string
	secret string
	http   *http.Client
	logger *slog.Logger
}

// New creates a tag service client. Pass nil logger for default.
func New(url, secret string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		secret: secret,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With("component", "tagsvc"),
	}
}

type generateRequest struct {
	Text    string `json:"text"`
	MaxTags int    `json:"max_tags"`
}

type generateResponse struct {
	Tags []string `json:"tags"`
}

// Generate asks the tag service for topic tags describing content. On
// success it returns the tags from the response, or an empty slice when the
// response carries none. Any transport, status, or decode failure returns a
// *Error; callers are expected to recover by proceeding untagged.
func (c *Client) Generate(ctx context.Context, content, userID, userName string) ([]string, error) {
	body, err := json.Marshal(generateRequest{Text: content, MaxTags: maxTags})
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	c.logger.Debug("tags generated",
		"user_id", userID,
		"user_name", userName,
		"count", len(out.Tags))

	if out.Tags == nil {
		return []string{}, nil
	}
	return out.Tags, nil
}
