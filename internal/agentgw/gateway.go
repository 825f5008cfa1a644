// ABOUTME: Outbound webhook bridge to the external conversational agent
// ABOUTME: Fire-and-forget notify plus bearer authorization for the callback

package agentgw

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agora-relay/internal/event"
)

// defaultThreadID is the single conversation thread the relay operates in.
const defaultThreadID = "general"

// DefaultTimeout bounds the webhook POST when the config does not say
// otherwise.
const DefaultTimeout = 10 * time.Second

// Gateway bridges the relay and the external agent service. The outbound
// leg is fire-and-forget; its failures are logged and never surfaced to
// the originating client.
type Gateway struct {
	webhookURL string
	secret     string
	http       *http.Client
	logger     *slog.Logger
}

// New creates an agent gateway. Pass nil logger for default.
func New(webhookURL, secret string, timeout time.Duration, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		webhookURL: webhookURL,
		secret:     secret,
		http:       &http.Client{Timeout: timeout},
		logger:     logger.With("component", "agentgw"),
	}
}

// webhookPayload is the agent service's inbound contract.
type webhookPayload struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

// Notify asks the agent service to answer content on behalf of the given
// user. The leading @agent token is stripped before the query is sent. The
// POST runs on a detached goroutine; Notify returns immediately.
func (g *Gateway) Notify(content, authorID, authorName string) {
	payload := webhookPayload{
		ThreadID:  defaultThreadID,
		MessageID: uuid.New().String(),
		Query:     event.StripAgentMention(content),
		UserID:    authorID,
		UserName:  authorName,
	}

	go func() {
		if err := g.deliver(context.Background(), payload); err != nil {
			g.logger.Warn("agent webhook delivery failed",
				"message_id", payload.MessageID,
				"user_id", payload.UserID,
				"error", err)
			return
		}
		g.logger.Debug("agent notified",
			"message_id", payload.MessageID,
			"user_id", payload.UserID)
	}()
}

// deliver performs the webhook POST synchronously.
func (g *Gateway) deliver(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.secret)

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Authorize checks the Authorization header of an inbound agent callback
// against the shared secret. The comparison is constant-time.
func (g *Gateway) Authorize(authHeader string) bool {
	token, ok := bearerToken(authHeader)
	if !ok || g.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) == 1
}

// bearerToken extracts the token from a "Bearer <token>" header value.
func bearerToken(authHeader string) (string, bool) {
	if authHeader == "" {
		return "", false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", false
	}
	return token, true
}
