// ABOUTME: Event router for the discussion relay's realtime channel
// ABOUTME: Dispatches inbound client events to broadcast, tagging, or agent flows

package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/2389/agora-relay/internal/event"
	"github.com/2389/agora-relay/internal/metrics"
)

// RateLimitedNotice is sent to a user whose agent invocation was denied.
const RateLimitedNotice = "Please wait a moment before asking the agent again."

// Broadcaster is the slice of the connection registry the router uses.
type Broadcaster interface {
	Broadcast(data []byte, exclude uuid.UUID) int
	Unicast(id uuid.UUID, data []byte) bool
}

// TagGenerator produces topic tags for discussion content.
type TagGenerator interface {
	Generate(ctx context.Context, content, userID, userName string) ([]string, error)
}

// AgentNotifier forwards a user query to the external agent service.
type AgentNotifier interface {
	Notify(content, authorID, authorName string)
}

// Limiter gates how often a user may trigger an agent invocation.
type Limiter interface {
	TryAcquire(userID string) bool
}

// UserDirectory tracks which user identity a connection announced via
// join_user. The server implements it over the live connection set.
type UserDirectory interface {
	RecordUser(connID uuid.UUID, userID string)
	UserID(connID uuid.UUID) string
}

// Router orchestrates inbound client events. External-call failures are
// never fatal to message delivery: a downstream outage costs tag enrichment
// or the agent answer, never the user's post.
type Router struct {
	registry Broadcaster
	tags     TagGenerator
	agent    AgentNotifier
	limiter  Limiter
	users    UserDirectory
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates an event router. users may be nil when the server does
// not track identities. Pass nil logger for default.
func NewRouter(registry Broadcaster, tags TagGenerator, agent AgentNotifier, limiter Limiter, users UserDirectory, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		tags:     tags,
		agent:    agent,
		limiter:  limiter,
		users:    users,
		logger:   logger.With("component", "router"),
		now:      time.Now,
	}
}

// HandleMessage processes one raw inbound frame from a connection.
// Malformed frames and unknown event types are logged and dropped; socket
// clients get no error reply.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	eventType := gjson.GetBytes(raw, "type").String()
	payload := []byte(gjson.GetBytes(raw, "payload").Raw)

	metrics.EventsReceived.WithLabelValues(labelFor(eventType)).Inc()

	switch eventType {
	case event.TypeNewDiscussion:
		r.handleNewDiscussion(ctx, connID, payload)
	case event.TypeSendMessage:
		r.handleSendMessage(ctx, connID, payload)
	case event.TypeTypingStart:
		r.handleTyping(connID, payload, true)
	case event.TypeTypingStop:
		r.handleTyping(connID, payload, false)
	case event.TypeJoinUser:
		r.handleJoinUser(connID, payload)
	case event.TypeJoinDiscussion:
		// Single-room relay: accepted for client compatibility, nothing to do.
	default:
		r.logger.Debug("dropping unknown event", "type", eventType, "conn_id", connID)
	}
}

// handleNewDiscussion implements the top-level post flow: replies are
// relayed untouched, @agent mentions divert to the gateway behind the rate
// limiter, and everything else is enriched with generated tags.
func (r *Router) handleNewDiscussion(ctx context.Context, connID uuid.UUID, payload []byte) {
	var d event.Discussion
	if err := json.Unmarshal(payload, &d); err != nil {
		r.logger.Debug("dropping malformed new_discussion", "conn_id", connID, "error", err)
		return
	}
	if strings.TrimSpace(d.Content) == "" {
		r.logger.Debug("dropping new_discussion without content", "conn_id", connID)
		return
	}
	// Tags are relay-assigned; whatever the client sent is not trusted.
	d.Tags = nil

	if d.Reply() {
		d.Timestamp = r.timestamp()
		r.broadcast(event.TypeReceiveDiscussion, d, connID)
		return
	}

	if event.HasAgentMention(d.Content) {
		r.invokeAgent(connID, d.Content, d.AuthorID, d.Author)
		return
	}

	tags, err := r.tags.Generate(ctx, d.Content, d.AuthorID, d.Author)
	if err != nil {
		// Broadcast untagged rather than block or drop the post.
		metrics.TagFailures.Inc()
		r.logger.Warn("tag generation failed, broadcasting untagged",
			"author_id", d.AuthorID, "error", err)
	} else {
		d.Tags = tags
	}

	d.Timestamp = r.timestamp()
	r.broadcast(event.TypeReceiveDiscussion, d, uuid.Nil)
}

// handleSendMessage implements the chat flow: broadcast first, then check
// for a mention. The ordering is deliberate; the room sees the message even
// when the agent leg is denied or fails.
func (r *Router) handleSendMessage(ctx context.Context, connID uuid.UUID, payload []byte) {
	var m event.ChatMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		r.logger.Debug("dropping malformed send_message", "conn_id", connID, "error", err)
		return
	}
	if strings.TrimSpace(m.Message) == "" {
		r.logger.Debug("dropping send_message without content", "conn_id", connID)
		return
	}

	m.Timestamp = r.timestamp()
	r.broadcast(event.TypeReceiveMessage, m, connID)

	if event.HasAgentMention(m.Message) {
		r.invokeAgent(connID, m.Message, m.AuthorID, m.Author)
	}
}

// invokeAgent runs the rate-limit gate and, when allowed, fires the
// webhook. The limiter entry is recorded synchronously inside TryAcquire,
// before the outbound call is spawned, so a flurry of near-simultaneous
// requests from one user cannot all observe "allowed".
func (r *Router) invokeAgent(connID uuid.UUID, content, authorID, authorName string) {
	if !r.limiter.TryAcquire(authorID) {
		metrics.AgentRateLimited.Inc()
		notice, err := event.SystemNotice(RateLimitedNotice)
		if err != nil {
			r.logger.Error("encoding system notice", "error", err)
			return
		}
		r.registry.Unicast(connID, notice)
		return
	}

	thinking, err := event.Marshal(event.TypeAgentThinking, nil)
	if err != nil {
		r.logger.Error("encoding agent_thinking", "error", err)
	} else {
		r.registry.Unicast(connID, thinking)
	}

	metrics.AgentInvocations.Inc()
	r.agent.Notify(content, authorID, authorName)
}

// handleTyping relays composing state to the sender's peers. The typing
// user is whoever the connection announced via join_user; connections that
// never joined type anonymously (empty userId) and are still relayed.
func (r *Router) handleTyping(connID uuid.UUID, _ []byte, isTyping bool) {
	// The payload carries only a discussion id, which a single-room relay
	// has no use for.
	var userID string
	if r.users != nil {
		userID = r.users.UserID(connID)
	}

	r.broadcast(event.TypeUserTyping, event.UserTyping{
		UserID:   userID,
		IsTyping: isTyping,
	}, connID)
}

// handleJoinUser records the announced identity against the connection.
func (r *Router) handleJoinUser(connID uuid.UUID, payload []byte) {
	var j event.JoinUser
	if err := json.Unmarshal(payload, &j); err != nil || j.UserID == "" {
		r.logger.Debug("dropping malformed join_user", "conn_id", connID)
		return
	}
	if r.users != nil {
		r.users.RecordUser(connID, j.UserID)
	}
	r.logger.Debug("user joined", "conn_id", connID, "user_id", j.UserID)
}

// broadcast marshals payload into an envelope and fans it out.
func (r *Router) broadcast(eventType string, payload any, exclude uuid.UUID) {
	data, err := event.MarshalAt(eventType, payload, r.now())
	if err != nil {
		r.logger.Error("encoding outbound event", "type", eventType, "error", err)
		return
	}
	r.registry.Broadcast(data, exclude)
	metrics.Broadcasts.Inc()
}

// timestamp returns the relay-assigned ISO-8601 timestamp.
func (r *Router) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// knownTypes bounds the metric label space to the event types we route.
var knownTypes = map[string]struct{}{
	event.TypeNewDiscussion:  {},
	event.TypeSendMessage:    {},
	event.TypeTypingStart:    {},
	event.TypeTypingStop:     {},
	event.TypeJoinUser:       {},
	event.TypeJoinDiscussion: {},
}

func labelFor(eventType string) string {
	if _, ok := knownTypes[eventType]; ok {
		return eventType
	}
	return "unknown"
}
