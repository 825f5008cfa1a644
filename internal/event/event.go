// ABOUTME: Wire types for the discussion relay's JSON message envelope
// ABOUTME: Defines inbound/outbound event payloads and the @agent mention matcher

package event

import (
	"encoding/json"
	"regexp"
	"time"
)

// Inbound event types (client -> relay).
const (
	TypeNewDiscussion  = "new_discussion"
	TypeSendMessage    = "send_message"
	TypeTypingStart    = "typing_start"
	TypeTypingStop     = "typing_stop"
	TypeJoinUser       = "join_user"
	TypeJoinDiscussion = "join_discussion"
)

// Outbound event types (relay -> client).
const (
	TypeReceiveDiscussion = "receive_discussion"
	TypeReceiveMessage    = "receive_message"
	TypeAgentThinking     = "agent_thinking"
	TypeUserTyping        = "user_typing"
)

// Identity constants for relay-originated messages.
const (
	SystemAuthor   = "System"
	SystemAuthorID = "system"
	AgentAuthor    = "AI Agent"

	// DefaultAgentID is used when an agent callback omits agent_id.
	DefaultAgentID = "ai-agent"
)

// Envelope is the framing every message on the realtime channel uses.
// Timestamp is stamped by the relay when it sends; inbound timestamps
// from clients are ignored.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Discussion is a top-level post or a reply. Tags on inbound payloads are
// discarded; only the relay populates them, and only for non-reply posts.
type Discussion struct {
	Content   string   `json:"content"`
	AuthorID  string   `json:"authorId"`
	Author    string   `json:"author"`
	IsReply   bool     `json:"isReply,omitempty"`
	ReplyTo   string   `json:"replyTo,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// ChatMessage is a lightweight chat-style message.
type ChatMessage struct {
	Message   string `json:"message"`
	Author    string `json:"author"`
	AuthorID  string `json:"authorId"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Typing is the payload of typing_start/typing_stop.
type Typing struct {
	DiscussionID string `json:"discussionId,omitempty"`
}

// UserTyping is broadcast to peers while a user is composing.
type UserTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// JoinUser associates a user identity with the connection.
type JoinUser struct {
	UserID string `json:"userId"`
}

// Reply reports whether the discussion is a reply to an existing post.
func (d *Discussion) Reply() bool {
	return d.IsReply || d.ReplyTo != ""
}

// Marshal builds a wire-ready envelope around payload, stamped with the
// current time in RFC3339.
func Marshal(eventType string, payload any) ([]byte, error) {
	return MarshalAt(eventType, payload, time.Now())
}

// MarshalAt is Marshal with an explicit timestamp.
func MarshalAt(eventType string, payload any, at time.Time) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{
		Type:      eventType,
		Payload:   raw,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}

// SystemNotice builds a receive_message envelope authored by the relay.
func SystemNotice(text string) ([]byte, error) {
	return Marshal(TypeReceiveMessage, ChatMessage{
		Message:   text,
		Author:    SystemAuthor,
		AuthorID:  SystemAuthorID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// mentionPattern matches a word-boundary @agent token anywhere in the text.
var mentionPattern = regexp.MustCompile(`(?i)(^|[^\w@])@agent\b`)

// leadingMention matches an @agent token at the start of the text, with an
// optional trailing comma, for stripping before the query is forwarded.
var leadingMention = regexp.MustCompile(`(?i)^\s*@agent\b,?\s*`)

// HasAgentMention reports whether content addresses the agent.
func HasAgentMention(content string) bool {
	return mentionPattern.MatchString(content)
}

// StripAgentMention removes a leading @agent token from content, leaving
// the bare query. Content without a leading mention is returned unchanged.
func StripAgentMention(content string) string {
	return leadingMention.ReplaceAllString(content, "")
}
