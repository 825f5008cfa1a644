// ABOUTME: Tests for the relay's HTTP surface and websocket integration
// ABOUTME: Covers tag endpoint statuses, callback auth, and end-to-end fan-out

package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agora-relay/internal/config"
	"github.com/2389/agora-relay/internal/event"
)

func testConfig(tagURL, webhookURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Agent: config.AgentConfig{
			WebhookURL:      webhookURL,
			TagURL:          tagURL,
			Secret:          "test-secret",
			RateLimitWindow: time.Hour,
			HTTPTimeout:     2 * time.Second,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(context.Background(), cfg, nil)
	t.Cleanup(s.limiter.Close)
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) event.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var env event.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitForConnections(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.registry.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d connections, have %d", n, s.registry.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRoot_Liveness(t *testing.T) {
	_, ts := newTestServer(t, testConfig("", ""))

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerateTags_MissingContent(t *testing.T) {
	_, ts := newTestServer(t, testConfig("", ""))

	resp, err := http.Post(ts.URL+"/api/generate-tags", "application/json",
		strings.NewReader(`{"userId":"u1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateTags_Success(t *testing.T) {
	tagSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tags":["#greeting"]}`))
	}))
	defer tagSrv.Close()

	_, ts := newTestServer(t, testConfig(tagSrv.URL, ""))

	resp, err := http.Post(ts.URL+"/api/generate-tags", "application/json",
		strings.NewReader(`{"content":"Hello world","userId":"u1","userName":"A"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"#greeting"}, out["tags"])
}

func TestGenerateTags_DownstreamFailure(t *testing.T) {
	tagSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer tagSrv.Close()

	_, ts := newTestServer(t, testConfig(tagSrv.URL, ""))

	resp, err := http.Post(ts.URL+"/api/generate-tags", "application/json",
		strings.NewReader(`{"content":"Hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAgentResponse_Unauthorized(t *testing.T) {
	s, ts := newTestServer(t, testConfig("", ""))

	client := dialWS(t, ts)
	waitForConnections(t, s, 1)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/agent-response",
		strings.NewReader(`{"thread_id":"general","message_id":"m1","text":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// No broadcast reaches the connected client.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, readErr := client.Read(ctx)
	assert.Error(t, readErr, "client must receive nothing after a rejected callback")
}

func TestAgentResponse_BroadcastsToAllClients(t *testing.T) {
	s, ts := newTestServer(t, testConfig("", ""))

	clientA := dialWS(t, ts)
	clientB := dialWS(t, ts)
	waitForConnections(t, s, 2)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/agent-response",
		strings.NewReader(`{"thread_id":"general","message_id":"m1","text":"Here is your summary","agent_id":"agent-7"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, "success", ack["status"])

	for _, c := range []*websocket.Conn{clientA, clientB} {
		env := readEnvelope(t, c)
		require.Equal(t, event.TypeReceiveMessage, env.Type)

		var msg event.ChatMessage
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		assert.Equal(t, "Here is your summary", msg.Message)
		assert.Equal(t, event.AgentAuthor, msg.Author)
		assert.Equal(t, "agent-7", msg.AuthorID)
		assert.NotEmpty(t, msg.Timestamp)
	}
}

func TestAgentResponse_DefaultAgentID(t *testing.T) {
	s, ts := newTestServer(t, testConfig("", ""))

	client := dialWS(t, ts)
	waitForConnections(t, s, 1)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/agent-response",
		strings.NewReader(`{"thread_id":"general","message_id":"m1","text":"answer"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := readEnvelope(t, client)
	var msg event.ChatMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, event.DefaultAgentID, msg.AuthorID)
}

func TestWebsocket_SendMessageFanOut(t *testing.T) {
	s, ts := newTestServer(t, testConfig("", ""))

	sender := dialWS(t, ts)
	peer := dialWS(t, ts)
	waitForConnections(t, s, 2)

	payload := `{"type":"send_message","payload":{"message":"hello room","authorId":"u1","author":"A"}}`
	require.NoError(t, sender.Write(context.Background(), websocket.MessageText, []byte(payload)))

	env := readEnvelope(t, peer)
	require.Equal(t, event.TypeReceiveMessage, env.Type)

	var msg event.ChatMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, "hello room", msg.Message)
	assert.Equal(t, "u1", msg.AuthorID)

	// The sender must not receive its own message echoed back.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, readErr := sender.Read(ctx)
	assert.Error(t, readErr)
}

func TestWebsocket_DisconnectDeregisters(t *testing.T) {
	s, ts := newTestServer(t, testConfig("", ""))

	client := dialWS(t, ts)
	waitForConnections(t, s, 1)

	client.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(3 * time.Second)
	for s.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not deregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
