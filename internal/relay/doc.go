// Package relay contains the event router and HTTP surface of the
// discussion relay.
//
// # Overview
//
// The relay sits between browser clients on a websocket and two external
// HTTP collaborators: a tag-generation service and a conversational agent
// webhook. Clients post discussions and chat messages; the relay enriches
// non-reply posts with generated tags, gates @agent mentions behind a
// per-user cooldown, and fans resulting events out to the connected room.
//
// # Event flows
//
// new_discussion:
//
//  1. Replies are stamped and broadcast to everyone except the sender.
//  2. Posts mentioning @agent go through the rate limiter: denied requests
//     get a unicast system notice, allowed ones get a unicast
//     agent_thinking signal plus a fire-and-forget webhook call.
//  3. All other posts are tagged via the tag service (failures degrade to
//     an untagged broadcast) and sent to everyone including the sender.
//
// send_message broadcasts to peers first and checks for a mention after,
// so the room always sees the message regardless of the agent leg.
//
// # Failure policy
//
// External-call failures are isolated to the enrichment they affect. A tag
// service outage costs tags; a webhook failure costs the agent's answer;
// neither ever blocks or drops a user's content.
//
// # HTTP surface
//
//   - GET  /                   liveness
//   - GET  /ws                 websocket upgrade
//   - POST /api/generate-tags  direct tag generation
//   - POST /api/agent-response authenticated agent callback, broadcast to all
//   - GET  /metrics            prometheus (when enabled)
package relay
