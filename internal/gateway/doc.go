// Package gateway orchestrates the herald-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator: it owns the Telegram bot
// client, the session executor, the heartbeat scheduler, the history store,
// and the HTTP server, and wires them together at startup.
//
// # Update Flow
//
// Telegram posts updates to the webhook path. The bot client verifies the
// secret token header, then the Handler middleware drops duplicates and
// messages from users outside the allow-list. Surviving messages become
// prompts:
//
//  1. The user turn is recorded in the history store.
//  2. The executor runs the prompt against the chat's persistent session.
//  3. Long intermediate output streams back as partial messages.
//  4. The final result is rendered to Telegram HTML, split into chunks,
//     and sent with the typing indicator kept alive throughout.
//
// # HTTP API
//
//   - POST <webhook_path>   - Telegram update delivery
//   - GET  /health          - Liveness check
//   - GET  /health/ready    - Readiness with active session count
//   - GET  /admin/status    - Uptime and heartbeat state (JWT required)
//   - POST /admin/heartbeat - Trigger an immediate heartbeat check (JWT required)
//   - POST /admin/reset     - Tear down one chat's agent session (JWT required)
//
// # Listeners
//
// The HTTP server binds either a plain TCP address or a Tailscale tsnet
// node. With Funnel enabled the webhook is reachable from the public
// internet, which is what Telegram needs, without opening firewall ports.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled or a server fails
//
// Run shuts everything down gracefully on the way out: the HTTP server
// drains, the scheduler stops, agent sessions disconnect, and the store
// closes.
package gateway
