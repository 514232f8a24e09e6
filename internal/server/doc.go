// Package server implements the HTTP surface of dployr.
//
// Routes:
//   - POST /api/webhooks/{webhookId}: push deliveries from GitHub, GitLab
//     and Bitbucket, authenticated per registration and dispatched to the
//     deploy coordinator
//   - GET /health: liveness and project count
//   - GET /status/{owner}/{project}: active run plus recent history
//   - GET /metrics: Prometheus collectors
//
// The server integrates with other packages:
//   - internal/project: webhook registrations and project lookup
//   - internal/webhook: provider detection, signatures and payload parsing
//   - internal/deployment: single-flight deploy runs
//   - internal/history: SQLite-based deployment history tracking
//
// Webhook responses never wait for a deploy. Requests are rate limited per
// client IP outside test mode and bodies are capped at MaxPayloadBytes.
package server
