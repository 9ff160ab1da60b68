// Package streaminghttp implements the streamable HTTP transport for MCP
// servers: a single endpoint accepting POST, GET, and DELETE, with
// per-session routing keyed on the Mcp-Session-Id header.
//
// The handler composes three layers:
//
//   - an authentication gate validating bearer tokens against a configured
//     auth.Authenticator and advertising the token issuer through the
//     RFC 9728 protected resource metadata document,
//   - a session registry mapping opaque session ids to live protocol
//     transports,
//   - per-message dispatch into the session's capability handler, answering
//     over JSON or SSE according to the request's Accept header.
//
// When no authenticator is configured the gate is absent and every request
// proceeds anonymously; the discovery document is not served in that mode.
package streaminghttp
