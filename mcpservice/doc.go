// Package mcpservice implements the capability surface of an MCP server:
// tools, resources, and prompts, dispatched per session. A Server is
// constructed once per session from shared containers, so listing and
// mutation stay threadsafe while per-session protocol state stays isolated.
package mcpservice
