// Package mcp implements MCP (Model Context Protocol) client support,
// allowing courier to connect to an external MCP server and use its
// tools, resources, and prompts.
//
// MCP uses JSON-RPC 2.0 over a stdio transport: the server runs as a
// subprocess and messages are newline-delimited on stdin/stdout. A
// Session owns the full connection lifecycle — it launches the
// subprocess, performs the initialize handshake, exposes the discovery
// and invocation operations, and tears everything down in order on
// Disconnect.
//
// This implementation covers the client/host side only — courier does
// not act as an MCP server.
package mcp
