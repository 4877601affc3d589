// Package server implements the MCP (Model Context Protocol) server that
// exposes the segmentation engine to MCP clients.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - image_load: Load image and get metadata
//   - doodler_segment: Segment an image from its doodles
//   - doodler_overlay: Blend a label PNG over its image
//   - doodler_label_summary: Per-class pixel counts of a label PNG
//   - doodler_default_params: Parameters used when a call overrides none
//
// # Image Caching
//
// Source images are cached by path for the lifetime of the process. Doodle
// and label files are read fresh on every call.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure), -32602 (malformed params) or
//     -32601 (unknown method)
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	srv := server.New(log, config.Default(), version)
//	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
//	    log.Fatal().Err(err).Msg("server failed")
//	}
package server
