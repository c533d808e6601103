// Package sse writes Server-Sent Events to a single HTTP response.
//
// It handles the SSE wire format (event/data lines, comment keep-alives),
// the required response headers, and per-event flushing, so handlers can
// stream pipeline output incrementally to one client.
package sse
