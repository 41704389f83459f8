// Package server hosts the questflow HTTP surface: the listener
// lifecycle, the REST handlers over sessions and forks, and the
// websocket event stream.
//
// Manager owns one net/http server with graceful shutdown. Handlers
// maps the engine's session and fork operations onto routes. The
// Broadcaster subscribes to the engine event bus and fans events out to
// websocket clients.
package server
