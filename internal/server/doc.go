// Package server provides the HTTP side of the player.
//
// # Router
//
// [BasicRouter] wraps [http.ServeMux] with a middleware stack. [Logging] and [Recover] are the
// stock middleware. Custom handlers implement [Handler], which adds the list of patterns they
// serve so route definitions stay with the handler.
//
// # Remote control
//
// [RemoteHandler] is registered as the now-playing publisher's delegate. It answers
// GET /nowplaying with the current snapshot, applies commands posted to /command and streams
// snapshots over a websocket at /ws. Socket clients may send commands as JSON on the same
// connection. A client that cannot keep up misses snapshots; it never stalls the publisher.
//
// # OAuth callback
//
// [CallbackHandler] receives the catalog backend's authorization-code redirect during
// "polyplay auth catalog". It checks the state token, returns the code through a channel and
// refuses any second callback.
package server
