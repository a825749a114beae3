// Package services defines the [Service] interface for music backends and implements it for
// Synology AudioStation, Subsonic-compatible servers, the OAuth2 catalog API and a local
// directory.
//
// # Service Interface
//
// Every backend maps its wire format onto the models package: [models.Song], [models.Album],
// [models.Artist] and [models.Playlist]. Callers never see backend JSON. Adapters keep the raw
// entity in Native so URL builders can reach fields the common model does not carry.
//
// Every call except the URL builders requires a session from Authenticate and fails with
// [shared.ErrNotAuthenticated] before doing any I/O when there is none. A server-side auth
// failure drops the session, so the next call fails fast too.
//
// # Identity
//
// Backends with real identifiers (Subsonic, the catalog) link containers to their songs directly.
// AudioStation and the local directory have no album or artist identifiers, so those containers
// get [models.SyntheticID] values and their songs are found by matching text fields through the
// resolver package.
//
// # Response Shapes
//
// AudioStation answers the same query differently across server versions. [Shape] lists the
// layouts a response may take and decodeShapes picks the first one that yields data. A response
// that matches none is logged and read as an empty result rather than failing the call.
//
// # Error Handling
//
// Adapters wrap the sentinel errors in the shared package:
//   - [shared.ErrNotAuthenticated] : no session, or the server rejected it
//   - [shared.ErrAuthFailed] : Authenticate was refused
//   - [shared.ErrTokenExpired] : the OAuth2 refresh token no longer works
//   - [shared.ErrNetwork] : transport failure or an unexpected HTTP status
//   - [shared.ErrCancelled] : the context was cancelled mid-request
//
// No adapter retries. Requests share a rate limiter configured through [ClientOpts].
package services
