// Package models defines the backend-agnostic media model and persistence interfaces for polyplay.
//
// The package contains two categories of types:
//
// 1. Media values: immutable structs produced by backend adapters
//   - [Song] : a playable (or not yet playable) track from any backend
//   - [Album], [Playlist], [Artist] : song containers with computed aggregates
//   - [SearchResults] : the union returned by a free-text search
//
// 2. Persistent entities: database-backed models
//   - [Setting] : one key/value pair of per-backend configuration
//
// Backends that return no durable identifiers for albums or artists use [SyntheticID],
// a pure function of the normalized artist and title. Two containers with the same
// normalized names collide; this is an accepted limitation.
//
// Media values are never mutated in place. Methods such as [Song.WithArtwork] and
// [Album.WithSongs] return a new value.
package models
