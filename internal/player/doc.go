// Package player is the composition root. A [Controller] owns the adapters, the shared queue, the
// audio session arbiter, one playback machine per backend and the now-playing publisher.
//
// # Serialization
//
// Every queue, machine and arbiter mutation happens under the controller's mutex: transport
// commands through [Controller.Dispatch], engine events pumped by [Controller.Run] and progress
// ticks pulled by the publisher. Backend calls never hold the lock.
//
// # Cancellation
//
// Resolving a container can take many requests. [Controller.PlayAlbum] and its siblings resolve
// first and commit afterwards, and only if the generation counter still matches the value taken
// when the request started. Starting another play request or switching backends bumps the
// counter, so the latest request always wins and a slow resolution cannot overwrite a newer
// queue. Switching backends also cancels the previous backend's in-flight contexts.
//
// # Sessions
//
// Adapters never refresh on their own. The controller authenticates lazily on first use and, when
// a call fails with [shared.ErrNotAuthenticated], signs in again and retries that call once.
package player
