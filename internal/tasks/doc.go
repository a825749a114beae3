// Package tasks runs long library operations with progress reporting.
//
// [Exporter.Export] writes every album or playlist of the active backend to disk in one of the
// formatter's formats. Containers are resolved by a bounded worker pool behind a token-bucket
// rate limiter, so a large library does not hammer a home server. A container that fails is
// recorded and the run continues; manifest.json in the output directory lists every outcome.
//
// Progress is reported on an optional channel. Sends never block: a slow reader misses updates.
package tasks
