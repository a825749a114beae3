// Package repositories implements SQLite persistence for player state that outlives a run.
//
//   - [SettingsRepository] : per-backend key/value configuration that overrides config.toml,
//     including tokens rotated by the catalog backend
//   - [HistoryRepository] : songs the player started, newest last
//
// Tables are created by the embedded migrations in package shared.
package repositories
