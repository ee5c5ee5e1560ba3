// Package history keeps line change events and executed commands in SQLite.
//
// The Repository is wired in two places: as a flyport.EventObserver, so
// every delivered line change is stored, and as a flyport.CommandRecorder,
// so every command outcome is stored. The status API reads both tables.
// Rows older than the configured retention are removed by Prune.
package history
