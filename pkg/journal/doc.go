// Package journal records runs and the status transitions of their
// (report, facility) pairs in a SQLite database.
//
// The journal never stores rows or snapshots; it answers "what ran, when,
// and how did each pair end". It uses modernc.org/sqlite, so the binary
// stays CGO-free, and a single connection since SQLite has one writer.
package journal
