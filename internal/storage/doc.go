// Package storage persists job definitions with their triggers, and the
// append-only request and trace report logs the crawlers write.
//
// A definition and its trigger live in two tables keyed by the definition
// id and are always written in one transaction. Timestamps are stored as
// unix milliseconds so range filters stay index friendly.
package storage
