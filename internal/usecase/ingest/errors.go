// Package ingest implements feed polling, change detection and the
// document-processing loop that turns discovered entries into events.
package ingest

import "errors"

// Sentinel errors for ingestion operations.
var (
	// ErrQueueClosed is returned by Push and Pop once the item queue is closed.
	ErrQueueClosed = errors.New("item queue closed")

	// ErrNoParser indicates that no parser is registered for a source's format.
	ErrNoParser = errors.New("no parser registered for feed format")

	// ErrSourceInactive is returned when polling a deactivated source.
	ErrSourceInactive = errors.New("feed source is inactive")
)
