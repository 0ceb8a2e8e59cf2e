package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ProcessingStatus tracks a DiscoveredItem through the processing workers.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// ErrInvalidTransition is returned when a status change would regress an item.
var ErrInvalidTransition = errors.New("invalid processing status transition")

// CanTransition reports whether an item may move from one status to another.
// completed is terminal. failed may only return to pending (operator re-queue),
// and processing may return to pending when work was abandoned by a shutdown.
func CanTransition(from, to ProcessingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusPending
	case StatusFailed:
		return to == StatusPending
	case StatusCompleted:
		return false
	}
	return false
}

// ChangeKind tells whether an item is a first sighting or a revision.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// DiscoveredItem is a feed entry detected as new or changed by a poller.
//
// SubjectID is derived from source, URL and title, so re-discovering the same
// entry always yields the same subject. ID equals SubjectID for the first
// sighting; revisions get an ID suffixed with their fingerprint.
type DiscoveredItem struct {
	ID            string
	SubjectID     string
	SourceID      string
	Jurisdiction  string
	Title         string
	URL           string
	PublishedAt   *time.Time
	UpdatedAt     *time.Time
	ContentType   string
	Fingerprint   string
	Priority      Priority
	Change        ChangeKind
	Status        ProcessingStatus
	FailureReason string
	DiscoveredAt  time.Time
}

// NewItemID derives the stable subject identity of a feed entry.
func NewItemID(sourceID, url, title string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(title))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// RevisionID returns the identity of an updated revision of subjectID.
func RevisionID(subjectID, fingerprint string) string {
	fp := fingerprint
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fmt.Sprintf("%s-%s", subjectID, fp)
}

// EventKind maps the change to the event emitted once the item is processed.
func (i *DiscoveredItem) EventKind() EventKind {
	if i.Change == ChangeUpdated {
		return EventRegulationUpdated
	}
	return EventRegulationCreated
}
