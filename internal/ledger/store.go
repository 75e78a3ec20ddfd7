// Package ledger persists which legacy datasets have already been migrated
// and which share receipts have already been recorded. It is the only state
// consulted when deciding whether a record needs work, so every append must be
// durable before it returns.
package ledger

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/pkg/models"
)

// ErrDuplicate is returned when an entry with the same key already exists.
const ErrDuplicate = errors.ConstError("ledger entry already exists")

type Kind string

const (
	KindOwner     Kind = "owner"
	KindRecipient Kind = "recipient"
)

// OwnerEntry records that a legacy dataset was uploaded to VDI. A non-empty
// FailureMessage means VDI rejected the import: the entry still marks the
// dataset as done, but it must never be shared.
type OwnerEntry struct {
	LegacyID       int64
	DestinationID  string
	OwnerUserID    models.UserID
	DatasetType    string
	FailureMessage string
	RunID          string
	Time           time.Time
}

func (e *OwnerEntry) Invalid() bool {
	return e.FailureMessage != ""
}

// RecipientEntry records an accepted share of a migrated dataset.
type RecipientEntry struct {
	LegacyID        int64
	DestinationID   string
	RecipientUserID models.UserID
	DatasetType     string
	RunID           string
	Time            time.Time
}

type Stats struct {
	Owners     int64
	Invalid    int64
	Recipients int64
}

// Store is implemented by every ledger backend.
type Store interface {
	HasOwnerEntry(ctx context.Context, legacyID int64) (bool, error)
	// OwnerEntry returns a NotFound error when the dataset has no entry.
	OwnerEntry(ctx context.Context, legacyID int64) (*OwnerEntry, error)
	HasRecipientEntry(ctx context.Context, legacyID int64, recipient models.UserID) (bool, error)
	RecipientEntries(ctx context.Context, legacyID int64) ([]RecipientEntry, error)
	AppendOwnerEntry(ctx context.Context, entry OwnerEntry) error
	AppendRecipientEntry(ctx context.Context, entry RecipientEntry) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
