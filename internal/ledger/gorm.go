package ledger

import (
	"context"
	"time"

	"github.com/juju/errors"
	"gorm.io/gorm"

	"github.com/BartekS5/udmigrate/pkg/models"
)

// entryRow is the single table holding both entry kinds. Owner rows keep
// RecipientUserID at zero so the unique key covers both invariants.
type entryRow struct {
	ID              uint    `gorm:"primaryKey"`
	Kind            string  `gorm:"size:16;not null;uniqueIndex:ux_ledger_key,priority:1"`
	LegacyID        int64   `gorm:"not null;uniqueIndex:ux_ledger_key,priority:2"`
	RecipientUserID int64   `gorm:"not null;uniqueIndex:ux_ledger_key,priority:3"`
	OwnerUserID     int64   `gorm:"not null"`
	DestinationID   string  `gorm:"size:64;not null"`
	DatasetType     string  `gorm:"size:64"`
	FailureMessage  *string `gorm:"type:text"`
	RunID           string  `gorm:"size:36"`
	CreatedAt       time.Time
}

func (entryRow) TableName() string { return "ledger_entries" }

// GormStore keeps the ledger in any database gorm can drive. SQLite is the
// default for local runs.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns a ready store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, errors.Annotate(err, "migrating ledger schema")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&entryRow{}).Where(query, args...).Count(&n).Error
	return n, errors.Trace(err)
}

func (s *GormStore) HasOwnerEntry(ctx context.Context, legacyID int64) (bool, error) {
	n, err := s.count(ctx, "kind = ? AND legacy_id = ?", string(KindOwner), legacyID)
	return n > 0, err
}

func (s *GormStore) OwnerEntry(ctx context.Context, legacyID int64) (*OwnerEntry, error) {
	var row entryRow
	err := s.db.WithContext(ctx).
		Where("kind = ? AND legacy_id = ?", string(KindOwner), legacyID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundf("owner entry for dataset %d", legacyID)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	entry := &OwnerEntry{
		LegacyID:      row.LegacyID,
		DestinationID: row.DestinationID,
		OwnerUserID:   models.UserID(row.OwnerUserID),
		DatasetType:   row.DatasetType,
		RunID:         row.RunID,
		Time:          row.CreatedAt,
	}
	if row.FailureMessage != nil {
		entry.FailureMessage = *row.FailureMessage
	}
	return entry, nil
}

func (s *GormStore) HasRecipientEntry(ctx context.Context, legacyID int64, recipient models.UserID) (bool, error) {
	n, err := s.count(ctx, "kind = ? AND legacy_id = ? AND recipient_user_id = ?",
		string(KindRecipient), legacyID, int64(recipient))
	return n > 0, err
}

func (s *GormStore) RecipientEntries(ctx context.Context, legacyID int64) ([]RecipientEntry, error) {
	var rows []entryRow
	err := s.db.WithContext(ctx).
		Where("kind = ? AND legacy_id = ?", string(KindRecipient), legacyID).
		Order("recipient_user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]RecipientEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, RecipientEntry{
			LegacyID:        row.LegacyID,
			DestinationID:   row.DestinationID,
			RecipientUserID: models.UserID(row.RecipientUserID),
			DatasetType:     row.DatasetType,
			RunID:           row.RunID,
			Time:            row.CreatedAt,
		})
	}
	return out, nil
}

// insert writes row unless an entry with the same key exists, in which case
// it returns ErrDuplicate.
func (s *GormStore) insert(ctx context.Context, row *entryRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&entryRow{}).
			Where("kind = ? AND legacy_id = ? AND recipient_user_id = ?", row.Kind, row.LegacyID, row.RecipientUserID).
			Count(&n).Error
		if err != nil {
			return errors.Trace(err)
		}
		if n > 0 {
			return ErrDuplicate
		}
		return errors.Trace(tx.Create(row).Error)
	})
}

func (s *GormStore) AppendOwnerEntry(ctx context.Context, entry OwnerEntry) error {
	row := &entryRow{
		Kind:          string(KindOwner),
		LegacyID:      entry.LegacyID,
		OwnerUserID:   int64(entry.OwnerUserID),
		DestinationID: entry.DestinationID,
		DatasetType:   entry.DatasetType,
		RunID:         entry.RunID,
		CreatedAt:     stamp(entry.Time),
	}
	if entry.FailureMessage != "" {
		msg := entry.FailureMessage
		row.FailureMessage = &msg
	}
	return errors.Annotatef(s.insert(ctx, row), "appending owner entry for dataset %d", entry.LegacyID)
}

func (s *GormStore) AppendRecipientEntry(ctx context.Context, entry RecipientEntry) error {
	row := &entryRow{
		Kind:            string(KindRecipient),
		LegacyID:        entry.LegacyID,
		RecipientUserID: int64(entry.RecipientUserID),
		DestinationID:   entry.DestinationID,
		DatasetType:     entry.DatasetType,
		RunID:           entry.RunID,
		CreatedAt:       stamp(entry.Time),
	}
	return errors.Annotatef(s.insert(ctx, row), "appending recipient entry for dataset %d user %s",
		entry.LegacyID, entry.RecipientUserID)
}

func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Owners, err = s.count(ctx, "kind = ?", string(KindOwner)); err != nil {
		return st, err
	}
	if st.Invalid, err = s.count(ctx, "kind = ? AND failure_message IS NOT NULL", string(KindOwner)); err != nil {
		return st, err
	}
	st.Recipients, err = s.count(ctx, "kind = ?", string(KindRecipient))
	return st, err
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return sqlDB.Close()
}
