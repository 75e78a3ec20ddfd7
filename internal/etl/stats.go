package etl

import "fmt"

// Stats counts what a run did. Migrated includes imports VDI rejected
// (Invalid); both count toward the migration limit.
type Stats struct {
	Migrated        int
	Invalid         int
	AlreadyMigrated int
	Ignored         int
	Irregular       int
	DownloadSkipped int
	OfferSkipped    int

	Shared              int
	AlreadyShared       int
	ShareSkippedInvalid int
	NotYetMigrated      int
	ReceiptSkipped      int
}

func (s Stats) OwnerSummary() string {
	return fmt.Sprintf("migrated=%d (invalid=%d) already-migrated=%d ignored=%d irregular=%d download-skipped=%d offer-skipped=%d",
		s.Migrated, s.Invalid, s.AlreadyMigrated, s.Ignored, s.Irregular, s.DownloadSkipped, s.OfferSkipped)
}

func (s Stats) String() string {
	return fmt.Sprintf("migrated=%d already-migrated=%d ignored=%d shared=%d",
		s.Migrated, s.AlreadyMigrated, s.Ignored, s.Shared)
}
