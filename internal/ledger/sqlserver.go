package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/errors"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/BartekS5/udmigrate/pkg/models"
)

const sqlServerSchema = `
IF OBJECT_ID(N'dbo.ledger_entries', N'U') IS NULL
CREATE TABLE dbo.ledger_entries (
	id BIGINT IDENTITY(1,1) PRIMARY KEY,
	kind NVARCHAR(16) NOT NULL,
	legacy_id BIGINT NOT NULL,
	recipient_user_id BIGINT NOT NULL DEFAULT 0,
	owner_user_id BIGINT NOT NULL DEFAULT 0,
	destination_id NVARCHAR(64) NOT NULL,
	dataset_type NVARCHAR(64) NULL,
	failure_message NVARCHAR(MAX) NULL,
	run_id NVARCHAR(36) NULL,
	created_at DATETIME2 NOT NULL,
	CONSTRAINT ux_ledger_key UNIQUE (kind, legacy_id, recipient_user_id)
)`

// SQLServerStore is the ledger on Microsoft SQL Server, written against
// database/sql so it can share the connection opened by database.ConnectSQL.
type SQLServerStore struct {
	DB *sql.DB
}

func NewSQLServerStore(ctx context.Context, db *sql.DB) (*SQLServerStore, error) {
	if _, err := db.ExecContext(ctx, sqlServerSchema); err != nil {
		return nil, errors.Annotate(err, "creating ledger table")
	}
	return &SQLServerStore{DB: db}, nil
}

func (s *SQLServerStore) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

func (s *SQLServerStore) HasOwnerEntry(ctx context.Context, legacyID int64) (bool, error) {
	return s.exists(ctx,
		"SELECT TOP 1 1 FROM dbo.ledger_entries WHERE kind = @p1 AND legacy_id = @p2",
		string(KindOwner), legacyID)
}

func (s *SQLServerStore) OwnerEntry(ctx context.Context, legacyID int64) (*OwnerEntry, error) {
	var (
		entry  OwnerEntry
		owner  int64
		dsType sql.NullString
		msg    sql.NullString
		runID  sql.NullString
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT legacy_id, destination_id, owner_user_id, dataset_type, failure_message, run_id, created_at
		 FROM dbo.ledger_entries WHERE kind = @p1 AND legacy_id = @p2`,
		string(KindOwner), legacyID,
	).Scan(&entry.LegacyID, &entry.DestinationID, &owner, &dsType, &msg, &runID, &entry.Time)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("owner entry for dataset %d", legacyID)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	entry.OwnerUserID = models.UserID(owner)
	entry.DatasetType = dsType.String
	entry.FailureMessage = msg.String
	entry.RunID = runID.String
	return &entry, nil
}

func (s *SQLServerStore) HasRecipientEntry(ctx context.Context, legacyID int64, recipient models.UserID) (bool, error) {
	return s.exists(ctx,
		"SELECT TOP 1 1 FROM dbo.ledger_entries WHERE kind = @p1 AND legacy_id = @p2 AND recipient_user_id = @p3",
		string(KindRecipient), legacyID, int64(recipient))
}

func (s *SQLServerStore) RecipientEntries(ctx context.Context, legacyID int64) ([]RecipientEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT legacy_id, destination_id, recipient_user_id, dataset_type, run_id, created_at
		 FROM dbo.ledger_entries WHERE kind = @p1 AND legacy_id = @p2 ORDER BY recipient_user_id`,
		string(KindRecipient), legacyID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	var out []RecipientEntry
	for rows.Next() {
		var (
			entry     RecipientEntry
			recipient int64
			dsType    sql.NullString
			runID     sql.NullString
		)
		if err := rows.Scan(&entry.LegacyID, &entry.DestinationID, &recipient, &dsType, &runID, &entry.Time); err != nil {
			return nil, errors.Trace(err)
		}
		entry.RecipientUserID = models.UserID(recipient)
		entry.DatasetType = dsType.String
		entry.RunID = runID.String
		out = append(out, entry)
	}
	return out, errors.Trace(rows.Err())
}

func isUniqueViolation(err error) bool {
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Number == 2627 || sqlErr.Number == 2601
	}
	return false
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLServerStore) insert(ctx context.Context, kind Kind, legacyID, recipient, owner int64,
	destID, dsType, msg, runID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO dbo.ledger_entries
		 (kind, legacy_id, recipient_user_id, owner_user_id, destination_id, dataset_type, failure_message, run_id, created_at)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9)`,
		string(kind), legacyID, recipient, owner, destID, nullable(dsType), nullable(msg), nullable(runID), at)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return errors.Trace(err)
}

func (s *SQLServerStore) AppendOwnerEntry(ctx context.Context, entry OwnerEntry) error {
	err := s.insert(ctx, KindOwner, entry.LegacyID, 0, int64(entry.OwnerUserID),
		entry.DestinationID, entry.DatasetType, entry.FailureMessage, entry.RunID, stamp(entry.Time))
	return errors.Annotatef(err, "appending owner entry for dataset %d", entry.LegacyID)
}

func (s *SQLServerStore) AppendRecipientEntry(ctx context.Context, entry RecipientEntry) error {
	err := s.insert(ctx, KindRecipient, entry.LegacyID, int64(entry.RecipientUserID), 0,
		entry.DestinationID, entry.DatasetType, "", entry.RunID, stamp(entry.Time))
	return errors.Annotatef(err, "appending recipient entry for dataset %d user %s",
		entry.LegacyID, entry.RecipientUserID)
}

func (s *SQLServerStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN kind = @p1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = @p1 AND failure_message IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = @p2 THEN 1 ELSE 0 END), 0)
		 FROM dbo.ledger_entries`,
		string(KindOwner), string(KindRecipient),
	).Scan(&st.Owners, &st.Invalid, &st.Recipients)
	return st, errors.Trace(err)
}

func (s *SQLServerStore) Close() error {
	return s.DB.Close()
}
