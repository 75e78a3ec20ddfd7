package etl

import (
	"context"

	"github.com/BartekS5/udmigrate/internal/vdi"
	"github.com/BartekS5/udmigrate/pkg/models"
)

// Stager puts a dataset's files on local disk and packages them.
// *staging.Stager satisfies it.
type Stager interface {
	Prepare() (string, error)
	Stage(ctx context.Context, files []string, owner models.UserID, legacyID int64, dir string) error
	Package(dir string) (string, error)
}

// Uploader creates the destination dataset. *vdi.Client satisfies it.
type Uploader interface {
	Submit(ctx context.Context, payload models.CreatePayload, archivePath string, actor vdi.Actor) (string, error)
}

// CompletionWaiter blocks until VDI finishes importing. It returns the
// rejection message, or "" when the import succeeded. *vdi.Poller satisfies it.
type CompletionWaiter interface {
	AwaitCompletion(ctx context.Context, datasetID string, actor vdi.Actor) (string, error)
}

// Sharer re-creates share relationships. *vdi.Client satisfies it.
type Sharer interface {
	OfferShares(ctx context.Context, datasetID string, recipients []models.UserID, actor vdi.Actor) error
	AcceptShare(ctx context.Context, datasetID string, recipient models.UserID, actor vdi.Actor) error
}
