// Package staging downloads a dataset's files into a scratch directory and
// packages them into the single archive VDI accepts.
package staging

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/pkg/logger"
	"github.com/BartekS5/udmigrate/pkg/models"
)

const (
	DownloadDirName = "download"
	ArchiveName     = "dataset.tgz"
)

// Downloader fetches one file of a legacy dataset. *ud.Client satisfies it.
type Downloader interface {
	DownloadFile(ctx context.Context, owner models.UserID, legacyID int64, fileName string, w io.Writer) (int64, error)
}

// Stager owns {WorkDir}/download. Records are staged one at a time; the
// directory is emptied before each one.
type Stager struct {
	Downloader  Downloader
	WorkDir     string
	ArchiveName string
}

func NewStager(d Downloader, workDir string) *Stager {
	return &Stager{Downloader: d, WorkDir: workDir, ArchiveName: ArchiveName}
}

func (s *Stager) Dir() string {
	return filepath.Join(s.WorkDir, DownloadDirName)
}

// Prepare creates the download directory, or empties it if it exists, and
// returns its path.
func (s *Stager) Prepare() (string, error) {
	dir := s.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Annotatef(err, "creating %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Annotatef(err, "reading %s", dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return "", errors.Annotatef(err, "clearing %s", dir)
		}
	}
	return dir, nil
}

// Stage downloads every file into dir. The first failure is returned as is so
// callers can inspect a *transport.RequestError.
func (s *Stager) Stage(ctx context.Context, files []string, owner models.UserID, legacyID int64, dir string) error {
	var total uint64
	for _, name := range files {
		n, err := s.downloadOne(ctx, owner, legacyID, name, filepath.Join(dir, name))
		if err != nil {
			return err
		}
		total += uint64(n)
		logger.Debugf("Downloaded %s for UD %d (%s)", name, legacyID, humanize.Bytes(uint64(n)))
	}
	logger.Infof("Staged %d file(s) for UD %d, %s", len(files), legacyID, humanize.Bytes(total))
	return nil
}

func (s *Stager) downloadOne(ctx context.Context, owner models.UserID, legacyID int64, name, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Annotatef(err, "creating %s", path)
	}
	n, err := s.Downloader.DownloadFile(ctx, owner, legacyID, name, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Annotatef(cerr, "closing %s", path)
	}
	return n, err
}

// Package writes the archive of everything in dir and returns its path.
func (s *Stager) Package(dir string) (string, error) {
	name := s.ArchiveName
	if name == "" {
		name = ArchiveName
	}
	return PackageArchive(dir, name)
}
