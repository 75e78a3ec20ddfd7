package staging

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/BartekS5/udmigrate/pkg/logger"
)

// PackageArchive writes dir/archiveName as a gzip-compressed tar of every
// regular file in dir, in name order, excluding the archive itself. Files sit
// at the root of the archive.
func PackageArchive(dir, archiveName string) (string, error) {
	archivePath := filepath.Join(dir, archiveName)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Annotatef(err, "reading %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.Name() == archiveName || !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out, err := os.Create(archivePath)
	if err != nil {
		return "", errors.Annotatef(err, "creating %s", archivePath)
	}

	if err := writeArchive(out, dir, names); err != nil {
		out.Close()
		return "", errors.Annotatef(err, "packaging %s", archivePath)
	}
	if err := out.Close(); err != nil {
		return "", errors.Annotatef(err, "closing %s", archivePath)
	}

	if info, err := os.Stat(archivePath); err == nil {
		logger.Debugf("Packaged %d file(s) into %s (%s)", len(names), archiveName, humanize.Bytes(uint64(info.Size())))
	}
	return archivePath, nil
}

func writeArchive(w io.Writer, dir string, names []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, name := range names {
		if err := addFile(tw, filepath.Join(dir, name), name); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(gz.Close())
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Trace(err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errors.Trace(err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Annotatef(err, "writing header for %s", name)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return errors.Annotatef(err, "writing %s", name)
	}
	return nil
}
