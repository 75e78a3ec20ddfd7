package etl

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// IrregularSink receives datasets whose files could not be migrated. It is
// separate from logging because other tooling parses this stream.
type IrregularSink interface {
	Irregular(legacyID int64, datasetType string, files []string) error
}

// WriterSink writes one tab-separated line per irregular dataset:
//
//	BUM UD: <legacy id>\t<type>\t<file, file, ...>
type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{W: w}
}

func (s *WriterSink) Irregular(legacyID int64, datasetType string, files []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.W, "BUM UD: %d\t%s\t%s\n", legacyID, datasetType, strings.Join(files, ", "))
	return err
}
