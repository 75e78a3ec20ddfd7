package etl

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/udmigrate/pkg/models"
)

func dataset(typ string, files ...string) *models.LegacyDataset {
	ds := &models.LegacyDataset{ID: 99, Type: models.TypeInfo{Name: typ}}
	for _, f := range files {
		ds.Datafiles = append(ds.Datafiles, models.DataFile{Name: f})
	}
	return ds
}

func TestSelectFilesLayouts(t *testing.T) {
	cases := []struct {
		name  string
		ds    *models.LegacyDataset
		valid bool
	}{
		{"gene list", dataset("GeneList", "genelist.txt"), true},
		{"gene list wrong name", dataset("GeneList", "genes.txt"), false},
		{"gene list extra file", dataset("GeneList", "genelist.txt", "notes.txt"), false},
		{"gene list empty", dataset("GeneList"), false},
		{"rnaseq with manifest", dataset("RnaSeq", "a.bw", "manifest.txt"), true},
		{"rnaseq without manifest", dataset("RnaSeq", "a.bw"), false},
		{"rnaseq empty", dataset("RnaSeq"), false},
		{"biom", dataset("BIOM", "anything.biom"), true},
		{"isa", dataset("ISA", "i_investigation.txt", "s_study.txt"), true},
		{"bigwig", dataset("BigwigFiles", "a.bw", "b.bw"), true},
		{"path escape", dataset("BIOM", "../etc/passwd"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sink bytes.Buffer
			files, err := NewValidator(NewWriterSink(&sink)).SelectFiles(tc.ds)
			if tc.valid {
				require.NoError(t, err)
				assert.Equal(t, tc.ds.FileNames(), files)
				assert.Empty(t, sink.String())
				return
			}
			assert.True(t, errors.Is(err, ErrIrregularLayout), "got %v", err)
			assert.Contains(t, sink.String(), "BUM UD: 99\t"+tc.ds.Type.Name+"\t")
		})
	}
}

func TestSelectFilesUnknownType(t *testing.T) {
	var sink bytes.Buffer
	_, err := NewValidator(NewWriterSink(&sink)).SelectFiles(dataset("geneList", "genelist.txt"))
	assert.True(t, errors.Is(err, errors.NotSupported), "got %v", err)
	assert.Empty(t, sink.String())
}

func TestParseDatasetType(t *testing.T) {
	for _, typ := range AllDatasetTypes() {
		got, err := ParseDatasetType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseDatasetType("VCF")
	assert.Error(t, err)
}
