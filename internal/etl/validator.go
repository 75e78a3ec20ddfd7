package etl

import (
	"path/filepath"
	"strings"

	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/pkg/models"
)

// ErrIrregularLayout marks a dataset whose files do not have the shape its
// type requires. It only skips that dataset.
const ErrIrregularLayout = errors.ConstError("irregular dataset layout")

// DatasetType is the closed set of UD dataset types the migrator knows.
type DatasetType string

const (
	GeneList    DatasetType = "GeneList"
	RnaSeq      DatasetType = "RnaSeq"
	BIOM        DatasetType = "BIOM"
	ISA         DatasetType = "ISA"
	BigwigFiles DatasetType = "BigwigFiles"
)

type layoutRule func(files []string) bool

var layoutRules = map[DatasetType]layoutRule{
	GeneList:    geneListLayout,
	RnaSeq:      rnaSeqLayout,
	BIOM:        anyLayout,
	ISA:         anyLayout,
	BigwigFiles: anyLayout,
}

// AllDatasetTypes lists the supported types in a stable order.
func AllDatasetTypes() []DatasetType {
	return []DatasetType{GeneList, RnaSeq, BIOM, ISA, BigwigFiles}
}

// ParseDatasetType maps a UD type name onto the enumeration. An unknown name
// means the source no longer matches what this tool was written for.
func ParseDatasetType(name string) (DatasetType, error) {
	t := DatasetType(name)
	if _, ok := layoutRules[t]; !ok {
		return "", errors.NotSupportedf("UD type %q", name)
	}
	return t, nil
}

func geneListLayout(files []string) bool {
	return len(files) == 1 && files[0] == "genelist.txt"
}

func rnaSeqLayout(files []string) bool {
	for _, f := range files {
		if f == "manifest.txt" {
			return true
		}
	}
	return false
}

func anyLayout([]string) bool { return true }

// plainFileName rejects names that would escape the staging directory.
func plainFileName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

type Validator struct {
	Sink IrregularSink
}

func NewValidator(sink IrregularSink) *Validator {
	return &Validator{Sink: sink}
}

// SelectFiles returns the files of ds to migrate. A layout that does not fit
// the type is reported to the irregular sink and returned as
// ErrIrregularLayout; an unknown type is returned as a NotSupported error.
func (v *Validator) SelectFiles(ds *models.LegacyDataset) ([]string, error) {
	dsType, err := ParseDatasetType(ds.Type.Name)
	if err != nil {
		return nil, errors.Annotatef(err, "dataset %d", ds.ID)
	}

	files := ds.FileNames()
	ok := layoutRules[dsType](files)
	for _, f := range files {
		if !plainFileName(f) {
			ok = false
		}
	}
	if !ok {
		if v.Sink != nil {
			if err := v.Sink.Irregular(ds.ID, string(dsType), files); err != nil {
				return nil, errors.Annotate(err, "reporting irregular dataset")
			}
		}
		return nil, ErrIrregularLayout
	}
	return files, nil
}
