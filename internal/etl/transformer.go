package etl

import (
	"strings"
	"time"

	"github.com/BartekS5/udmigrate/pkg/models"
)

const (
	OriginGalaxy       = "galaxy"
	OriginDirectUpload = "direct-upload"
	VisibilityPrivate  = "private"

	// createdOnLayout is ISO-8601 with a numeric offset; never "Z".
	createdOnLayout = "2006-01-02T15:04:05.999-07:00"
)

// Transformer turns a UD listing entry into the VDI upload metadata. It does
// no I/O.
type Transformer struct {
	// Location is the zone used for createdOn; the migration host's zone by
	// default.
	Location *time.Location
}

func NewTransformer() *Transformer {
	return &Transformer{Location: time.Local}
}

func (t *Transformer) Translate(ds *models.LegacyDataset) models.CreatePayload {
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}

	return models.CreatePayload{
		Name:         ds.Meta.Name,
		CreatedOn:    time.UnixMilli(ds.Created).In(loc).Format(createdOnLayout),
		Summary:      ds.Meta.Summary,
		Dependencies: stripDependencies(ds.Dependencies),
		Description:  ds.Meta.Description,
		DatasetType:  normalizeType(ds.Type),
		Projects:     append([]string{}, ds.Projects...),
		Visibility:   VisibilityPrivate,
		Origin:       originFor(ds.Type.Name),
	}
}

func originFor(typeName string) string {
	switch DatasetType(typeName) {
	case RnaSeq, BigwigFiles:
		return OriginGalaxy
	}
	return OriginDirectUpload
}

// normalizeType applies the fixed renames VDI expects for old UD types.
func normalizeType(ti models.TypeInfo) models.DatasetTypeRef {
	ref := models.DatasetTypeRef{Name: ti.Name, Version: ti.Version}
	switch strings.ToLower(ti.Name) {
	case "isa":
		ref.Name = "isasimple"
		ref.Version = "1.0"
	case "biom":
		ref.Version = "1.0"
	}
	return ref
}

// stripDependencies copies the dependencies without compatibilityInfo, which
// VDI does not accept. The source records are left untouched.
func stripDependencies(deps []models.Dependency) []models.Dependency {
	out := make([]models.Dependency, 0, len(deps))
	for _, dep := range deps {
		c := make(models.Dependency, len(dep))
		for k, v := range dep {
			if k == "compatibilityInfo" {
				continue
			}
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}
