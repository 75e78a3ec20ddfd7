// Package models holds the wire types shared by the legacy User Datasets
// service, the VDI service and the migration pipeline.
package models

import (
	"strconv"

	"github.com/BartekS5/udmigrate/pkg/utils"
)

// UserID is a legacy user identifier. The UD service is inconsistent about
// encoding it as a number or a string, so both are accepted.
type UserID int64

func (u *UserID) UnmarshalJSON(data []byte) error {
	v, err := utils.UnmarshalFlexibleInt(data)
	if err != nil {
		return err
	}
	*u = UserID(v)
	return nil
}

func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

// LegacyDataset represents one entry of the UD listing. Share recipients get
// their own entry with UserID set to the recipient.
type LegacyDataset struct {
	ID           int64        `json:"id"`
	OwnerUserID  UserID       `json:"ownerUserId"`
	UserID       UserID       `json:"userId"`
	Owner        string       `json:"owner,omitempty"`
	Type         TypeInfo     `json:"type"`
	Projects     []string     `json:"projects"`
	Meta         Meta         `json:"meta"`
	Datafiles    []DataFile   `json:"datafiles"`
	Dependencies []Dependency `json:"dependencies"`
	SharedWith   []ShareGrant `json:"sharedWith"`
	Created      int64        `json:"created"`
	Size         int64        `json:"size,omitempty"`
}

type TypeInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Display string `json:"display,omitempty"`
}

type Meta struct {
	Name        string `json:"name"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type DataFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Dependency is kept as a loose object so unknown fields pass through to VDI
// untouched.
type Dependency map[string]interface{}

type ShareGrant struct {
	User            UserID `json:"user"`
	UserDisplayName string `json:"userDisplayName,omitempty"`
	Email           string `json:"email,omitempty"`
	Time            int64  `json:"time,omitempty"`
}

// IsOwnerRecord reports whether the entry is seen from the owner's side.
func (d *LegacyDataset) IsOwnerRecord() bool {
	return d.OwnerUserID == d.UserID
}

// PrimaryProject returns the first project, or "" when there is none.
func (d *LegacyDataset) PrimaryProject() string {
	if len(d.Projects) == 0 {
		return ""
	}
	return d.Projects[0]
}

func (d *LegacyDataset) FileNames() []string {
	names := make([]string, 0, len(d.Datafiles))
	for _, f := range d.Datafiles {
		names = append(names, f.Name)
	}
	return names
}

func (d *LegacyDataset) TotalFileSize() int64 {
	var total int64
	for _, f := range d.Datafiles {
		total += f.Size
	}
	return total
}
