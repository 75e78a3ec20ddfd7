package models

// DatasetTypeRef names a VDI dataset type.
type DatasetTypeRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CreatePayload is the "meta" part of a VDI proxy-upload request.
type CreatePayload struct {
	Name         string         `json:"name"`
	CreatedOn    string         `json:"createdOn"`
	Summary      string         `json:"summary"`
	Dependencies []Dependency   `json:"dependencies"`
	Description  string         `json:"description"`
	DatasetType  DatasetTypeRef `json:"datasetType"`
	Projects     []string       `json:"projects"`
	Visibility   string         `json:"visibility"`
	Origin       string         `json:"origin"`
}

// ImportStatus is the value of status.import on a VDI dataset.
type ImportStatus string

const (
	ImportAwaiting   ImportStatus = "awaiting"
	ImportInProgress ImportStatus = "in-progress"
	ImportComplete   ImportStatus = "complete"
	ImportInvalid    ImportStatus = "invalid"
	ImportFailed     ImportStatus = "failed"
)

// Terminal reports whether the import job has finished, successfully or not.
func (s ImportStatus) Terminal() bool {
	switch s {
	case ImportComplete, ImportInvalid, ImportFailed:
		return true
	}
	return false
}

// Failed reports whether the import finished with a rejection.
func (s ImportStatus) Failed() bool {
	return s == ImportInvalid || s == ImportFailed
}

type DatasetStatus struct {
	Import ImportStatus `json:"import"`
}

// DatasetDetails is the subset of GET /vdi-datasets/{id} the migrator reads.
type DatasetDetails struct {
	DatasetID      string        `json:"datasetId"`
	Status         DatasetStatus `json:"status"`
	ImportMessages []string      `json:"importMessages"`
}

type CreateResponse struct {
	DatasetID string `json:"datasetId"`
}

// ShareAction is the body of the share offer / receipt PUT requests.
type ShareAction struct {
	Action string `json:"action"`
}

const (
	ActionGrant  = "grant"
	ActionAccept = "accept"
)
