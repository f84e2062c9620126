package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-worker/constants"
)

// Disposition describes where the file physically is after routing.
type Disposition struct {
	Location  constants.Disposition `json:"location"`
	FileName  string                `json:"file_name"`
	Path      string                `json:"path"`
	Hash      string                `json:"source_hash"`
	Duplicate bool                  `json:"duplicate,omitempty"`
	DryRun    bool                  `json:"dry_run,omitempty"`
}

// RunArtifact is the success/warn audit document.
type RunArtifact struct {
	*Receipt
	Disposition Disposition `json:"disposition"`
}

// RunnerError classifies a failed file.
type RunnerError struct {
	Code    string              `json:"code"`
	Kind    constants.ErrorKind `json:"kind"`
	Message string              `json:"message"`
	At      time.Time           `json:"at"`
}

// ErrorArtifact is the failure audit document.
type ErrorArtifact struct {
	RunnerError RunnerError `json:"runner_error"`
	Disposition Disposition `json:"disposition"`
	Data        *Receipt    `json:"data"`
}
