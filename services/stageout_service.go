package services

import (
	"context"

	"github.com/dmwm/wmstage/stageout"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"wmstage" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Site          string `json:"site,omitempty" example:"T2_US_Example" doc:"The site whose stage-outs the service uses"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a file to be staged out or deleted
type FileRequest struct {
	LFN      string `json:"lfn" example:"/store/mc/run1/a.root" doc:"logical file name (a clean path below /store/)"`
	LocalPFN string `json:"local_pfn,omitempty" example:"/srv/job/a.root" doc:"absolute path of the file to stage out, below the service's local_root (stage-outs only)"`
	// algorithm -> value
	Checksums map[string]string `json:"checksums,omitempty" doc:"checksums of the file, e.g. {\"adler32\": \"0a1b2c3d\"}"`
}

// a request to stage out files (POST)
type StageOutRequest struct {
	Files []FileRequest `json:"files" minItems:"1" doc:"files to stage out, in order"`
	// if true and any file fails, files already staged out are removed
	CleanupOnFailure bool `json:"cleanup_on_failure,omitempty" doc:"remove staged-out files if any file fails"`
}

// a request to delete files (POST)
type DeletionRequest struct {
	Files []FileRequest `json:"files" minItems:"1" doc:"files to delete"`
}

// file statuses reported in responses
const (
	FileSucceeded = "succeeded"
	FileFailed    = "failed"
	FileCleaned   = "cleaned" // staged out, then removed after another file failed
)

// the outcome for a single file
type FileResult struct {
	LFN     string `json:"lfn"`
	PFN     string `json:"pfn,omitempty"`
	RSE     string `json:"rse,omitempty"`
	Command string `json:"command,omitempty"`
	Status  string `json:"status" enum:"succeeded,failed,cleaned"`
	Error   string `json:"error,omitempty"`
	// every attempt made for the file, in order
	Report []stageout.Attempt `json:"report"`
}

// a response for a stage-out or deletion
type OperationResponse struct {
	Id        string       `json:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the journal ID of the operation"`
	Operation string       `json:"operation" enum:"stageout,delete"`
	Site      string       `json:"site"`
	Status    string       `json:"status" enum:"succeeded,failed,cleaned"`
	Files     []FileResult `json:"files"`
}

// a response for a catalog lookup
type CatalogResponse struct {
	Path     string             `json:"path" doc:"the path that was mapped"`
	Mappings []stageout.Mapping `json:"mappings" doc:"the result at each destination, in the order they're tried"`
}

// a journaled operation
type JournalRecordResponse struct {
	Id        string         `json:"id"`
	Operation string         `json:"operation"`
	Site      string         `json:"site"`
	Status    string         `json:"status"`
	StartTime string         `json:"start_time" doc:"RFC3339 time at which the operation was requested"`
	StopTime  string         `json:"stop_time" doc:"RFC3339 time at which the operation completed"`
	Files     []JournalFile  `json:"files"`
	Manifest  map[string]any `json:"manifest,omitempty" doc:"Frictionless data package describing staged-out files"`
}

// a file entry in a journaled operation
type JournalFile struct {
	LFN       string `json:"lfn"`
	PFN       string `json:"pfn,omitempty"`
	RSE       string `json:"rse,omitempty"`
	Command   string `json:"command,omitempty"`
	Succeeded bool   `json:"succeeded"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// This type specifies the interface for the stage-out service.
type StageOutService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
