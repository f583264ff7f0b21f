package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/dmwm/wmstage/config"
	"github.com/dmwm/wmstage/journal"
	"github.com/dmwm/wmstage/metrics"
	"github.com/dmwm/wmstage/stageout"
)

// Version numbers
var majorVersion = 0
var minorVersion = 1
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// This type implements the StageOutService interface, copying files from
// worker nodes to the site's storage (or an override destination) and
// deleting them again on request.
type stageOutService struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root
func (service *stageOutService) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Site:          siteName(config.Override),
			Documentation: "/docs",
		},
	}, nil
}

// returns the name recorded for operations using the given override (or the
// configured site, if nil)
func siteName(override *config.OverrideConfig) string {
	if override != nil {
		if name := override.Name(); name != "" {
			return name
		}
		return "override"
	}
	return config.Site.Name
}

// LFNs are clean absolute paths below /store/
func validateLFN(lfn string) error {
	if !strings.HasPrefix(lfn, "/store/") || path.Clean(lfn) != lfn {
		return fmt.Errorf("Invalid LFN: %s (must be a clean path below /store/)", lfn)
	}
	return nil
}

// local PFNs are clean absolute paths, below service.local_root if it's set
func validateLocalPFN(pfn string) error {
	localPath := strings.TrimPrefix(strings.TrimPrefix(pfn, "file://"), "file:")
	if !filepath.IsAbs(localPath) || filepath.Clean(localPath) != localPath {
		return fmt.Errorf("Invalid local PFN: %s (must be a clean absolute path)", pfn)
	}
	if root := config.Service.LocalRoot; root != "" {
		rel, err := filepath.Rel(filepath.Clean(root), localPath)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
			return fmt.Errorf("Invalid local PFN: %s (must be below %s)", pfn, root)
		}
	}
	return nil
}

// checks every file in a request, returning a 422 error for the first
// invalid one
func validateFiles(files []FileRequest, stagingOut bool) error {
	for _, file := range files {
		if err := validateLFN(file.LFN); err != nil {
			return huma.Error422UnprocessableEntity(err.Error())
		}
		if stagingOut {
			if err := validateLocalPFN(file.LocalPFN); err != nil {
				return huma.Error422UnprocessableEntity(err.Error())
			}
		}
	}
	return nil
}

// builds a response entry for a file
func fileResult(file *stageout.File, err error) FileResult {
	result := FileResult{
		LFN:     file.LFN,
		PFN:     file.PFN,
		RSE:     file.RSE,
		Command: file.Command,
		Status:  FileSucceeded,
		Report:  file.Attempts,
	}
	if err != nil {
		result.Status = FileFailed
		result.Error = err.Error()
	}
	return result
}

// builds a journal entry for a file
func journalEntry(result FileResult, checksums map[string]string) journal.FileEntry {
	return journal.FileEntry{
		LFN:       result.LFN,
		PFN:       result.PFN,
		RSE:       result.RSE,
		Command:   result.Command,
		Adler32:   checksums["adler32"],
		Succeeded: result.Status == FileSucceeded,
		Attempts:  len(result.Report),
		Error:     result.Error,
	}
}

// records the given operation in the journal, if it's open; journal failures
// are logged but don't fail the request
func recordOperation(record journal.Record) {
	if !journal.IsOpen() {
		return
	}
	if record.Operation == journal.OperationStageOut {
		manifest, err := journal.NewManifest(record.Id, record.Files)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't create manifest for operation %s: %s",
				record.Id.String(), err.Error()))
		} else {
			record.Manifest = manifest
		}
	}
	if err := journal.RecordOperation(record); err != nil {
		slog.Error(err.Error())
	}
}

type OperationOutput struct {
	Body OperationResponse `doc:"The outcome of the operation for each file"`
}

// handler method for staging out files
func (service *stageOutService) createStageOut(ctx context.Context,
	input *struct {
		Body StageOutRequest `doc:"A list of files to stage out"`
	}) (*OperationOutput, error) {

	if err := validateFiles(input.Body.Files, true); err != nil {
		return nil, err
	}

	start := time.Now()
	opts := stageout.ConfiguredOptions()
	manager, err := stageout.NewStageOutManager(opts)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	id := uuid.New()
	slog.Info(fmt.Sprintf("Staging out %d file(s) (operation %s)", len(input.Body.Files), id.String()))
	output := &OperationOutput{
		Body: OperationResponse{
			Id:        id.String(),
			Operation: journal.OperationStageOut,
			Site:      siteName(opts.Override),
			Status:    journal.StatusSucceeded,
			Files:     make([]FileResult, len(input.Body.Files)),
		},
	}
	for i, request := range input.Body.Files {
		file := &stageout.File{
			LFN:       request.LFN,
			LocalPFN:  request.LocalPFN,
			Checksums: request.Checksums,
		}
		_, err := manager.StageOut(file)
		output.Body.Files[i] = fileResult(file, err)
		if err != nil {
			output.Body.Status = journal.StatusFailed
		}
	}

	// remove what we placed if anything failed and the client asked us to
	if output.Body.Status == journal.StatusFailed && input.Body.CleanupOnFailure {
		manager.CleanupCompleted()
		remaining := make(map[string]bool)
		for _, lfn := range manager.Completed() {
			remaining[lfn] = true
		}
		for i, result := range output.Body.Files {
			if result.Status == FileSucceeded && !remaining[result.LFN] {
				output.Body.Files[i].Status = FileCleaned
			}
		}
		if len(remaining) == 0 {
			output.Body.Status = journal.StatusCleaned
		}
	}

	record := journal.Record{
		Id:        id,
		Operation: journal.OperationStageOut,
		Site:      output.Body.Site,
		Status:    output.Body.Status,
		StartTime: start,
		StopTime:  time.Now(),
		Files:     make([]journal.FileEntry, len(output.Body.Files)),
	}
	for i, result := range output.Body.Files {
		record.Files[i] = journalEntry(result, input.Body.Files[i].Checksums)
	}
	recordOperation(record)

	return output, nil
}

// handler method for deleting files
func (service *stageOutService) createDeletion(ctx context.Context,
	input *struct {
		Body DeletionRequest `doc:"A list of files to delete"`
	}) (*OperationOutput, error) {

	if err := validateFiles(input.Body.Files, false); err != nil {
		return nil, err
	}

	start := time.Now()
	opts := stageout.ConfiguredOptions()
	manager, err := stageout.NewDeleteManager(opts)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	id := uuid.New()
	slog.Info(fmt.Sprintf("Deleting %d file(s) (operation %s)", len(input.Body.Files), id.String()))
	output := &OperationOutput{
		Body: OperationResponse{
			Id:        id.String(),
			Operation: journal.OperationDelete,
			Site:      siteName(opts.Override),
			Status:    journal.StatusSucceeded,
			Files:     make([]FileResult, len(input.Body.Files)),
		},
	}
	record := journal.Record{
		Id:        id,
		Operation: journal.OperationDelete,
		Site:      output.Body.Site,
		StartTime: start,
		Files:     make([]journal.FileEntry, len(input.Body.Files)),
	}
	for i, request := range input.Body.Files {
		file := &stageout.File{LFN: request.LFN}
		_, err := manager.Delete(file)
		output.Body.Files[i] = fileResult(file, err)
		if err != nil {
			output.Body.Status = journal.StatusFailed
		}
		record.Files[i] = journalEntry(output.Body.Files[i], nil)
	}
	record.Status = output.Body.Status
	record.StopTime = time.Now()
	recordOperation(record)

	return output, nil
}

type CatalogOutput struct {
	Body CatalogResponse `doc:"The path mapped through the catalog of each destination"`
}

// handler method for mapping an LFN to PFNs
func (service *stageOutService) getPFN(ctx context.Context,
	input *struct {
		LFN string `query:"lfn" required:"true" example:"/store/mc/run1/a.root" doc:"the logical file name to map"`
	}) (*CatalogOutput, error) {

	manager, err := stageout.NewDeleteManager(stageout.ConfiguredOptions())
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &CatalogOutput{
		Body: CatalogResponse{
			Path:     input.LFN,
			Mappings: manager.MapLFN(input.LFN),
		},
	}, nil
}

// handler method for mapping a PFN back to LFNs
func (service *stageOutService) getLFN(ctx context.Context,
	input *struct {
		PFN string `query:"pfn" required:"true" example:"root://xrootd.example.org//store/mc/run1/a.root" doc:"the physical file name to map"`
	}) (*CatalogOutput, error) {

	manager, err := stageout.NewDeleteManager(stageout.ConfiguredOptions())
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &CatalogOutput{
		Body: CatalogResponse{
			Path:     input.PFN,
			Mappings: manager.MapPFN(input.PFN),
		},
	}, nil
}

// converts a journal record to its response form
func journalRecordResponse(record journal.Record) JournalRecordResponse {
	response := JournalRecordResponse{
		Id:        record.Id.String(),
		Operation: record.Operation,
		Site:      record.Site,
		Status:    record.Status,
		StartTime: record.StartTime.Format(time.RFC3339),
		StopTime:  record.StopTime.Format(time.RFC3339),
		Files:     make([]JournalFile, len(record.Files)),
	}
	for i, file := range record.Files {
		response.Files[i] = JournalFile{
			LFN:       file.LFN,
			PFN:       file.PFN,
			RSE:       file.RSE,
			Command:   file.Command,
			Succeeded: file.Succeeded,
			Attempts:  file.Attempts,
			Error:     file.Error,
		}
	}
	if record.Manifest != nil {
		response.Manifest = record.Manifest.Descriptor()
	}
	return response
}

type JournalOutput struct {
	Body []JournalRecordResponse `doc:"Operations that started and finished within the given period"`
}

// handler method for querying the journal
func (service *stageOutService) getJournal(ctx context.Context,
	input *struct {
		Start string `query:"start" example:"2024-01-01T00:00:00Z" doc:"beginning of the period (RFC3339, default: the beginning of time)"`
		Stop  string `query:"stop" example:"2024-02-01T00:00:00Z" doc:"end of the period (RFC3339, default: now)"`
	}) (*JournalOutput, error) {

	start, stop := time.Unix(0, 0), time.Now()
	var err error
	if input.Start != "" {
		if start, err = time.Parse(time.RFC3339, input.Start); err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("Invalid start time: %s", input.Start))
		}
	}
	if input.Stop != "" {
		if stop, err = time.Parse(time.RFC3339, input.Stop); err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("Invalid stop time: %s", input.Stop))
		}
	}

	records, err := journal.Records(start, stop)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable(err.Error())
	}
	output := &JournalOutput{
		Body: make([]JournalRecordResponse, len(records)),
	}
	for i, record := range records {
		output.Body[i] = journalRecordResponse(record)
	}
	return output, nil
}

type JournalRecordOutput struct {
	Body JournalRecordResponse `doc:"The journaled operation with the given ID"`
}

// handler method for fetching a single journaled operation
func (service *stageOutService) getJournalRecord(ctx context.Context,
	input *struct {
		Id uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID of the operation"`
	}) (*JournalRecordOutput, error) {

	record, err := journal.OperationRecord(input.Id)
	if err != nil {
		var notFound *journal.RecordNotFoundError
		if errors.As(err, &notFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error503ServiceUnavailable(err.Error())
	}
	return &JournalRecordOutput{
		Body: journalRecordResponse(record),
	}, nil
}

// returns the uptime for the service in seconds
func (service *stageOutService) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs a stage-out service given our configuration
func NewStageOutService() (StageOutService, error) {

	// validate our configuration
	if config.Override == nil && len(config.Site.StageOuts) == 0 {
		return nil, fmt.Errorf("No stage-outs or override were specified.")
	}

	service := new(stageOutService)
	service.Name = config.Service.Name
	service.Version = version
	service.Port = -1
	service.StartTime = time.Now()

	// set up routing
	service.Router = mux.NewRouter()
	service.API = humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	huma.Get(service.API, "/", service.getRoot)

	// API v1
	huma.Post(service.API, "/api/v1/stageouts", service.createStageOut)
	huma.Post(service.API, "/api/v1/deletions", service.createDeletion)
	huma.Get(service.API, "/api/v1/catalog/pfn", service.getPFN)
	huma.Get(service.API, "/api/v1/catalog/lfn", service.getLFN)
	huma.Get(service.API, "/api/v1/journal", service.getJournal)
	huma.Get(service.API, "/api/v1/journal/{id}", service.getJournalRecord)

	service.Router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return service, nil
}

// starts the stage-out service
func (service *stageOutService) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", config.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *stageOutService) Shutdown(ctx context.Context) error {
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *stageOutService) Close() {
	if service.Server != nil {
		service.Server.Close()
	}
}
