// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package journal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dmwm/wmstage/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// This is the stage-out journal, which logs every stage-out and deletion
// request handled by the service. The journal is a table of operation records
// (one per request), plus a table of manifests describing the files each
// successful stage-out placed on storage.

// kinds of operations
const (
	OperationStageOut = "stageout"
	OperationDelete   = "delete"
)

// operation statuses
const (
	StatusSucceeded = "succeeded" // every file was handled
	StatusFailed    = "failed"    // at least one file failed
	StatusCleaned   = "cleaned"   // a file failed and the others were removed again
)

// the outcome for a single file in an operation
type FileEntry struct {
	LFN     string `json:"lfn"`
	PFN     string `json:"pfn,omitempty"`
	RSE     string `json:"rse,omitempty"`
	Command string `json:"command,omitempty"`
	// adler32 checksum, if known
	Adler32 string `json:"adler32,omitempty"`
	// true if the file was handled successfully
	Succeeded bool `json:"succeeded"`
	// number of destinations tried
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// a record storing all information relevant to an operation
type Record struct {
	// UUID associated with the operation
	Id uuid.UUID `json:"id"`
	// "stageout" or "delete"
	Operation string `json:"operation"`
	// the site (or override destination) handling the operation
	Site string `json:"site"`
	// status of the operation ("succeeded", "failed", or "cleaned")
	Status string `json:"status"`
	// times at which the operation was requested and at which it completed
	StartTime time.Time `json:"start_time"`
	StopTime  time.Time `json:"stop_time"`
	// per-file outcomes
	Files []FileEntry `json:"files"`
	// manifest describing staged-out files (stored separate from record)
	Manifest *datapackage.Package `json:"-"`
}

// initialize the stage-out journal
func Init() error {
	if IsOpen() {
		return nil
	}
	ready := make(chan error)
	go journalProcess(ready)
	return <-ready
}

// closes the stage-out journal (if it's been opened)
func Finalize() error {
	if !IsOpen() {
		return nil
	}
	channels := currentChannels()
	reply := make(chan error, 1)
	select {
	case channels.Input.Shutdown <- reply:
	case <-channels.Done:
		return nil
	}
	<-channels.Done
	select {
	case err := <-reply:
		return err
	default: // the goroutine exited before replying
		return &CantCloseError{Message: "journal exited during shutdown"}
	}
}

// returns true if the journal is open for writing, false if not
func IsOpen() bool {
	lock_.Lock()
	defer lock_.Unlock()
	return channels_.Open
}

// records a completed operation
// record: the record containing all operation information
func RecordOperation(record Record) error {
	switch record.Operation {
	case OperationStageOut, OperationDelete:
	default:
		return &NewRecordError{
			Id:      record.Id,
			Message: fmt.Sprintf("Invalid operation: %s", record.Operation),
		}
	}
	switch record.Status {
	case StatusSucceeded, StatusFailed, StatusCleaned:
	default:
		return &NewRecordError{
			Id:      record.Id,
			Message: fmt.Sprintf("Invalid status: %s", record.Status),
		}
	}

	if !IsOpen() {
		return &NotOpenError{}
	}

	channels := currentChannels()
	reply := make(chan error, 1)
	select {
	case channels.Input.CreateRecord <- createRequest{Record: record, Reply: reply}:
	case <-channels.Done:
		return &NotOpenError{}
	}
	select {
	case err := <-reply:
		return err
	case <-channels.Done:
		return &NotOpenError{}
	}
}

// retrieves the record for the operation with the given ID
func OperationRecord(id uuid.UUID) (Record, error) {
	if !IsOpen() {
		return Record{}, &NotOpenError{}
	}
	result := fetch(fetchRequest{Id: id, ById: true})
	if result.Error != nil {
		return Record{}, result.Error
	}
	if len(result.Records) == 0 {
		return Record{}, &RecordNotFoundError{Id: id}
	}
	return result.Records[0], nil
}

// retrieves records for operations that started and finished within the time
// range with the given (inclusive) bounds
// start: the beginning of the time period of interest
// stop: the end of the time period of interest
func Records(start, stop time.Time) ([]Record, error) {
	if !IsOpen() {
		return nil, &NotOpenError{}
	}
	result := fetch(fetchRequest{Start: start, Stop: stop})
	return result.Records, result.Error
}

// hands a fetch request to the journal's goroutine and waits for the result
func fetch(request fetchRequest) fetchResult {
	channels := currentChannels()
	request.Reply = make(chan fetchResult, 1)
	select {
	case channels.Input.FetchRecords <- request:
	case <-channels.Done:
		return fetchResult{Error: &NotOpenError{}}
	}
	select {
	case result := <-request.Reply:
		return result
	case <-channels.Done:
		return fetchResult{Error: &NotOpenError{}}
	}
}

// Creates a Frictionless data package describing the given staged-out files.
// Files that weren't staged out are omitted.
func NewManifest(id uuid.UUID, files []FileEntry) (*datapackage.Package, error) {
	resources := make([]any, 0, len(files))
	for _, file := range files {
		if !file.Succeeded || file.PFN == "" {
			continue
		}
		resource := map[string]any{
			"name":    resourceName(file.LFN),
			"path":    resourcePath(file.PFN),
			"pfn":     file.PFN,
			"lfn":     file.LFN,
			"rse":     file.RSE,
			"command": file.Command,
		}
		if isHex(file.Adler32) {
			resource["hash"] = "adler32:" + file.Adler32
		}
		resources = append(resources, resource)
	}
	if len(resources) == 0 {
		return nil, nil
	}
	descriptor := map[string]any{
		"name":      "manifest",
		"id":        id.String(),
		"resources": resources,
		"created":   time.Now().Format(time.RFC3339),
		"profile":   "data-package",
		"keywords":  []any{"wmstage", "manifest"},
	}
	return datapackage.New(descriptor, ".")
}

var invalidNameChars = regexp.MustCompile(`[^-a-z0-9._/]+`)
var hexDigits = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// Frictionless resource names are restricted to lower-case alphanumerics and
// a few separators
func resourceName(lfn string) string {
	return strings.Trim(invalidNameChars.ReplaceAllString(strings.ToLower(lfn), "_"), "/")
}

// resource paths are relative, so we strip any scheme and leading slashes
func resourcePath(pfn string) string {
	if _, path, found := strings.Cut(pfn, "://"); found {
		if _, rest, found := strings.Cut(path, "/"); found {
			pfn = rest
		} else {
			pfn = ""
		}
	}
	return strings.TrimLeft(pfn, "/")
}

func isHex(s string) bool {
	return hexDigits.MatchString(s)
}

//-----------
// Internals
//-----------

// The journal gets its own goroutine so it doesn't bring down the entire
// service if it crashes. Here we define "input" channels (main process ->
// goroutine); each request carries the channel on which the goroutine replies.
// The input channels are never closed: the goroutine closes Done when it exits,
// and senders select on it so they never block on a journal that's gone.

type createRequest struct {
	Record Record
	Reply  chan error
}

type fetchResult struct {
	Records []Record
	Error   error
}

type fetchRequest struct {
	Start, Stop time.Time
	Id          uuid.UUID
	ById        bool
	Reply       chan fetchResult
}

var lock_ sync.Mutex

type journalChannels struct {
	Open  bool // true while the goroutine is running
	Input struct {
		CreateRecord chan createRequest // for creating new records
		FetchRecords chan fetchRequest  // for fetching records
		Shutdown     chan chan error    // for shutting down the database
	}
	Done chan struct{} // closed when the goroutine exits
}

var channels_ journalChannels

// returns a copy of the current channels, safe to use without the lock
func currentChannels() journalChannels {
	lock_.Lock()
	defer lock_.Unlock()
	return channels_
}

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id         TEXT PRIMARY KEY,
	operation  TEXT NOT NULL,
	site       TEXT NOT NULL,
	status     TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	stop_time  INTEGER NOT NULL,
	files      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS operations_by_start_time ON operations (start_time);
CREATE TABLE IF NOT EXISTS manifests (
	id       TEXT PRIMARY KEY REFERENCES operations (id),
	manifest TEXT NOT NULL
);
`

func journalProcess(ready chan<- error) {

	// open the database, creating the schema if necessary
	dbPath := filepath.Join(config.Service.DataDirectory, "stageout_journal.db")
	conn, err := sqlite.OpenConn(dbPath, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		ready <- &CantOpenError{Message: err.Error()}
		return
	}
	if err = sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		ready <- &CantOpenError{Message: err.Error()}
		return
	}

	channels := openChannels()
	slog.Debug(fmt.Sprintf("Opened stage-out journal at %s", dbPath))
	ready <- nil

	// whatever the reason we exit, mark the journal closed and release the
	// database
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("Stage-out journal failed: %v", r))
			conn.Close()
		}
		closeChannels(channels)
	}()

	// handle requests
	for {
		select {

		case request := <-channels.Input.CreateRecord:
			request.Reply <- createRecord(conn, request.Record)

		case request := <-channels.Input.FetchRecords:
			var result fetchResult
			if request.ById {
				result.Records, result.Error = fetchRecordById(conn, request.Id)
			} else {
				result.Records, result.Error = fetchRecords(conn, request.Start, request.Stop)
			}
			request.Reply <- result

		case reply := <-channels.Input.Shutdown:
			if err := conn.Close(); err != nil {
				reply <- &CantCloseError{Message: err.Error()}
			} else {
				reply <- nil
			}
			return
		}
	}
}

func openChannels() journalChannels {
	lock_.Lock()
	defer lock_.Unlock()
	channels_.Open = true
	channels_.Input.CreateRecord = make(chan createRequest)
	channels_.Input.FetchRecords = make(chan fetchRequest)
	channels_.Input.Shutdown = make(chan chan error)
	channels_.Done = make(chan struct{})
	return channels_
}

func closeChannels(channels journalChannels) {
	lock_.Lock()
	defer lock_.Unlock()
	if channels_.Done == channels.Done {
		channels_.Open = false
	}
	close(channels.Done)
}

func createRecord(conn *sqlite.Conn, record Record) (err error) {
	files, err := json.Marshal(record.Files)
	if err != nil {
		return &NewRecordError{Id: record.Id, Message: err.Error()}
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return &NewRecordError{Id: record.Id, Message: err.Error()}
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO operations (id, operation, site, status, start_time, stop_time, files)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.Id.String(),
				record.Operation,
				record.Site,
				record.Status,
				record.StartTime.UnixNano(),
				record.StopTime.UnixNano(),
				string(files),
			},
		})
	if err != nil {
		return &NewRecordError{Id: record.Id, Message: err.Error()}
	}

	// if files were staged out, store their manifest (indexed by UUID)
	if record.Manifest != nil {
		jsonManifest, err := json.Marshal(record.Manifest.Descriptor())
		if err != nil {
			return &NewRecordError{Id: record.Id, Message: err.Error()}
		}
		err = sqlitex.Execute(conn, `INSERT INTO manifests (id, manifest) VALUES (?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{record.Id.String(), string(jsonManifest)},
			})
		if err != nil {
			return &NewRecordError{Id: record.Id, Message: err.Error()}
		}
	}
	return nil
}

const selectRecords = `
SELECT o.id, o.operation, o.site, o.status, o.start_time, o.stop_time, o.files, m.manifest
FROM operations o LEFT JOIN manifests m ON m.id = o.id
`

func fetchRecords(conn *sqlite.Conn, start, stop time.Time) ([]Record, error) {
	records := make([]Record, 0)
	err := sqlitex.Execute(conn,
		selectRecords+`WHERE o.start_time >= ? AND o.stop_time <= ? ORDER BY o.start_time`,
		&sqlitex.ExecOptions{
			Args: []any{start.UnixNano(), stop.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	return records, err
}

func fetchRecordById(conn *sqlite.Conn, id uuid.UUID) ([]Record, error) {
	records := make([]Record, 0, 1)
	err := sqlitex.Execute(conn, selectRecords+`WHERE o.id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	return records, err
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	id, err := uuid.Parse(stmt.ColumnText(0))
	if err != nil {
		return Record{}, &InvalidRecordError{Message: err.Error()}
	}
	record := Record{
		Id:        id,
		Operation: stmt.ColumnText(1),
		Site:      stmt.ColumnText(2),
		Status:    stmt.ColumnText(3),
		StartTime: time.Unix(0, stmt.ColumnInt64(4)),
		StopTime:  time.Unix(0, stmt.ColumnInt64(5)),
	}
	if err = json.Unmarshal([]byte(stmt.ColumnText(6)), &record.Files); err != nil {
		return Record{}, &InvalidRecordError{Id: id, Message: err.Error()}
	}
	if !stmt.ColumnIsNull(7) {
		record.Manifest, err = datapackage.FromString(stmt.ColumnText(7), "manifest.json",
			validator.InMemoryLoader())
		if err != nil {
			return Record{}, &InvalidRecordError{
				Id:      id,
				Message: fmt.Sprintf("unable to retrieve manifest: %s", err.Error()),
			}
		}
	}
	return record, nil
}
