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

// These tests must be run serially, since the journal is a single instance.

package journal

import (
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmwm/wmstage/config"
	"github.com/dmwm/wmstage/stagetest"
)

// runs all tests serially
func TestRunner(t *testing.T) {
	tester := SerialTests{Test: t}
	tester.TestInitAndFinalize()
	tester.TestRecordSuccessfulStageOut()
	tester.TestRecordFailedDeletion()
	tester.TestRecordsInTimeRange()
	tester.TestRejectInvalidRecords()
	tester.TestOpenWhileBusy()
	tester.TestNotOpen()
}

// tests the construction of manifests for staged-out files
func TestNewManifest(t *testing.T) {
	assert := assert.New(t)

	id := uuid.New()
	manifest, err := NewManifest(id, stagedFiles())
	assert.Nil(err)
	assert.NotNil(manifest)
	assert.Equal([]string{"store/mc/run1/a.root"}, manifest.ResourceNames())

	resource := manifest.GetResource("store/mc/run1/a.root")
	assert.NotNil(resource)
	descriptor := resource.Descriptor()
	assert.Equal("root://xrootd.example.org//store/mc/run1/a.root", descriptor["pfn"])
	assert.Equal("adler32:0a1b2c3d", descriptor["hash"])
	assert.Equal(id.String(), manifest.Descriptor()["id"])

	// nothing staged out, nothing to describe
	manifest, err = NewManifest(id, []FileEntry{{LFN: "/store/b.root", Attempts: 2}})
	assert.Nil(err)
	assert.Nil(manifest)
}

func TestResourceNamesAndPaths(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("store/mc/a_b.root", resourceName("/store/MC/a b.root"))
	assert.Equal("store/a.root", resourcePath("davs://host:1094//store/a.root"))
	assert.Equal("tmp/a.root", resourcePath("/tmp/a.root"))
	assert.Equal("tmp/a.root", resourcePath("file:///tmp/a.root"))
	assert.True(isHex("deadBEEF"))
	assert.False(isHex("md5:1234"))
	assert.False(isHex(""))
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

// this function gets called at the beginning of a test session
func setup() {
	stagetest.EnableDebugLogging()

	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "wmstage-journal-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}

	// read in the config file with TESTING_DIR replaced
	myConfig := strings.ReplaceAll(journalConfig, "TESTING_DIR", TESTING_DIR)
	err = config.Init([]byte(myConfig))
	if err != nil {
		log.Panicf("Couldn't initialize configuration: %s", err)
	}

	// create the data directory where the journal lives
	err = os.Mkdir(config.Service.DataDirectory, 0755)
	if err != nil {
		log.Panicf("Couldn't create data directory: %s", err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	if IsOpen() {
		Finalize()
	}
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// To run the tests serially, we attach them to a SerialTests type and
// have them run by a a single test runner.
type SerialTests struct{ Test *testing.T }

func (t *SerialTests) TestInitAndFinalize() {
	assert := assert.New(t.Test)

	assert.False(IsOpen())
	err := Init()
	assert.Nil(err)
	assert.True(IsOpen())
	err = Finalize()
	assert.Nil(err)
	assert.False(IsOpen())
}

func (t *SerialTests) TestRecordSuccessfulStageOut() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	id := uuid.New()
	manifest, err := NewManifest(id, stagedFiles())
	assert.Nil(err)

	start := time.Now()
	record := Record{
		Id:        id,
		Operation: OperationStageOut,
		Site:      "T2_US_Example",
		Status:    StatusFailed,
		StartTime: start,
		StopTime:  start.Add(2 * time.Second),
		Files:     stagedFiles(),
		Manifest:  manifest,
	}
	err = RecordOperation(record)
	assert.Nil(err)

	record1, err := OperationRecord(id)
	assert.Nil(err)
	assert.Equal(record.Id, record1.Id)
	assert.Equal(record.Operation, record1.Operation)
	assert.Equal(record.Site, record1.Site)
	assert.Equal(record.Status, record1.Status)
	assert.True(record.StartTime.Equal(record1.StartTime))
	assert.True(record.StopTime.Equal(record1.StopTime))
	assert.Equal(record.Files, record1.Files)
	assert.NotNil(record1.Manifest)
	assert.Equal(manifest.ResourceNames(), record1.Manifest.ResourceNames())

	// the same ID can't be recorded twice
	err = RecordOperation(record)
	assert.NotNil(err)
	assert.IsType(&NewRecordError{}, err)

	err = Finalize()
	assert.Nil(err)
}

func (t *SerialTests) TestRecordFailedDeletion() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	start := time.Now()
	record := Record{
		Id:        uuid.New(),
		Operation: OperationDelete,
		Site:      "T2_US_Example",
		Status:    StatusFailed,
		StartTime: start,
		StopTime:  start.Add(time.Second),
		Files: []FileEntry{
			{LFN: "/store/mc/run1/b.root", Attempts: 2, Error: "no destination could delete the file"},
		},
	}
	err = RecordOperation(record)
	assert.Nil(err)

	record1, err := OperationRecord(record.Id)
	assert.Nil(err)
	assert.Equal(record.Id, record1.Id)
	assert.Equal(record.Status, record1.Status)
	assert.Equal(record.Files, record1.Files)
	assert.Nil(record1.Manifest)

	// records survive reopening the journal
	err = Finalize()
	assert.Nil(err)
	err = Init()
	assert.Nil(err)
	record1, err = OperationRecord(record.Id)
	assert.Nil(err)
	assert.Equal(record.Id, record1.Id)

	_, err = OperationRecord(uuid.New())
	assert.NotNil(err)
	assert.IsType(&RecordNotFoundError{}, err)

	err = Finalize()
	assert.Nil(err)
}

func (t *SerialTests) TestRecordsInTimeRange() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	base := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		record := Record{
			Id:        uuid.New(),
			Operation: OperationStageOut,
			Site:      "T2_US_Example",
			Status:    StatusSucceeded,
			StartTime: base.Add(time.Duration(i) * time.Hour),
			StopTime:  base.Add(time.Duration(i)*time.Hour + time.Minute),
			Files:     []FileEntry{},
		}
		err = RecordOperation(record)
		assert.Nil(err)
		ids = append(ids, record.Id)
	}

	// bounds are inclusive
	records, err := Records(base, base.Add(time.Hour+time.Minute))
	assert.Nil(err)
	assert.Equal(2, len(records))
	if len(records) == 2 {
		assert.Equal(ids[0], records[0].Id)
		assert.Equal(ids[1], records[1].Id)
	}

	records, err = Records(base.Add(-time.Hour), base.Add(-time.Minute))
	assert.Nil(err)
	assert.Equal(0, len(records))

	err = Finalize()
	assert.Nil(err)
}

func (t *SerialTests) TestRejectInvalidRecords() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)

	err = RecordOperation(Record{Id: uuid.New(), Operation: "copy", Status: StatusSucceeded})
	assert.NotNil(err)
	assert.IsType(&NewRecordError{}, err)

	err = RecordOperation(Record{Id: uuid.New(), Operation: OperationDelete, Status: "done"})
	assert.NotNil(err)
	assert.IsType(&NewRecordError{}, err)

	err = Finalize()
	assert.Nil(err)
}

// the journal stays open while its goroutine is busy with requests, and a
// goroutine that has exited never takes a later journal down with it
func (t *SerialTests) TestOpenWhileBusy() {
	assert := assert.New(t.Test)

	err := Init()
	assert.Nil(err)
	stale := currentChannels()

	base := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)
	const numRecords = 50
	var wg sync.WaitGroup
	errs := make(chan error, numRecords)
	for i := 0; i < numRecords; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- RecordOperation(Record{
				Id:        uuid.New(),
				Operation: OperationDelete,
				Status:    StatusSucceeded,
				StartTime: base.Add(time.Duration(i) * time.Second),
				StopTime:  base.Add(time.Duration(i)*time.Second + time.Millisecond),
			})
		}(i)
	}
	for i := 0; i < numRecords; i++ {
		assert.True(IsOpen())
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.Nil(err)
	}
	assert.True(IsOpen())

	records, err := Records(base, base.Add(numRecords*time.Second))
	assert.Nil(err)
	assert.Equal(numRecords, len(records))

	err = Finalize()
	assert.Nil(err)
	assert.False(IsOpen())
	select {
	case <-stale.Done:
	default:
		assert.Fail("journal goroutine still running after Finalize")
	}

	// a reopened journal is unaffected by the one that exited
	err = Init()
	assert.Nil(err)
	assert.True(IsOpen())
	assert.NotEqual(stale.Done, currentChannels().Done)
	err = RecordOperation(Record{Id: uuid.New(), Operation: OperationDelete, Status: StatusSucceeded})
	assert.Nil(err)

	// requests sent on the exited journal's channels fail instead of hanging
	closed := make(chan error, 1)
	go func() {
		reply := make(chan error, 1)
		select {
		case stale.Input.CreateRecord <- createRequest{Reply: reply}:
			closed <- nil
		case <-stale.Done:
			closed <- &NotOpenError{}
		}
	}()
	assert.IsType(&NotOpenError{}, <-closed)

	err = Finalize()
	assert.Nil(err)
}

func (t *SerialTests) TestNotOpen() {
	assert := assert.New(t.Test)

	assert.False(IsOpen())
	err := RecordOperation(Record{Id: uuid.New(), Operation: OperationDelete, Status: StatusSucceeded})
	assert.IsType(&NotOpenError{}, err)
	_, err = OperationRecord(uuid.New())
	assert.IsType(&NotOpenError{}, err)
	_, err = Records(time.Time{}, time.Now())
	assert.IsType(&NotOpenError{}, err)
	assert.Nil(Finalize())
}

// files handled by a stage-out in which one of two files failed
func stagedFiles() []FileEntry {
	return []FileEntry{
		{
			LFN:       "/store/mc/run1/a.root",
			PFN:       "root://xrootd.example.org//store/mc/run1/a.root",
			RSE:       "T2_US_Example",
			Command:   "xrdcp",
			Adler32:   "0a1b2c3d",
			Succeeded: true,
			Attempts:  1,
		},
		{
			LFN:      "/store/mc/run1/b.root",
			Attempts: 2,
			Error:    "catalog miss",
		},
	}
}

// temporary testing directory
var TESTING_DIR string

// configuration used by the journal tests
const journalConfig string = `
service:
  port: 8080
  max_connections: 100
  data_dir: TESTING_DIR/data
override:
  command: local
  lfn_prefix: TESTING_DIR/storage
`
