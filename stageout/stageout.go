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

package stageout

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dmwm/wmstage/metrics"
)

// A StageOutManager copies files to the first destination that accepts them.
// It remembers the files it has staged out so they can be removed again if
// the job they belong to fails. A StageOutManager is not safe for concurrent
// use; run one per goroutine.
type StageOutManager struct {
	manager
	// staged-out files by LFN
	completed map[string]*File
	// files that couldn't be staged out, by LFN
	failed map[string]*File
}

// creates a stage-out manager for the site (or override) in the given options
func NewStageOutManager(opts Options) (*StageOutManager, error) {
	m, err := newManager(opts)
	if err != nil {
		return nil, err
	}
	return &StageOutManager{
		manager:   m,
		completed: make(map[string]*File),
		failed:    make(map[string]*File),
	}, nil
}

// Stages out the given file, trying each destination in order until one
// succeeds. On success, the file's PFN, RSE and Command are set and the file
// is returned. Otherwise a *StageOutFailure is returned carrying every
// attempt. Either way, file.Attempts holds the attempts made.
func (m *StageOutManager) StageOut(file *File) (*File, error) {
	slog.Info(fmt.Sprintf("Working on file: %s", file.LFN))
	file.Attempts = make([]Attempt, 0)
	file.PFN, file.RSE, file.Command = "", "", ""

	var lastErr error
	if m.override != nil {
		lastErr = m.stageOutOverride(file)
	} else {
		slog.Info(fmt.Sprintf("Attempting %d stage-outs", len(m.destinations)))
		for _, dest := range m.destinations {
			lastErr = m.stageOutTo(file, dest)
			if lastErr == nil {
				break
			}
		}
	}

	if lastErr != nil {
		delete(m.completed, file.LFN)
		m.failed[file.LFN] = file
		metrics.StageOuts.WithLabelValues(metrics.Status(false)).Inc()
		return file, &StageOutFailure{
			LFN:      file.LFN,
			Attempts: append([]Attempt{}, file.Attempts...),
			Err:      lastErr,
		}
	}

	m.completed[file.LFN] = file
	delete(m.failed, file.LFN)
	metrics.StageOuts.WithLabelValues(metrics.Status(true)).Inc()
	slog.Info(fmt.Sprintf("Stage out successful: %s -> %s (%s, %s)",
		file.LFN, file.PFN, file.RSE, file.Command))
	return file, nil
}

// attempts to stage the file out to the given destination, recording the
// attempt
func (m *StageOutManager) stageOutTo(file *File, dest destination) error {
	stageOut := dest.StageOut
	protocol := dest.Catalog.PreferredProtocol
	attempt := Attempt{
		RSE:     stageOut.Name(),
		Command: stageOut.Command,
		Type:    AttemptLocal,
	}

	pfn, ok := dest.Catalog.MatchLFN(protocol, file.LFN)
	var err error
	if !ok {
		err = &CatalogMissError{LFN: file.LFN, Protocol: protocol, Destination: stageOut.Name()}
		slog.Error(fmt.Sprintf("Unable to map LFN to PFN: %s using catalog\n%s",
			file.LFN, dest.Catalog.String()))
	} else {
		slog.Info(fmt.Sprintf("LFN to PFN match made: %s -> %s", file.LFN, pfn))
		err = m.transfer(stageOut.Command, protocol, file, pfn, stageOut.Option)
	}

	if err != nil {
		slog.Info(fmt.Sprintf("Stage out failure for %s using stage-out %s: %s",
			file.LFN, stageOut.String(), err.Error()))
		attempt.Exit = ExitLocalFailure
		attempt.Error = err.Error()
		file.addAttempt(attempt)
		metrics.RecordAttempt(attempt.Type, attempt.Exit)
		return err
	}

	file.PFN, file.RSE, file.Command = pfn, stageOut.Name(), stageOut.Command
	attempt.Exit = ExitSuccess
	file.addAttempt(attempt)
	metrics.RecordAttempt(attempt.Type, attempt.Exit)
	return nil
}

// attempts to stage the file out to the override destination, recording the
// attempt
func (m *StageOutManager) stageOutOverride(file *File) error {
	slog.Info("Attempting stage out from override")
	override := m.override
	attempt := Attempt{
		RSE:     override.Name(),
		Command: override.Command,
		Type:    AttemptOverride,
	}

	// no catalog: the PFN is the prefix followed by the LFN, verbatim
	pfn := override.LFNPrefix + file.LFN
	err := m.transfer(override.Command, override.Command, file, pfn, override.Option)
	if err != nil {
		slog.Info(fmt.Sprintf("Override stage out failure for %s: %s", file.LFN, err.Error()))
		attempt.Exit = ExitOverrideFailure
		attempt.Error = err.Error()
		file.addAttempt(attempt)
		metrics.RecordAttempt(attempt.Type, attempt.Exit)
		return err
	}

	file.PFN, file.RSE, file.Command = pfn, override.Name(), override.Command
	attempt.Exit = ExitSuccess
	file.addAttempt(attempt)
	metrics.RecordAttempt(attempt.Type, attempt.Exit)
	return nil
}

// hands the file to the given backend
func (m *StageOutManager) transfer(command, protocol string, file *File, pfn, options string) error {
	backend, err := m.backend(command)
	if err != nil {
		return err
	}
	return protect(command, func() error {
		return backend.Transfer(protocol, file.LocalPFN, pfn, options, file.Checksums)
	})
}

// returns the LFNs of the files staged out (and not yet cleaned up), sorted
func (m *StageOutManager) Completed() []string {
	return sortedKeys(m.completed)
}

// returns the LFNs of the files that couldn't be staged out, sorted
func (m *StageOutManager) Failed() []string {
	return sortedKeys(m.failed)
}

// Removes every staged-out file from its destination, so that a job that
// fails part way through leaves nothing behind. Failures are logged and the
// file is kept for another try; removed files are forgotten, so calling this
// twice is harmless.
func (m *StageOutManager) CleanupCompleted() {
	deleter := &DeleteManager{manager: m.manager}
	for _, lfn := range m.Completed() {
		file := m.completed[lfn]
		slog.Info(fmt.Sprintf("Cleaning out file %s: removing PFN %s using %s",
			lfn, file.PFN, file.Command))
		err := deleter.DeletePFN(file.PFN, lfn, file.Command)
		if err != nil {
			slog.Error(fmt.Sprintf("Failed to clean up staged-out file after error: %s: %s",
				lfn, err.Error()))
			metrics.Cleanups.WithLabelValues(metrics.Status(false)).Inc()
			continue
		}
		delete(m.completed, lfn)
		metrics.Cleanups.WithLabelValues(metrics.Status(true)).Inc()
	}
}

func sortedKeys(files map[string]*File) []string {
	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
