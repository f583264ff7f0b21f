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

	"github.com/dmwm/wmstage/metrics"
)

// A DeleteManager removes files from the first destination at which their
// removal succeeds. Like a StageOutManager, it's meant for use by a single
// goroutine.
type DeleteManager struct {
	manager
}

// creates a delete manager for the site (or override) in the given options
func NewDeleteManager(opts Options) (*DeleteManager, error) {
	m, err := newManager(opts)
	if err != nil {
		return nil, err
	}
	return &DeleteManager{manager: m}, nil
}

// Deletes the given file, trying each destination in order until a removal
// succeeds. On success the file's PFN and RSE are set to those of the
// destination it was removed from. Otherwise a *DeleteFailure carrying every
// attempt is returned.
func (m *DeleteManager) Delete(file *File) (*File, error) {
	slog.Info(fmt.Sprintf("Working on file: %s", file.LFN))
	file.Attempts = make([]Attempt, 0)

	var lastErr error
	if m.override != nil {
		slog.Info("Attempting deletion from override")
		pfn := m.override.LFNPrefix + file.LFN
		lastErr = m.deleteAt(file, pfn, m.override.Name(), m.override.Command, AttemptOverride)
	} else {
		slog.Info(fmt.Sprintf("Attempting to delete with %d stage-outs", len(m.destinations)))
		for _, dest := range m.destinations {
			stageOut := dest.StageOut
			protocol := dest.Catalog.PreferredProtocol
			pfn, ok := dest.Catalog.MatchLFN(protocol, file.LFN)
			if !ok {
				lastErr = &CatalogMissError{LFN: file.LFN, Protocol: protocol, Destination: stageOut.Name()}
				file.addAttempt(Attempt{
					RSE:     stageOut.Name(),
					Command: stageOut.Command,
					Type:    AttemptLocal,
					Exit:    ExitDeleteFailure,
					Error:   lastErr.Error(),
				})
				metrics.RecordAttempt(AttemptLocal, ExitDeleteFailure)
				continue
			}
			lastErr = m.deleteAt(file, pfn, stageOut.Name(), stageOut.Command, AttemptLocal)
			if lastErr == nil {
				break
			}
		}
	}

	if lastErr != nil {
		metrics.Deletions.WithLabelValues(metrics.Status(false)).Inc()
		return file, &DeleteFailure{
			LFN:      file.LFN,
			Attempts: append([]Attempt{}, file.Attempts...),
			Err:      lastErr,
		}
	}
	metrics.Deletions.WithLabelValues(metrics.Status(true)).Inc()
	slog.Info(fmt.Sprintf("Delete successful: LFN %s, PFN %s, RSE %s", file.LFN, file.PFN, file.RSE))
	return file, nil
}

// removes the file's PFN with the given command, recording the attempt
func (m *DeleteManager) deleteAt(file *File, pfn, rse, command, attemptType string) error {
	attempt := Attempt{
		RSE:     rse,
		Command: command,
		Type:    attemptType,
	}
	err := m.DeletePFN(pfn, file.LFN, command)
	if err != nil {
		attempt.Exit = ExitDeleteFailure
		attempt.Error = err.Error()
	} else {
		file.PFN, file.RSE = pfn, rse
		attempt.Exit = ExitSuccess
	}
	file.addAttempt(attempt)
	metrics.RecordAttempt(attempt.Type, attempt.Exit)
	return err
}

// Removes the given PFN using the backend with the given name. Errors are
// returned as *RemovalError.
func (m *DeleteManager) DeletePFN(pfn, lfn, command string) error {
	backend, err := m.backend(command)
	if err == nil {
		err = protect(command, func() error {
			return backend.Remove(pfn)
		})
	}
	if err != nil {
		slog.Error(fmt.Sprintf("Failed to delete file: %s", pfn))
		return &RemovalError{LFN: lfn, PFN: pfn, Command: command, Err: err}
	}
	return nil
}
