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
)

// indicates that a manager could not be set up (an incomplete override, or no
// usable stage-outs)
type InitError struct {
	Message string
}

func (e InitError) Error() string {
	return fmt.Sprintf("Unable to initialize stage-out: %s", e.Message)
}

// indicates that a destination's catalog has no rule mapping an LFN
type CatalogMissError struct {
	LFN, Protocol, Destination string
}

func (e CatalogMissError) Error() string {
	return fmt.Sprintf("catalog miss: unable to map %s to a PFN with protocol '%s' for %s",
		e.LFN, e.Protocol, e.Destination)
}

// indicates that a backend panicked while handling a file
type BackendPanicError struct {
	Command string
	Value   any
}

func (e BackendPanicError) Error() string {
	return fmt.Sprintf("unexpected failure in backend '%s': %v", e.Command, e.Value)
}

// indicates that a PFN could not be removed
type RemovalError struct {
	LFN, PFN, Command string
	Err               error
}

func (e RemovalError) Error() string {
	return fmt.Sprintf("Failed to delete %s (PFN %s) using '%s': %s",
		e.LFN, e.PFN, e.Command, e.Err.Error())
}

func (e RemovalError) Unwrap() error {
	return e.Err
}

// indicates that a file could not be staged out to any destination
type StageOutFailure struct {
	LFN      string
	Attempts []Attempt
	Err      error // error from the last attempt
}

func (e StageOutFailure) Error() string {
	return fmt.Sprintf("Unable to stage out %s after %d attempt(s): %s",
		e.LFN, len(e.Attempts), e.Err.Error())
}

func (e StageOutFailure) Unwrap() error {
	return e.Err
}

// indicates that a file could not be deleted from any destination
type DeleteFailure struct {
	LFN      string
	Attempts []Attempt
	Err      error // error from the last attempt
}

func (e DeleteFailure) Error() string {
	return fmt.Sprintf("Unable to delete %s after %d attempt(s): %s",
		e.LFN, len(e.Attempts), e.Err.Error())
}

func (e DeleteFailure) Unwrap() error {
	return e.Err
}
