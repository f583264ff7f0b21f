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

// exit codes recorded for attempts
const (
	ExitSuccess         = 0
	ExitOverrideFailure = 60310 // stage-out to an override destination failed
	ExitLocalFailure    = 60311 // stage-out to a site destination failed
	ExitDeleteFailure   = 60313 // deletion failed
)

// attempt types
const (
	AttemptLocal    = "LOCAL"
	AttemptOverride = "OVERRIDE"
)

// An Attempt records a single try at staging out (or deleting) a file at one
// destination.
type Attempt struct {
	LFN     string `json:"lfn"`
	RSE     string `json:"rse,omitempty"`
	Command string `json:"command,omitempty"`
	// LOCAL (site destination) or OVERRIDE
	Type string `json:"type"`
	// 0 for success, nonzero for failure
	Exit int `json:"exit"`
	// description of the failure, if any
	Error string `json:"error,omitempty"`
}

// A File is a request to stage out (or delete) a single file. The caller owns
// it; a manager fills in the destination fields on success and appends an
// Attempt for every destination it tries.
type File struct {
	// logical file name
	LFN string `json:"lfn"`
	// physical file name of the file to be staged out (local to the job)
	LocalPFN string `json:"local_pfn,omitempty"`
	// checksums of the file (algorithm -> value), verified by backends that
	// support them
	Checksums map[string]string `json:"checksums,omitempty"`

	// physical file name at the destination
	PFN string `json:"pfn,omitempty"`
	// storage element at the destination
	RSE string `json:"rse,omitempty"`
	// backend used to reach the destination
	Command string `json:"command,omitempty"`

	// every attempt made for the file, in order
	Attempts []Attempt `json:"attempts"`
}

// records an attempt for the file
func (f *File) addAttempt(attempt Attempt) {
	attempt.LFN = f.LFN
	f.Attempts = append(f.Attempts, attempt)
}

// returns true if the file's last attempt succeeded
func (f *File) Succeeded() bool {
	return len(f.Attempts) > 0 && f.Attempts[len(f.Attempts)-1].Exit == ExitSuccess
}
