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

// Package backends provides the transfer implementations (copy and remove)
// used to stage files out to, and delete them from, storage elements. Each
// backend is registered under one or more command names; stage-out
// configurations select a backend by its command name.
package backends

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// Backend defines the interface for a transfer implementation.
type Backend interface {
	// copies the file at sourcePFN to destPFN using the given protocol,
	// passing the given options along and verifying the given checksums
	// (algorithm -> value) where supported
	Transfer(protocol, sourcePFN, destPFN, options string, checksums map[string]string) error
	// removes the file at the given PFN
	Remove(pfn string) error
	// sets the number of attempts made for each Transfer or Remove call and
	// the pause between them
	SetRetryPolicy(numRetries int, pause time.Duration)
}

// a function that creates a backend instance
type NewBackendFunc func() (Backend, error)

var (
	mu               sync.RWMutex
	backendCreators = make(map[string]NewBackendFunc)
)

// registers a function that creates backends with the given command name
func RegisterBackend(name string, create NewBackendFunc) error {
	mu.Lock()
	defer mu.Unlock()
	if _, found := backendCreators[name]; found {
		return &AlreadyRegisteredError{Name: name}
	}
	backendCreators[name] = create
	return nil
}

// returns the names of all registered backends, sorted
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backendCreators))
	for name := range backendCreators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// creates a new instance of the backend registered under the given name
func NewBackend(name string) (Backend, error) {
	mu.RLock()
	create, found := backendCreators[name]
	mu.RUnlock()
	if !found {
		return nil, &NotRegisteredError{Name: name, Registered: Registered()}
	}
	return create()
}

// RetryPolicy can be embedded in a backend to provide SetRetryPolicy and a
// Retry method that runs an operation until it succeeds or runs out of
// attempts.
type RetryPolicy struct {
	// total number of attempts (at least 1)
	NumRetries int
	// pause between attempts
	Pause time.Duration
}

func (p *RetryPolicy) SetRetryPolicy(numRetries int, pause time.Duration) {
	p.NumRetries = numRetries
	p.Pause = pause
}

// runs the given operation according to the policy, returning the error from
// the last attempt if none succeeded
func (p *RetryPolicy) Retry(description string, operation func() error) error {
	attempts := p.NumRetries
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	op := func() error {
		attempt++
		err := operation()
		if err != nil {
			slog.Info(fmt.Sprintf("%s: attempt %d of %d failed: %s",
				description, attempt, attempts, err.Error()))
		}
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Pause), uint64(attempts-1))
	return backoff.Retry(op, b)
}
