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

// This package contains testing utilities for the stage-out service.
package stagetest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmwm/wmstage/backends"
)

// Enables DEBUG log messages for the service's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

//-----------------------
// Backend Test Fixtures
//-----------------------

// a record of a call to Transfer
type TransferCall struct {
	Protocol, Source, Destination, Options string
	Checksums                              map[string]string
}

// This type implements a backends.Backend test fixture whose behavior is
// scripted by its exported fields. A single instance serves every
// backends.NewBackend call for its name, so tests can inspect the calls it
// received.
type Backend struct {
	// error returned by Transfer (nil for success)
	TransferError error
	// error returned by Remove (nil for success)
	RemoveError error
	// if true, Transfer and Remove panic
	Panic bool

	mu         sync.Mutex
	numRetries int
	pause      time.Duration
	transfers  []TransferCall
	removes    []string
}

var (
	fixturesMu sync.Mutex
	fixtures   = make(map[string]*Backend)
)

// Registers a backend test fixture with the given name, or resets and returns
// the fixture already registered with that name.
func RegisterBackend(name string) (*Backend, error) {
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if fixture, found := fixtures[name]; found {
		fixture.Reset()
		return fixture, nil
	}
	fixture := &Backend{}
	err := backends.RegisterBackend(name, func() (backends.Backend, error) {
		return fixture, nil
	})
	if err != nil {
		return nil, err
	}
	fixtures[name] = fixture
	return fixture, nil
}

// clears the fixture's script and call records
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TransferError = nil
	b.RemoveError = nil
	b.Panic = false
	b.numRetries = 0
	b.pause = 0
	b.transfers = nil
	b.removes = nil
}

func (b *Backend) SetRetryPolicy(numRetries int, pause time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numRetries = numRetries
	b.pause = pause
}

// returns the retry policy most recently set on the fixture
func (b *Backend) RetryPolicy() (int, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numRetries, b.pause
}

func (b *Backend) Transfer(protocol, sourcePFN, destPFN, options string,
	checksums map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transfers = append(b.transfers, TransferCall{
		Protocol:    protocol,
		Source:      sourcePFN,
		Destination: destPFN,
		Options:     options,
		Checksums:   checksums,
	})
	if b.Panic {
		panic(fmt.Sprintf("scripted panic transferring %s", sourcePFN))
	}
	return b.TransferError
}

func (b *Backend) Remove(pfn string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removes = append(b.removes, pfn)
	if b.Panic {
		panic(fmt.Sprintf("scripted panic removing %s", pfn))
	}
	return b.RemoveError
}

// returns the Transfer calls received by the fixture
func (b *Backend) Transfers() []TransferCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TransferCall{}, b.transfers...)
}

// returns the PFNs passed to Remove
func (b *Backend) Removes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.removes...)
}

//-----------------------
// Catalog Test Fixtures
//-----------------------

// Writes a trivial file catalog containing the given rules (each of the form
// [direction, protocol, path-match, result] or with a trailing chain) to the
// given file, returning its locator string for the given protocol.
func WriteTFC(filename, protocol string, rules [][]string) (string, error) {
	var b strings.Builder
	b.WriteString("<storage-mapping>\n")
	for _, rule := range rules {
		if len(rule) < 4 {
			return "", fmt.Errorf("Invalid rule: %v", rule)
		}
		fmt.Fprintf(&b, `  <%s protocol="%s" path-match="%s" result="%s"`,
			rule[0], rule[1], rule[2], rule[3])
		if len(rule) > 4 {
			fmt.Fprintf(&b, ` chain="%s"`, rule[4])
		}
		b.WriteString("/>\n")
	}
	b.WriteString("</storage-mapping>\n")
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filename, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("trivialcatalog_file:%s?protocol=%s", filename, protocol), nil
}

// Writes the given storage.json contents into the configuration directory of
// the given site below siteConfigRoot (i.e. <root>/<site>/storage.json),
// returning the path of the file written.
func WriteStorageJSON(siteConfigRoot, site, contents string) (string, error) {
	dir := filepath.Join(siteConfigRoot, site)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	filename := filepath.Join(dir, "storage.json")
	return filename, os.WriteFile(filename, []byte(contents), 0644)
}
