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

package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmwm/wmstage/backends"
)

var tempRoot string
var server *httptest.Server

// a minimal WebDAV-ish store: files by path, plus the Digest headers sent
var store = struct {
	sync.Mutex
	files   map[string]string
	digests map[string]string
	fails   int // number of requests to fail before succeeding
}{
	files:   make(map[string]string),
	digests: make(map[string]string),
}

func handler(w http.ResponseWriter, r *http.Request) {
	store.Lock()
	defer store.Unlock()
	if store.fails > 0 {
		store.fails--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		store.files[r.URL.Path] = string(data)
		store.digests[r.URL.Path] = r.Header.Get("Digest")
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		if _, found := store.files[r.URL.Path]; !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(store.files, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// this function gets called at the begіnning of a test session
func setup() {
	var err error
	tempRoot, err = os.MkdirTemp(os.TempDir(), "wmstage-http-backend")
	if err != nil {
		panic(err)
	}
	err = os.WriteFile(filepath.Join(tempRoot, "file1.root"), []byte("first file\n"), 0600)
	if err != nil {
		panic(err)
	}
	server = httptest.NewServer(http.HandlerFunc(handler))
}

// this function gets called after all tests have been run
func breakdown() {
	if server != nil {
		server.Close()
	}
	if tempRoot != "" {
		os.RemoveAll(tempRoot)
	}
}

// tests whether the HTTP backend is registered under its command names
func TestRegistered(t *testing.T) {
	assert := assert.New(t)
	for _, name := range []string{"http", "davs"} {
		backend, err := backends.NewBackend(name)
		assert.Nil(err)
		assert.NotNil(backend)
	}
}

// tests the translation of WebDAV PFNs into URLs
func TestURL(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("https://eos.example.org:443/store/a.root", URL("davs://eos.example.org:443/store/a.root"))
	assert.Equal("http://eos.example.org/store/a.root", URL("dav://eos.example.org/store/a.root"))
	assert.Equal("https://eos.example.org/store/a.root", URL("https://eos.example.org/store/a.root"))
}

// tests whether files are PUT to storage and DELETEd from it
func TestTransferAndRemove(t *testing.T) {
	assert := assert.New(t)
	backend, _ := NewBackend()
	backend.SetRetryPolicy(1, 0)

	source := "file://" + filepath.Join(tempRoot, "file1.root")
	dest := server.URL + "/store/unmerged/file1.root"
	err := backend.Transfer("davs", source, dest, "", map[string]string{"adler32": "1a2b3c4d"})
	assert.Nil(err)
	store.Lock()
	assert.Equal("first file\n", store.files["/store/unmerged/file1.root"])
	assert.Equal("adler32=1a2b3c4d", store.digests["/store/unmerged/file1.root"])
	store.Unlock()

	err = backend.Remove(dest)
	assert.Nil(err)
	store.Lock()
	_, found := store.files["/store/unmerged/file1.root"]
	store.Unlock()
	assert.False(found)

	// it's gone now
	err = backend.Remove(dest)
	assert.NotNil(err)
	assert.IsType(&backends.RemoveError{}, err)
	assert.True(strings.Contains(err.Error(), "404"))
}

// tests whether transient failures are retried
func TestTransferRetries(t *testing.T) {
	assert := assert.New(t)
	backend, _ := NewBackend()
	backend.SetRetryPolicy(3, time.Millisecond)

	store.Lock()
	store.fails = 2
	store.Unlock()
	source := filepath.Join(tempRoot, "file1.root")
	err := backend.Transfer("davs", source, server.URL+"/store/retried.root", "", nil)
	assert.Nil(err)

	store.Lock()
	store.fails = 5
	store.Unlock()
	err = backend.Transfer("davs", source, server.URL+"/store/failed.root", "", nil)
	assert.NotNil(err)
	assert.IsType(&backends.TransferError{}, err)
	store.Lock()
	store.fails = 0
	store.Unlock()
}

// tests whether a missing source file fails the transfer
func TestTransferMissingSource(t *testing.T) {
	assert := assert.New(t)
	backend, _ := NewBackend()
	backend.SetRetryPolicy(1, 0)
	err := backend.Transfer("davs", filepath.Join(tempRoot, "nope.root"),
		server.URL+"/store/nope.root", "", nil)
	assert.NotNil(err)
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
