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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmwm/wmstage/backends"
	"github.com/dmwm/wmstage/config"
	"github.com/dmwm/wmstage/stagetest"
)

// tests whether a deletion falls through to the first destination that works
func TestDelete(t *testing.T) {
	assert := assert.New(t)
	site, fixtures := fixtureSite(t, "first", "second")
	fixtures["first"].RemoveError = fmt.Errorf("permission denied")

	mgr, err := NewDeleteManager(Options{Site: site})
	assert.Nil(err)
	file := &File{LFN: "/store/mc/a.root"}
	result, err := mgr.Delete(file)
	assert.Nil(err)
	assert.Equal(file, result)
	assert.Equal("/second/store/mc/a.root", file.PFN)
	assert.Equal("RSE_second", file.RSE)
	assert.Equal([]int{ExitDeleteFailure, ExitSuccess}, exitCodes(file.Attempts))
	assert.Equal([]string{"/first/store/mc/a.root"}, fixtures["first"].Removes())
	assert.Equal([]string{"/second/store/mc/a.root"}, fixtures["second"].Removes())
}

// tests whether a file that can't be deleted anywhere reports every attempt
func TestDeleteFailure(t *testing.T) {
	assert := assert.New(t)
	site, fixtures := fixtureSite(t, "first", "second")
	fixtures["first"].RemoveError = fmt.Errorf("permission denied")
	fixtures["second"].Panic = true

	mgr, err := NewDeleteManager(Options{Site: site})
	assert.Nil(err)
	file := &File{LFN: "/store/mc/a.root"}
	_, err = mgr.Delete(file)
	var failure *DeleteFailure
	assert.True(errors.As(err, &failure))
	assert.Equal("/store/mc/a.root", failure.LFN)
	assert.Equal([]int{ExitDeleteFailure, ExitDeleteFailure}, exitCodes(failure.Attempts))
	assert.Equal("", file.PFN)

	var removalErr *RemovalError
	assert.True(errors.As(err, &removalErr))
	assert.Equal("second", removalErr.Command)
	assert.Equal("/second/store/mc/a.root", removalErr.PFN)
	var panicErr *BackendPanicError
	assert.True(errors.As(err, &panicErr))
}

// tests whether an override deletion uses the prefixed LFN
func TestDeleteOverride(t *testing.T) {
	assert := assert.New(t)
	fixture, err := stagetest.RegisterBackend("override")
	assert.Nil(err)

	override := &config.OverrideConfig{Command: "override", RSE: "T2_US_Other", LFNPrefix: "/pre/"}
	mgr, err := NewDeleteManager(Options{Override: override})
	assert.Nil(err)
	file := &File{LFN: "/store/a.root"}
	_, err = mgr.Delete(file)
	assert.Nil(err)
	assert.Equal("/pre//store/a.root", file.PFN)
	assert.Equal("T2_US_Other", file.RSE)
	assert.Equal([]string{"/pre//store/a.root"}, fixture.Removes())
	assert.Equal(AttemptOverride, file.Attempts[0].Type)
}

// tests whether DeletePFN reports the LFN, PFN and command of failures
func TestDeletePFN(t *testing.T) {
	assert := assert.New(t)
	site, fixtures := fixtureSite(t, "first")
	mgr, err := NewDeleteManager(Options{Site: site})
	assert.Nil(err)

	err = mgr.DeletePFN("/first/store/a.root", "/store/a.root", "first")
	assert.Nil(err)
	assert.Equal([]string{"/first/store/a.root"}, fixtures["first"].Removes())

	err = mgr.DeletePFN("/first/store/a.root", "/store/a.root", "not-registered")
	var removalErr *RemovalError
	assert.True(errors.As(err, &removalErr))
	assert.Equal("/store/a.root", removalErr.LFN)
	assert.Equal("/first/store/a.root", removalErr.PFN)
	assert.Equal("not-registered", removalErr.Command)
	var notRegistered *backends.NotRegisteredError
	assert.True(errors.As(err, &notRegistered))
}
