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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmwm/wmstage/config"
)

func TestMapLFNAndPFN(t *testing.T) {
	assert := assert.New(t)

	site, _ := fixtureSite(t, "first", "second")
	mgr, err := NewStageOutManager(Options{Site: site})
	assert.Nil(err)

	mappings := mgr.MapLFN("/store/mc/a.root")
	assert.Equal(2, len(mappings))
	assert.Equal(Mapping{
		RSE: "RSE_first", Command: "first", Protocol: "direct",
		Path: "/first/store/mc/a.root", Found: true,
	}, mappings[0])
	assert.Equal("/second/store/mc/a.root", mappings[1].Path)

	mappings = mgr.MapLFN("/user/a.root")
	assert.False(mappings[0].Found)
	assert.Equal("", mappings[0].Path)

	mappings = mgr.MapPFN("/second/store/mc/a.root")
	assert.False(mappings[0].Found)
	assert.True(mappings[1].Found)
	assert.Equal("/store/mc/a.root", mappings[1].Path)
}

func TestMapOverride(t *testing.T) {
	assert := assert.New(t)

	mgr, err := NewDeleteManager(Options{
		Override: &config.OverrideConfig{Command: "first", RSE: "T2_US_Other", LFNPrefix: "/pre"},
	})
	assert.Nil(err)

	mappings := mgr.MapLFN("/store/a.root")
	assert.Equal(1, len(mappings))
	assert.Equal("/pre/store/a.root", mappings[0].Path)
	assert.Equal("T2_US_Other", mappings[0].RSE)

	mappings = mgr.MapPFN("/pre/store/a.root")
	assert.True(mappings[0].Found)
	assert.Equal("/store/a.root", mappings[0].Path)

	mappings = mgr.MapPFN("/elsewhere/store/a.root")
	assert.False(mappings[0].Found)
}
