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
	"strings"
)

// A Mapping is the result of translating a path through one destination's
// catalog.
type Mapping struct {
	RSE      string `json:"rse"`
	Command  string `json:"command"`
	Protocol string `json:"protocol"`
	// the mapped path (empty if the catalog has no rule for the input)
	Path  string `json:"path,omitempty"`
	Found bool   `json:"found"`
}

// Returns the PFN the given LFN maps to at each destination, in the order the
// destinations are tried.
func (m *manager) MapLFN(lfn string) []Mapping {
	if m.override != nil {
		return []Mapping{{
			RSE:      m.override.Name(),
			Command:  m.override.Command,
			Protocol: m.override.Command,
			Path:     m.override.LFNPrefix + lfn,
			Found:    true,
		}}
	}
	mappings := make([]Mapping, 0, len(m.destinations))
	for _, dest := range m.destinations {
		protocol := dest.Catalog.PreferredProtocol
		pfn, found := dest.Catalog.MatchLFN(protocol, lfn)
		mappings = append(mappings, Mapping{
			RSE:      dest.StageOut.Name(),
			Command:  dest.StageOut.Command,
			Protocol: protocol,
			Path:     pfn,
			Found:    found,
		})
	}
	return mappings
}

// Returns the LFN the given PFN maps back to at each destination.
func (m *manager) MapPFN(pfn string) []Mapping {
	if m.override != nil {
		lfn, found := strings.CutPrefix(pfn, m.override.LFNPrefix)
		if !found {
			lfn = ""
		}
		return []Mapping{{
			RSE:      m.override.Name(),
			Command:  m.override.Command,
			Protocol: m.override.Command,
			Path:     lfn,
			Found:    found,
		}}
	}
	mappings := make([]Mapping, 0, len(m.destinations))
	for _, dest := range m.destinations {
		protocol := dest.Catalog.PreferredProtocol
		lfn, found := dest.Catalog.MatchPFN(protocol, pfn)
		mappings = append(mappings, Mapping{
			RSE:      dest.StageOut.Name(),
			Command:  dest.StageOut.Command,
			Protocol: protocol,
			Path:     lfn,
			Found:    found,
		})
	}
	return mappings
}
