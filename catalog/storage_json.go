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

package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Sites describe their storage in a storage.json file: an array of
// descriptors, one per (site, volume), each listing the protocols through
// which the volume is reached. A protocol either gives a single PFN prefix or
// an explicit list of LFN -> PFN rules.

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type storageDescriptor struct {
	Site      string               `json:"site"`
	Volume    string               `json:"volume"`
	RSE       string               `json:"rse"`
	Protocols []protocolDescriptor `json:"protocols"`
}

type protocolDescriptor struct {
	Protocol string           `json:"protocol"`
	Prefix   *string          `json:"prefix,omitempty"`
	Rules    []ruleDescriptor `json:"rules,omitempty"`
	Chain    string           `json:"chain,omitempty"`
}

type ruleDescriptor struct {
	LFN string `json:"lfn"`
	PFN string `json:"pfn"`
}

// returns the name of the site whose descriptors apply to the attributes
func (attrs StorageAttributes) descriptorSite() string {
	if attrs.StorageSite != "" {
		return attrs.StorageSite
	}
	return attrs.Site
}

func readStorageDescriptors(filename string) ([]storageDescriptor, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &NotFoundError{File: filename}
	}
	var descriptors []storageDescriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, &ParseError{File: filename, Message: err.Error()}
	}
	return descriptors, nil
}

// reads the rules in the given storage.json file that apply to the storage
// site, volume and protocol in the given attributes, along with the rules of
// every protocol the requested one chains to (within the same volume)
func ReadStorageJSON(filename string, attrs StorageAttributes) (*Catalog, error) {
	descriptors, err := readStorageDescriptors(filename)
	if err != nil {
		return nil, err
	}
	catalog := New()
	site := attrs.descriptorSite()
	for _, descriptor := range descriptors {
		if descriptor.Site != site || descriptor.Volume != attrs.Volume {
			continue
		}
		loaded := make(map[string]bool)
		for name := attrs.Protocol; name != "" && !loaded[name]; {
			loaded[name] = true
			chain := ""
			for _, protocol := range descriptor.Protocols {
				if protocol.Protocol != name {
					continue
				}
				if err := addProtocolRules(catalog, protocol); err != nil {
					return nil, &ParseError{File: filename, Message: err.Error()}
				}
				if protocol.Chain != "" {
					chain = protocol.Chain
				}
			}
			name = chain
		}
	}
	return catalog, nil
}

// matches parenthesized groups (greedily, from the first '(' to the last ')')
var groupExpr = regexp.MustCompile(`\(.*\)`)

// Derives a PFN -> LFN rule from an LFN -> PFN rule. This is a heuristic: the
// PFN's $1 becomes a (.*) group and the LFN's group(s) collapse into a single
// $1, which inverts simple rules but not ones with several groups or anchors
// inside the groups.
func reverseRule(rule ruleDescriptor) (pathMatch, result string) {
	pathMatch = strings.ReplaceAll(rule.PFN, "$1", "(.*)")
	result = strings.ReplaceAll(rule.LFN, "/+", "/")
	result = strings.ReplaceAll(result, "^/", "/")
	result = groupExpr.ReplaceAllLiteralString(result, "$1")
	return pathMatch, result
}

func addProtocolRules(catalog *Catalog, protocol protocolDescriptor) error {
	if protocol.Prefix != nil {
		prefix := *protocol.Prefix
		err := catalog.AddMapping(LFNToPFN, protocol.Protocol, "(.*)", prefix+"/$1", protocol.Chain)
		if err != nil {
			return err
		}
		return catalog.AddMapping(PFNToLFN, protocol.Protocol, prefix+"/(.*)", "/$1", protocol.Chain)
	}
	for _, rule := range protocol.Rules {
		err := catalog.AddMapping(LFNToPFN, protocol.Protocol, rule.LFN, rule.PFN, protocol.Chain)
		if err != nil {
			return err
		}
		pathMatch, result := reverseRule(rule)
		slog.Debug(fmt.Sprintf("Derived pfn-to-lfn rule (%s, %s) from (%s, %s)",
			pathMatch, result, rule.LFN, rule.PFN))
		err = catalog.AddMapping(PFNToLFN, protocol.Protocol, pathMatch, result, protocol.Chain)
		if err != nil {
			return err
		}
	}
	return nil
}

// returns the RSE of the storage described by the given attributes, or an
// empty string if the site's storage.json doesn't describe it
func RSEName(attrs StorageAttributes) (string, error) {
	filename, err := StorageJSONPath(attrs.Site, attrs.SubSite, attrs.StorageSite)
	if err != nil {
		return "", err
	}
	descriptors, err := readStorageDescriptors(filename)
	if err != nil {
		return "", err
	}
	site := attrs.descriptorSite()
	for _, descriptor := range descriptors {
		if descriptor.Site == site && descriptor.Volume == attrs.Volume {
			return descriptor.RSE, nil
		}
	}
	return "", nil
}

// returns the PFN prefixes for the storage and protocol described by the
// given attributes: the protocol's prefix, or the PFN of each of its rules with
// the $1 placeholder removed
func lfnPrefixes(attrs StorageAttributes) ([]string, error) {
	filename, err := StorageJSONPath(attrs.Site, attrs.SubSite, attrs.StorageSite)
	if err != nil {
		return nil, err
	}
	descriptors, err := readStorageDescriptors(filename)
	if err != nil {
		return nil, err
	}
	prefixes := make([]string, 0)
	site := attrs.descriptorSite()
	for _, descriptor := range descriptors {
		if descriptor.Site != site || descriptor.Volume != attrs.Volume {
			continue
		}
		for _, protocol := range descriptor.Protocols {
			if protocol.Protocol != attrs.Protocol {
				continue
			}
			if protocol.Prefix != nil {
				prefixes = append(prefixes, *protocol.Prefix)
			} else {
				for _, rule := range protocol.Rules {
					prefix := strings.ReplaceAll(rule.PFN, "/$1", "")
					prefixes = append(prefixes, strings.ReplaceAll(prefix, "$1", ""))
				}
			}
			break
		}
		break
	}
	return prefixes, nil
}
