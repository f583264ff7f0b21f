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

	"github.com/beevik/etree"
)

// Trivial file catalogs (TFCs) are XML documents of the form
//
//	<storage-mapping>
//	  <lfn-to-pfn protocol="direct" path-match="/+store/(.*)" result="/data/store/$1"/>
//	  <pfn-to-lfn protocol="direct" path-match="/data/store/(.*)" result="/store/$1"/>
//	</storage-mapping>
//
// optionally wrapped in an outer element (PhEDEx served them inside <phedex>).

// reads the trivial file catalog in the given file
func ReadTFC(filename string) (*Catalog, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, &NotFoundError{File: filename}
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(filename); err != nil {
		return nil, &ParseError{File: filename, Message: err.Error()}
	}
	return parseTFC(filename, doc)
}

// reads a trivial file catalog from the given bytes
func ReadTFCBytes(data []byte) (*Catalog, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &ParseError{File: "<bytes>", Message: err.Error()}
	}
	return parseTFC("<bytes>", doc)
}

// returns the storage-mapping elements in the document, looking through a
// wrapper element if there is one
func storageMappings(doc *etree.Document) []*etree.Element {
	root := doc.Root()
	if root == nil {
		return nil
	}
	if root.Tag == "storage-mapping" {
		return []*etree.Element{root}
	}
	return root.SelectElements("storage-mapping")
}

func parseTFC(filename string, doc *etree.Document) (*Catalog, error) {
	mappings := storageMappings(doc)
	if len(mappings) == 0 {
		return nil, &ParseError{
			File:    filename,
			Message: "no storage-mapping element found",
		}
	}

	catalog := New()
	for _, mapping := range mappings {
		for _, element := range mapping.ChildElements() {
			var dir Direction
			switch element.Tag {
			case "lfn-to-pfn":
				dir = LFNToPFN
			case "pfn-to-lfn":
				dir = PFNToLFN
			default:
				continue
			}
			protocol := element.SelectAttr("protocol")
			pathMatch := element.SelectAttr("path-match")
			if protocol == nil || pathMatch == nil {
				slog.Debug(fmt.Sprintf("%s: skipping %s rule without protocol or path-match",
					filename, element.Tag))
				continue
			}
			result := element.SelectAttrValue("result", "")
			chain := element.SelectAttrValue("chain", "") // "" means no chain
			err := catalog.AddMapping(dir, protocol.Value, pathMatch.Value, result, chain)
			if err != nil {
				return nil, &ParseError{File: filename, Message: err.Error()}
			}
		}
	}
	return catalog, nil
}
