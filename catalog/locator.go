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
	"path/filepath"
	"strings"
)

// the prefix of a trivial file catalog locator
const tfcScheme = "trivialcatalog_file:"

// the environment variable naming the local site's configuration directory
const SiteConfigPathVar = "SITECONFIG_PATH"

// StorageAttributes identify the storage a catalog describes: the site at
// which jobs run (and its sub-site, if any), the site and volume holding the
// storage, and the protocol with which PFNs are built.
type StorageAttributes struct {
	Site        string
	SubSite     string
	StorageSite string
	Volume      string
	Protocol    string
}

// Extracts the protocol from a catalog locator of the form
// trivialcatalog_file:<path>?protocol=<name>. For storage.json catalogs only the
// first query argument is kept.
func Protocol(locator string, useTFC bool) string {
	_, query, _ := strings.Cut(locator, "?")
	query, _, _ = strings.Cut(query, "#")
	value := strings.ReplaceAll(query, "protocol=", "")
	if !useTFC {
		value = strings.Split(value, "&")[0]
	}
	return value
}

// Returns the path to the catalog file described by the given locator (for
// trivial file catalogs) or storage attributes (for storage.json catalogs).
func Filename(locator string, attrs StorageAttributes, useTFC bool) (string, error) {
	if useTFC {
		value := strings.Replace(locator, tfcScheme, "", 1)
		value, _, _ = strings.Cut(value, "?protocol=")
		return filepath.Clean(value), nil
	}
	return StorageJSONPath(attrs.Site, attrs.SubSite, attrs.StorageSite)
}

// Returns the path to the storage.json file describing the storage at
// storageSite, as seen from the site (and sub-site) whose configuration lives
// in $SITECONFIG_PATH. Symbolic links are resolved.
func StorageJSONPath(site, subSite, storageSite string) (string, error) {
	root := os.Getenv(SiteConfigPathVar)
	if root == "" {
		return "", &ConfigurationError{
			Message: fmt.Sprintf("%s is not defined", SiteConfigPathVar),
		}
	}
	// resolve the site config directory itself first, so ".." is taken
	// relative to where it actually lives
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	var dir string
	if site == storageSite {
		if subSite == "" {
			dir = root
		} else {
			dir = filepath.Join(root, "..")
		}
	} else {
		if subSite == "" {
			dir = filepath.Join(root, "..", storageSite)
		} else {
			dir = filepath.Join(root, "..", "..", storageSite)
		}
	}
	path := filepath.Join(dir, "storage.json")
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}
	return filepath.Clean(path), nil
}

// Loads the catalog identified by the given locator (useTFC == true) or by the
// given storage attributes (useTFC == false). The catalog's preferred protocol
// is the one in the attributes, or the one in the locator if the attributes
// give none.
func Load(locator string, attrs StorageAttributes, useTFC bool) (*Catalog, error) {
	filename, err := Filename(locator, attrs, useTFC)
	if err != nil {
		return nil, err
	}
	protocol := attrs.Protocol
	if protocol == "" {
		protocol = Protocol(locator, useTFC)
	}

	var catalog *Catalog
	if useTFC {
		catalog, err = ReadTFC(filename)
	} else {
		attrs.Protocol = protocol
		catalog, err = ReadStorageJSON(filename, attrs)
	}
	if err != nil {
		return nil, err
	}
	catalog.PreferredProtocol = protocol
	slog.Debug(fmt.Sprintf("Loaded catalog %s (preferred protocol %s):\n%s",
		filename, protocol, catalog.String()))
	return catalog, nil
}
