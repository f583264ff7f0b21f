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

// Package local implements a backend that copies files within the local file
// system (including network file systems mounted locally). It's registered
// under the command names "local" and "cp".
package local

import (
	"errors"
	"fmt"
	"hash/adler32"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmwm/wmstage/backends"
)

func init() {
	for _, name := range []string{"local", "cp"} {
		if err := backends.RegisterBackend(name, NewBackend); err != nil {
			panic(err)
		}
	}
}

// This type implements a backend that moves files around on a local file
// system.
type Backend struct {
	backends.RetryPolicy
}

// creates a new local backend
func NewBackend() (backends.Backend, error) {
	return &Backend{
		RetryPolicy: backends.RetryPolicy{NumRetries: 1},
	}, nil
}

// strips any file:// (or file:) scheme from a PFN, leaving a path
func Path(pfn string) string {
	if path, found := strings.CutPrefix(pfn, "file://"); found {
		return path
	}
	if path, found := strings.CutPrefix(pfn, "file:"); found {
		return path
	}
	return pfn
}

func (b *Backend) Transfer(protocol, sourcePFN, destPFN, options string,
	checksums map[string]string) error {
	source, dest := Path(sourcePFN), Path(destPFN)
	if options != "" {
		slog.Debug(fmt.Sprintf("local backend: ignoring options '%s'", options))
	}
	return b.Retry(fmt.Sprintf("copy %s -> %s", source, dest), func() error {
		err := copyFile(source, dest)
		if err == nil {
			err = verifyChecksums(dest, checksums)
			if err != nil {
				os.Remove(dest)
			}
		}
		if err != nil {
			return &backends.TransferError{
				Source:      sourcePFN,
				Destination: destPFN,
				Message:     err.Error(),
			}
		}
		return nil
	})
}

func (b *Backend) Remove(pfn string) error {
	path := Path(pfn)
	return b.Retry(fmt.Sprintf("remove %s", path), func() error {
		if err := os.Remove(path); err != nil {
			return &backends.RemoveError{PFN: pfn, Message: err.Error()}
		}
		return nil
	})
}

// copies the source file into place, creating the destination directory if
// needed
func copyFile(sourcePath, destPath string) error {
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	if sourceInfo.IsDir() {
		return fmt.Errorf("%s is a directory", sourcePath)
	}

	destDir := filepath.Dir(destPath)
	if _, err = os.Stat(destDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) { // destination dir doesn't exist
			if err = os.MkdirAll(destDir, 0755); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, sourceInfo.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err = io.Copy(dest, source); err != nil {
		dest.Close()
		return err
	}
	return dest.Close()
}

// computes the adler32 checksum of the file at the given path
func Adler32(path string) (uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	hash := adler32.New()
	if _, err = io.Copy(hash, file); err != nil {
		return 0, err
	}
	return hash.Sum32(), nil
}

// checks the file at the given path against the supported checksums in the
// given map; other algorithms are ignored
func verifyChecksums(path string, checksums map[string]string) error {
	expected, found := checksums["adler32"]
	if !found {
		return nil
	}
	want, err := strconv.ParseUint(expected, 16, 32)
	if err != nil {
		return fmt.Errorf("invalid adler32 checksum '%s'", expected)
	}
	got, err := Adler32(path)
	if err != nil {
		return err
	}
	if uint32(want) != got {
		return fmt.Errorf("adler32 checksum mismatch (expected %08x, got %08x)", want, got)
	}
	return nil
}
