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

// Package http implements a backend that writes files to (and removes them
// from) HTTP/WebDAV storage with PUT and DELETE requests. It's registered
// under the command names "http" and "davs"; davs:// and dav:// PFNs are
// translated to https:// and http:// URLs.
package http

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/StalkR/hsts"

	"github.com/dmwm/wmstage/backends"
	"github.com/dmwm/wmstage/backends/local"
)

func init() {
	for _, name := range []string{"http", "davs"} {
		if err := backends.RegisterBackend(name, NewBackend); err != nil {
			panic(err)
		}
	}
}

// the timeout for a single request
var Timeout = 30 * time.Minute

// Here's a secure HTTP client that can be used to connect to storage. It sets
// a reasonable timeout and enables HTTP Strict Transport Security (HSTS).
func SecureHttpClient(timeout time.Duration) http.Client {
	client := http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 0 && via[0].URL.Scheme == "https" && req.URL.Scheme == "http" {
				return &DowngradedRedirectError{
					Endpoint: fmt.Sprintf("%s%s", req.URL.Host, req.URL.Path),
				}
			}
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
	client.Transport = hsts.New(client.Transport) // enable HSTS
	return client
}

// This type implements a backend that talks to HTTP storage.
type Backend struct {
	backends.RetryPolicy
	Client http.Client
}

// creates a new HTTP backend
func NewBackend() (backends.Backend, error) {
	return &Backend{
		RetryPolicy: backends.RetryPolicy{NumRetries: 1},
		Client:      SecureHttpClient(Timeout),
	}, nil
}

// converts a PFN to a URL the HTTP client understands
func URL(pfn string) string {
	if rest, found := strings.CutPrefix(pfn, "davs://"); found {
		return "https://" + rest
	}
	if rest, found := strings.CutPrefix(pfn, "dav://"); found {
		return "http://" + rest
	}
	return pfn
}

func (b *Backend) Transfer(protocol, sourcePFN, destPFN, options string,
	checksums map[string]string) error {
	source, dest := local.Path(sourcePFN), URL(destPFN)
	return b.Retry(fmt.Sprintf("PUT %s -> %s", source, dest), func() error {
		err := b.put(source, dest, checksums)
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

func (b *Backend) put(source, dest string, checksums map[string]string) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, dest, file)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	if adler32, found := checksums["adler32"]; found {
		req.Header.Set("Digest", fmt.Sprintf("adler32=%s", adler32))
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}

func (b *Backend) Remove(pfn string) error {
	url := URL(pfn)
	return b.Retry(fmt.Sprintf("DELETE %s", url), func() error {
		err := b.delete(url)
		if err != nil {
			return &backends.RemoveError{PFN: pfn, Message: err.Error()}
		}
		return nil
	})
}

func (b *Backend) delete(url string) error {
	req, err := http.NewRequest(http.MethodDelete, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// returns an error for any response whose status is not 2xx
func statusError(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ResponseError{
			Method: resp.Request.Method,
			URL:    resp.Request.URL.String(),
			Status: resp.Status,
		}
	}
	return nil
}
