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

package backends

import (
	"fmt"
	"strings"
)

// indicates that no backend was registered under the requested name
type NotRegisteredError struct {
	Name       string
	Registered []string // names of the backends that are registered
}

func (e NotRegisteredError) Error() string {
	if len(e.Registered) == 0 {
		return fmt.Sprintf("No backend is registered as '%s' (no backends are registered)", e.Name)
	}
	return fmt.Sprintf("No backend is registered as '%s' (registered backends: %s)",
		e.Name, strings.Join(e.Registered, ", "))
}

// indicates that a backend is already registered and an attempt has been made
// to register it again
type AlreadyRegisteredError struct {
	Name string
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("Cannot register backend '%s': already registered", e.Name)
}

// indicates that a file could not be copied to its destination
type TransferError struct {
	Source, Destination, Message string
}

func (e TransferError) Error() string {
	return fmt.Sprintf("Couldn't transfer %s to %s: %s", e.Source, e.Destination, e.Message)
}

// indicates that a file could not be removed
type RemoveError struct {
	PFN, Message string
}

func (e RemoveError) Error() string {
	return fmt.Sprintf("Couldn't remove %s: %s", e.PFN, e.Message)
}
