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
)

// indicates that a catalog file doesn't exist
type NotFoundError struct {
	File string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("File catalog not found: %s", e.File)
}

// indicates that a catalog file exists but could not be parsed
type ParseError struct {
	File, Message string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("Error reading file catalog %s: %s", e.File, e.Message)
}

// indicates that a rule's path-match expression is not a valid regular
// expression
type InvalidRuleError struct {
	PathMatch, Message string
}

func (e InvalidRuleError) Error() string {
	return fmt.Sprintf("Invalid path-match expression '%s': %s", e.PathMatch, e.Message)
}

// indicates that the environment doesn't provide what's needed to locate a
// catalog
type ConfigurationError struct {
	Message string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("Catalog configuration error: %s", e.Message)
}
