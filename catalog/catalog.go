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
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// This package maps logical file names (LFNs) to physical file names (PFNs)
// and back using ordered lists of rewrite rules. A catalog holds one list per
// direction; the first rule that matches a path (for a given protocol) wins.

// the direction in which a catalog maps a path
type Direction int

const (
	LFNToPFN Direction = iota // logical -> physical
	PFNToLFN                  // physical -> logical
)

func (d Direction) String() string {
	if d == PFNToLFN {
		return "pfn-to-lfn"
	}
	return "lfn-to-pfn"
}

// chains longer than this are treated as a miss (they are almost certainly
// cyclic)
const maxChainDepth = 16

// A Rule rewrites a path matching PathMatch into Result, substituting $1, $2,
// ... with the pieces of the path split around the match. If Chain is
// non-empty, the path is first rewritten by the rules for the protocol named
// by Chain.
type Rule struct {
	Protocol  string
	PathMatch string
	Result    string
	Chain     string

	expr *regexp.Regexp
}

// creates a new rule, compiling its path-match expression
func NewRule(protocol, pathMatch, result, chain string) (Rule, error) {
	expr, err := regexp.Compile(pathMatch)
	if err != nil {
		return Rule{}, &InvalidRuleError{
			PathMatch: pathMatch,
			Message:   err.Error(),
		}
	}
	return Rule{
		Protocol:  protocol,
		PathMatch: pathMatch,
		Result:    result,
		Chain:     chain,
		expr:      expr,
	}, nil
}

// returns true if the rule's expression matches the path at its beginning
func (r Rule) matchesPrefix(path string) bool {
	loc := r.expr.FindStringIndex(path)
	return loc != nil && loc[0] == 0
}

// splits the path around the first match of the rule's expression, returning
// the non-empty text preceding the match, capture groups, and text following
// the match, in that order; returns nil if the expression doesn't match
func (r Rule) split(path string) []string {
	loc := r.expr.FindStringSubmatchIndex(path)
	if loc == nil {
		return nil
	}
	pieces := make([]string, 0, len(loc)/2+1)
	if loc[0] > 0 {
		pieces = append(pieces, path[:loc[0]])
	}
	for i := 2; i < len(loc); i += 2 {
		if loc[i] >= 0 && loc[i+1] > loc[i] {
			pieces = append(pieces, path[loc[i]:loc[i+1]])
		}
	}
	if loc[1] < len(path) {
		pieces = append(pieces, path[loc[1]:])
	}
	return pieces
}

var placeholder = regexp.MustCompile(`\$([0-9]+)`)

// substitutes $n placeholders in the rule's result with the given pieces;
// placeholders without a corresponding piece are left alone
func (r Rule) substitute(pieces []string) string {
	return placeholder.ReplaceAllStringFunc(r.Result, func(p string) string {
		n, err := strconv.Atoi(p[1:])
		if err != nil || n < 1 || n > len(pieces) {
			return p
		}
		return pieces[n-1]
	})
}

// A Catalog holds the LFN->PFN and PFN->LFN rules for a single storage
// context, plus the protocol its owner prefers when mapping. Catalogs are not
// modified after they're loaded, so they can be shared freely.
type Catalog struct {
	LFNToPFN          []Rule
	PFNToLFN          []Rule
	PreferredProtocol string
}

// creates an empty catalog
func New() *Catalog {
	return &Catalog{
		LFNToPFN: make([]Rule, 0),
		PFNToLFN: make([]Rule, 0),
	}
}

// appends a rule to the list for the given direction
func (c *Catalog) AddMapping(dir Direction, protocol, pathMatch, result, chain string) error {
	rule, err := NewRule(protocol, pathMatch, result, chain)
	if err != nil {
		return err
	}
	if dir == PFNToLFN {
		c.PFNToLFN = append(c.PFNToLFN, rule)
	} else {
		c.LFNToPFN = append(c.LFNToPFN, rule)
	}
	return nil
}

func (c *Catalog) rules(dir Direction) []Rule {
	if dir == PFNToLFN {
		return c.PFNToLFN
	}
	return c.LFNToPFN
}

// Maps the given path in the given direction using the rules for the given
// protocol, returning the mapped path and true, or an empty string and false if
// no rule applies.
func (c *Catalog) Match(protocol, path string, dir Direction) (string, bool) {
	return c.match(protocol, path, dir, 0)
}

func (c *Catalog) match(protocol, path string, dir Direction, depth int) (string, bool) {
	if depth > maxChainDepth {
		return "", false
	}
	for _, rule := range c.rules(dir) {
		if rule.Protocol != protocol {
			continue
		}
		// chained rules are tried even if the path doesn't match them yet,
		// since the chain may rewrite it into something that does
		if rule.Chain == "" && !rule.matchesPrefix(path) {
			continue
		}
		candidate := path
		if rule.Chain != "" {
			chained, ok := c.match(rule.Chain, path, dir, depth+1)
			if !ok || chained == "" {
				continue
			}
			candidate = chained
		}
		pieces := rule.split(candidate)
		if pieces == nil {
			continue
		}
		return rule.substitute(pieces), true
	}
	return "", false
}

// maps an LFN to a PFN using the given protocol
func (c *Catalog) MatchLFN(protocol, lfn string) (string, bool) {
	return c.Match(protocol, lfn, LFNToPFN)
}

// maps a PFN to an LFN using the given protocol
func (c *Catalog) MatchPFN(protocol, pfn string) (string, bool) {
	return c.Match(protocol, pfn, PFNToLFN)
}

// a human-readable listing of all rules
func (c *Catalog) String() string {
	var b strings.Builder
	for _, dir := range []Direction{LFNToPFN, PFNToLFN} {
		for _, rule := range c.rules(dir) {
			fmt.Fprintf(&b, "\t%s: protocol=%s path-match-re=%s result=%s",
				dir, rule.Protocol, rule.PathMatch, rule.Result)
			if rule.Chain != "" {
				fmt.Fprintf(&b, " chain=%s", rule.Chain)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Renders the catalog as a trivial file catalog (storage-mapping) document.
// ReadTFCBytes(c.XML()) yields a catalog with the same rules.
func (c *Catalog) XML() (string, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("storage-mapping")
	for _, dir := range []Direction{LFNToPFN, PFNToLFN} {
		for _, rule := range c.rules(dir) {
			element := root.CreateElement(dir.String())
			element.CreateAttr("protocol", rule.Protocol)
			element.CreateAttr("path-match", rule.PathMatch)
			if rule.Result != "" {
				element.CreateAttr("result", rule.Result)
			}
			if rule.Chain != "" {
				element.CreateAttr("chain", rule.Chain)
			}
		}
	}
	doc.Indent(2)
	return doc.WriteToString()
}
