// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package normalize canonicalises free-text company and position strings so
// they can be compared across emails, and scores how close two strings are.
package normalize

import (
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultSuffixes are the legal-entity suffixes stripped from company names.
var DefaultSuffixes = []string{
	"inc", "llc", "ltd", "limited", "gmbh", "ag", "plc",
	"corp", "corporation", "company", "co",
}

// placeholders are extractor fallbacks that carry no information.
var placeholders = map[string]bool{
	"unknown":          true,
	"unknown company":  true,
	"unknown position": true,
	"n/a":              true,
	"none":             true,
}

// Normalizer holds the configured suffix set. The zero value strips nothing;
// use New.
type Normalizer struct {
	suffixes []string
}

// New builds a normalizer for the given suffixes. Suffixes are compared
// case-insensitively and without trailing dots, so "Inc." and "inc" are the
// same entry.
func New(suffixes []string) *Normalizer {
	n := &Normalizer{}
	for _, s := range suffixes {
		s = strings.TrimRight(lower(strings.TrimSpace(s)), ".")
		if s != "" && !slices.Contains(n.suffixes, s) {
			n.suffixes = append(n.suffixes, s)
		}
	}
	return n
}

// Default is a normalizer using DefaultSuffixes.
var Default = New(DefaultSuffixes)

// Company lower-cases, collapses whitespace, strips trailing legal-entity
// suffixes (repeatedly, so "Foo Co., Ltd." becomes "foo") and trims
// surrounding punctuation.
func (n *Normalizer) Company(s string) string {
	s = collapse(lower(s))
	for {
		s = strings.TrimRightFunc(s, isTrim)
		stripped := false
		for _, suf := range n.suffixes {
			if rest, ok := strings.CutSuffix(s, " "+suf); ok {
				s = rest
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	s = strings.TrimFunc(s, isTrim)
	if placeholders[s] {
		return ""
	}
	return s
}

// Position lower-cases and collapses whitespace. Titles keep their suffixes
// ("Engineer II" stays distinct from "Engineer").
func (n *Normalizer) Position(s string) string {
	s = collapse(lower(s))
	if placeholders[s] {
		return ""
	}
	return s
}

// Similarity scores a and b from 0 to 100. Tokens are sorted before
// comparison so word order does not matter; the score is the Levenshtein
// distance relative to the longer string.
func Similarity(a, b string) int {
	a, b = sortTokens(a), sortTokens(b)
	if a == b {
		return 100
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(d)/float64(longest))))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	slices.Sort(tokens)
	return strings.Join(tokens, " ")
}

func lower(s string) string {
	return cases.Lower(language.Und).String(norm.NFC.String(s))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isTrim(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}
