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

// Package progression owns the ordered status enumeration and the rule that
// moves an application forward: status only advances, terminal statuses
// never change, and email metadata always advances.
package progression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bcem/tracker/internal/models"
)

// Unknown is the rank of a status outside the configured order. It sits
// below every known status, so an unknown token never advances anything.
const Unknown = -1

// DefaultOrder is the default status progression; terminal statuses form
// the tail.
var DefaultOrder = []string{
	"Applied",
	"Interview",
	"Assessment",
	"Offer Received",
	"Rejected",
	"Withdrawn",
}

// DefaultTerminal lists the statuses after which an application is frozen.
var DefaultTerminal = []string{"Offer Received", "Rejected", "Withdrawn"}

// DefaultAliases maps extractor tokens onto DefaultOrder names.
var DefaultAliases = map[string]string{
	"application":            "Applied",
	"application received":   "Applied",
	"application submitted":  "Applied",
	"under review":           "Applied",
	"interview scheduled":    "Interview",
	"interviewing":           "Interview",
	"phone screen":           "Interview",
	"phone screen scheduled": "Interview",
	"oa":                     "Assessment",
	"online assessment":      "Assessment",
	"assessment sent":        "Assessment",
	"coding challenge":       "Assessment",
	"offer":                  "Offer Received",
	"offer extended":         "Offer Received",
	"accepted":               "Offer Received",
	"rejection":              "Rejected",
	"declined":               "Rejected",
	"not selected":           "Rejected",
	"withdrew":               "Withdrawn",
}

// Policy ranks statuses and applies forward-only progression.
type Policy struct {
	order     []string
	rank      map[string]int
	canonical map[string]string
	terminal  map[string]bool
}

// New validates the order and terminal set and builds a policy. Terminal
// statuses must be members of the order and occupy its tail. Aliases whose
// target is not in the order are ignored.
func New(order, terminal []string, aliases map[string]string) (*Policy, error) {
	if len(order) == 0 {
		return nil, errors.New("status order is empty")
	}

	p := &Policy{
		order:     make([]string, 0, len(order)),
		rank:      make(map[string]int, len(order)),
		canonical: make(map[string]string, len(order)+len(aliases)),
		terminal:  make(map[string]bool, len(terminal)),
	}
	for i, name := range order {
		key := token(name)
		if key == "" {
			return nil, fmt.Errorf("status order entry %d is empty", i)
		}
		if _, dup := p.rank[key]; dup {
			return nil, fmt.Errorf("status %q listed twice", name)
		}
		p.order = append(p.order, name)
		p.rank[key] = i + 1
		p.canonical[key] = name
	}

	for _, name := range terminal {
		key := token(name)
		if _, ok := p.rank[key]; !ok {
			return nil, fmt.Errorf("terminal status %q is not in the status order", name)
		}
		p.terminal[key] = true
	}
	// Terminal statuses must be contiguous at the end of the order.
	for i := len(order) - len(p.terminal); i < len(order); i++ {
		if !p.terminal[token(order[i])] {
			return nil, fmt.Errorf("terminal statuses must occupy the tail of the order, found %q", order[i])
		}
	}

	for alias, target := range aliases {
		name, ok := p.canonical[token(target)]
		if !ok {
			continue
		}
		if _, taken := p.canonical[token(alias)]; !taken {
			p.canonical[token(alias)] = name
		}
	}
	return p, nil
}

// Default returns the policy for DefaultOrder, DefaultTerminal and
// DefaultAliases.
func Default() *Policy {
	p, err := New(DefaultOrder, DefaultTerminal, DefaultAliases)
	if err != nil {
		panic(err)
	}
	return p
}

// Order returns the configured status names.
func (p *Policy) Order() []string {
	return append([]string(nil), p.order...)
}

// Initial is the status given to a new application without a usable
// status signal.
func (p *Policy) Initial() string {
	return p.order[0]
}

// Parse maps an extractor token onto a configured status name.
func (p *Policy) Parse(tok string) (string, bool) {
	name, ok := p.canonical[token(tok)]
	return name, ok
}

// Rank returns the 1-based position of status in the order, or Unknown.
func (p *Policy) Rank(status string) int {
	if name, ok := p.canonical[token(status)]; ok {
		return p.rank[token(name)]
	}
	return Unknown
}

// IsTerminal reports whether status is in the terminal set.
func (p *Policy) IsTerminal(status string) bool {
	name, ok := p.canonical[token(status)]
	return ok && p.terminal[token(name)]
}

// Advance applies one email's evidence to app and returns the result along
// with whether the status moved. The status only changes when the current
// status is not terminal and the new one ranks strictly higher. Metadata
// advances unconditionally: the email count grows by one, the latest email
// date and link track the maximum date and the application date tracks the
// minimum.
func (p *Policy) Advance(app models.Application, status string, email models.EmailRecord) (models.Application, bool) {
	next := app.Clone()

	changed := false
	if !p.IsTerminal(app.Status) {
		if name, ok := p.Parse(status); ok && p.Rank(name) > p.Rank(app.Status) {
			next.Status = name
			next.LastUpdated = email.Date
			changed = true
		}
	}

	next.EmailCount++
	if next.LatestEmailDate.IsZero() || email.Date.After(next.LatestEmailDate) {
		next.LatestEmailDate = email.Date
		if email.Link != "" {
			next.LatestEmailLink = email.Link
		}
	}
	if next.ApplicationDate.IsZero() || email.Date.Before(next.ApplicationDate) {
		next.ApplicationDate = email.Date
	}
	return next, changed
}

func token(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
