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

// Package conflict compares an email's extracted facts with the application
// it was matched to.
package conflict

import (
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/normalize"
)

// Result is the outcome of comparing one email with one application.
// Conflict is nil when the two agree. Upgrades lists fields the application
// had no value for and the email does; those are applied without asking.
type Result struct {
	Conflict *models.Conflict
	Upgrades []models.FieldConflict
}

// Detector finds field disagreements.
type Detector struct {
	norm *normalize.Normalizer
}

// NewDetector creates a detector. A nil normalizer uses normalize.Default.
func NewDetector(n *normalize.Normalizer) *Detector {
	if n == nil {
		n = normalize.Default
	}
	return &Detector{norm: n}
}

// Detect compares company and position. A field conflicts when both sides
// have a value and the normalized values differ. An empty extracted value is
// no signal; an empty stored value is an upgrade.
func (d *Detector) Detect(email models.EmailRecord, app models.Application) Result {
	var res Result
	var fields []models.FieldConflict

	check := func(f models.Field, existing, extracted string, norm func(string) string) {
		ne, nn := norm(existing), norm(extracted)
		switch {
		case nn == "":
		case ne == "":
			res.Upgrades = append(res.Upgrades, models.FieldConflict{Field: f, Existing: existing, New: extracted})
		case ne != nn:
			fields = append(fields, models.FieldConflict{Field: f, Existing: existing, New: extracted})
		}
	}
	check(models.FieldCompany, app.Company, email.Extracted.Company, d.norm.Company)
	check(models.FieldPosition, app.Position, email.Extracted.Position, d.norm.Position)

	if len(fields) > 0 {
		res.Conflict = &models.Conflict{
			ApplicationID: app.ID,
			MessageID:     email.MessageID,
			Fields:        fields,
		}
	}
	return res
}

// ApplyUpgrades fills the empty fields of app from the upgrade list.
func ApplyUpgrades(app *models.Application, upgrades []models.FieldConflict) {
	for _, u := range upgrades {
		SetField(app, u.Field, u.New)
	}
}

// SetField writes value into the named field.
func SetField(app *models.Application, f models.Field, value string) {
	switch f {
	case models.FieldCompany:
		app.Company = value
	case models.FieldPosition:
		app.Position = value
	}
}
