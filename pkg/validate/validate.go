// Package validate checks a world for broken references, scripts that call
// opcodes the server does not know, props that are not plain data and grants
// of capability classes that are not loaded. Some findings can be fixed in
// place.
package validate

import (
	"fmt"
	"sort"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
)

// Category classifies the type of finding.
type Category int

const (
	CatIntegrityError Category = iota // Broken references
	CatIntegrityWarn                  // Suspicious references
	CatScript                         // Scripts calling unknown opcodes
	CatProps                          // Props that are not plain data
	CatGrant                          // Grants of unknown capability classes
)

func (c Category) String() string {
	switch c {
	case CatIntegrityError:
		return "integrity-error"
	case CatIntegrityWarn:
		return "integrity-warning"
	case CatScript:
		return "script"
	case CatProps:
		return "props"
	case CatGrant:
		return "grant"
	default:
		return "unknown"
	}
}

// Severity indicates how serious a finding is.
type Severity int

const (
	SevError   Severity = iota // Must be fixed for correct behavior
	SevWarning                 // Should be reviewed
	SevInfo                    // Informational only
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Finding represents a single issue detected in the world.
type Finding struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Entity      string   `json:"entity"`
	Verb        string   `json:"verb,omitempty"`
	Description string   `json:"description"`
	Fixable     bool     `json:"fixable"`
	Fixed       bool     `json:"fixed"`
	fixFunc     func() error
}

// Checker is the interface that each validation check implements.
type Checker interface {
	Name() string
	Check(store gamedb.Store) []Finding
}

// Validator runs checkers against a store.
type Validator struct {
	checkers []Checker
	store    gamedb.Store
	findings []Finding
}

// New creates a Validator. With no checkers given it runs only the
// integrity and props checks, which need nothing beyond the store.
func New(store gamedb.Store, checkers ...Checker) *Validator {
	if len(checkers) == 0 {
		checkers = []Checker{&IntegrityChecker{}, &PropsChecker{}}
	}
	return &Validator{store: store, checkers: checkers}
}

// Run executes all checkers and returns findings sorted by entity, then
// verb. Finding ids are assigned in that order.
func (v *Validator) Run() []Finding {
	v.findings = nil
	for _, c := range v.checkers {
		v.findings = append(v.findings, c.Check(v.store)...)
	}
	sort.SliceStable(v.findings, func(i, j int) bool {
		if v.findings[i].Entity != v.findings[j].Entity {
			return v.findings[i].Entity < v.findings[j].Entity
		}
		return v.findings[i].Verb < v.findings[j].Verb
	})
	for i := range v.findings {
		v.findings[i].ID = fmt.Sprintf("%s-%d", v.findings[i].Category, i+1)
	}
	return v.findings
}

// Findings returns the current findings (after Run has been called).
func (v *Validator) Findings() []Finding {
	return v.findings
}

// ApplyFix applies a single fix by finding ID.
func (v *Validator) ApplyFix(id string) error {
	for i := range v.findings {
		f := &v.findings[i]
		if f.ID != id {
			continue
		}
		if !f.Fixable {
			return fmt.Errorf("finding %s is not fixable", id)
		}
		if f.Fixed {
			return fmt.Errorf("finding %s is already fixed", id)
		}
		if err := f.fixFunc(); err != nil {
			return fmt.Errorf("fixing %s: %w", id, err)
		}
		f.Fixed = true
		return nil
	}
	return fmt.Errorf("finding %s not found", id)
}

// ApplyAll applies every fixable finding. It returns the count applied and
// the first error met; fixing continues past errors.
func (v *Validator) ApplyAll() (int, error) {
	count := 0
	var first error
	for i := range v.findings {
		f := &v.findings[i]
		if !f.Fixable || f.Fixed {
			continue
		}
		if err := f.fixFunc(); err != nil {
			if first == nil {
				first = fmt.Errorf("fixing %s: %w", f.ID, err)
			}
			continue
		}
		f.Fixed = true
		count++
	}
	return count, first
}

// Summary returns counts of findings per category.
func (v *Validator) Summary() map[Category]int {
	m := make(map[Category]int)
	for _, f := range v.findings {
		m[f.Category]++
	}
	return m
}
