package validate

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// Report is the JSON-serializable validation report.
type Report struct {
	TotalFindings int                    `json:"total_findings"`
	Categories    map[string]CategorySum `json:"categories"`
	Findings      []Finding              `json:"findings"`
}

// CategorySum summarizes findings for a single category.
type CategorySum struct {
	Total   int    `json:"total"`
	Fixable int    `json:"fixable"`
	Fixed   int    `json:"fixed"`
	Label   string `json:"label"`
}

var categoryLabels = map[Category]string{
	CatIntegrityError: "Referential Integrity Errors",
	CatIntegrityWarn:  "Referential Integrity Warnings",
	CatScript:         "Scripts Calling Unknown Opcodes",
	CatProps:          "Non-Data Props",
	CatGrant:          "Capability Grant Problems",
}

// GenerateReport builds a Report from the validator's current findings.
func GenerateReport(v *Validator) *Report {
	r := &Report{
		TotalFindings: len(v.findings),
		Categories:    make(map[string]CategorySum),
		Findings:      v.findings,
	}
	catCounts := make(map[Category]*CategorySum)
	for _, f := range v.findings {
		cs, ok := catCounts[f.Category]
		if !ok {
			cs = &CategorySum{Label: categoryLabels[f.Category]}
			catCounts[f.Category] = cs
		}
		cs.Total++
		if f.Fixable {
			cs.Fixable++
		}
		if f.Fixed {
			cs.Fixed++
		}
	}
	for cat, cs := range catCounts {
		r.Categories[cat.String()] = *cs
	}
	return r
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Lines renders the findings one per line, for players.
func (r *Report) Lines() []string {
	if r.TotalFindings == 0 {
		return []string{"No problems found."}
	}
	lines := make([]string, 0, len(r.Findings)+1)
	for _, f := range r.Findings {
		var flags []string
		if f.Fixable {
			flags = append(flags, "fixable")
		}
		if f.Fixed {
			flags = append(flags, "fixed")
		}
		line := fmt.Sprintf("[%s] %s: %s", f.ID, f.Severity, f.Description)
		if len(flags) > 0 {
			line += " (" + strings.Join(flags, ", ") + ")"
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("%d problem(s) found.", r.TotalFindings))
	return lines
}
