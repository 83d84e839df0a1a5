// Package review holds the code-review domain vocabulary, the prompt
// builder that seeds analysis sessions, and rendering of finished reviews.
package review

import "encoding/json"

// Severity represents the severity level of a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MeetsThreshold returns true if severity is at or above the threshold.
func MeetsThreshold(s Severity, threshold string) bool {
	if threshold == "none" || threshold == "" {
		return false
	}
	return SeverityRank(s) >= SeverityRank(Severity(threshold))
}

// Category represents the type of finding.
type Category string

const (
	CategoryBug             Category = "bug"
	CategorySecurity        Category = "security"
	CategoryPerformance     Category = "performance"
	CategoryCorrectness     Category = "correctness"
	CategoryStyle           Category = "style"
	CategoryMaintainability Category = "maintainability"
	CategoryTesting         Category = "testing"
	CategoryDocs            Category = "docs"
)

// Finding is one structured issue from a submitted review, mirroring the
// findings array of the submit_review arguments.
type Finding struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category,omitempty"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// ParseFindings extracts the structured findings from a submit_review
// argument payload. Parsing is best-effort: a missing or malformed findings
// array yields nil, never an error, because the markdown review is the
// authoritative output and the structured form only feeds gating.
func ParseFindings(submission json.RawMessage) []Finding {
	if len(submission) == 0 {
		return nil
	}
	var params struct {
		Findings []Finding `json:"findings"`
	}
	if err := json.Unmarshal(submission, &params); err != nil {
		return nil
	}
	return params.Findings
}

// AnyMeetsThreshold reports whether any finding is at or above the
// threshold. It drives the CLI exit code for fail_on gating.
func AnyMeetsThreshold(findings []Finding, threshold string) bool {
	for _, f := range findings {
		if MeetsThreshold(f.Severity, threshold) {
			return true
		}
	}
	return false
}

// SeverityCounts holds counts by severity level.
type SeverityCounts struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Summary provides an overview of findings.
type Summary struct {
	Counts          SeverityCounts `json:"counts"`
	HighestSeverity Severity       `json:"highestSeverity"`
}

// ComputeSummary calculates the summary from findings.
func ComputeSummary(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case SeverityLow:
			s.Counts.Low++
		case SeverityMedium:
			s.Counts.Medium++
		case SeverityHigh:
			s.Counts.High++
		}
		if SeverityRank(f.Severity) > SeverityRank(s.HighestSeverity) {
			s.HighestSeverity = f.Severity
		}
	}
	return s
}
