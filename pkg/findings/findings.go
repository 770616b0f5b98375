// Package findings defines graded assessment findings.
package findings

import "fmt"

// Severity grades a finding.
type Severity string

const (
	Pass         Severity = "PASS"
	Fail         Severity = "FAIL"
	Warning      Severity = "WARNING"
	Info         Severity = "INFO"
	Inconclusive Severity = "INCONCLUSIVE"
	Unknown      Severity = "UNKNOWN"
)

// Finding is one graded observation. It is immutable once created.
type Finding struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// New builds a finding with a formatted text.
func New(id string, sev Severity, format string, args ...any) Finding {
	return Finding{ID: id, Severity: sev, Text: fmt.Sprintf(format, args...)}
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.ID, f.Text)
}

// EvaluationResult pairs an evaluated item with its findings.
type EvaluationResult[T any] struct {
	Item     T         `json:"item"`
	Findings []Finding `json:"findings"`
}

// Count returns how many findings carry the given severity.
func Count(list []Finding, sev Severity) int {
	n := 0
	for _, f := range list {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
