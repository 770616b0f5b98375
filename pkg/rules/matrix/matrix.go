// Package matrix grades a host from the outcomes of the full, fixed test
// matrix. Rules are grouped by category and run in sequence order; a stop
// rule that fires skips the rest of its own category.
package matrix

import (
	"fmt"
	"sort"

	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/rules"
)

// Category groups related rules.
type Category int

const (
	Ssl3 Category = iota
	Tls10
	Tls11
	Tls12
	Tls13
	EllipticCurve
	DiffieHellman
	WeakCiphers
)

// Categories lists every category in evaluation order.
var Categories = []Category{Ssl3, Tls10, Tls11, Tls12, Tls13, EllipticCurve, DiffieHellman, WeakCiphers}

func (c Category) String() string {
	switch c {
	case Ssl3:
		return "Ssl3"
	case Tls10:
		return "Tls10"
	case Tls11:
		return "Tls11"
	case Tls12:
		return "Tls12"
	case Tls13:
		return "Tls13"
	case EllipticCurve:
		return "EllipticCurve"
	case DiffieHellman:
		return "DiffieHellman"
	case WeakCiphers:
		return "WeakCiphers"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Rule is one grading strategy.
type Rule interface {
	ID() string
	Category() Category
	Sequence() int
	IsStopRule() bool
	Evaluate(rs rules.ResultSet) []findings.Finding
}

// Func is a Rule backed by a function.
type Func struct {
	RuleID   string
	Cat      Category
	Seq      int
	Stop     bool
	Evaluate func(rs rules.ResultSet) []findings.Finding
}

type funcRule struct{ f Func }

// NewRule wraps f as a Rule.
func NewRule(f Func) Rule { return funcRule{f} }

func (r funcRule) ID() string         { return r.f.RuleID }
func (r funcRule) Category() Category { return r.f.Cat }
func (r funcRule) Sequence() int      { return r.f.Seq }
func (r funcRule) IsStopRule() bool   { return r.f.Stop }
func (r funcRule) Evaluate(rs rules.ResultSet) []findings.Finding {
	if r.f.Evaluate == nil {
		return nil
	}
	return r.f.Evaluate(rs)
}

// StopPredicate decides whether a stop rule's findings end its category.
type StopPredicate func([]findings.Finding) bool

// AnyFinding is the default stop predicate.
func AnyFinding(list []findings.Finding) bool {
	return len(list) > 0
}

// Evaluator holds an ordered, immutable rule set.
type Evaluator struct {
	byCategory map[Category][]Rule
	stop       StopPredicate
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithStopPredicate replaces AnyFinding.
func WithStopPredicate(p StopPredicate) Option {
	return func(e *Evaluator) { e.stop = p }
}

// NewEvaluator groups rules by category and sorts each group by sequence.
func NewEvaluator(list []Rule, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{byCategory: map[Category][]Rule{}, stop: AnyFinding}
	seen := map[string]bool{}
	for _, r := range list {
		if seen[r.ID()] {
			return nil, fmt.Errorf("matrix: duplicate rule %s", r.ID())
		}
		seen[r.ID()] = true
		e.byCategory[r.Category()] = append(e.byCategory[r.Category()], r)
	}
	for _, group := range e.byCategory {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Sequence() < group[j].Sequence()
		})
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs every category in declared order and concatenates the findings.
func (e *Evaluator) Evaluate(rs rules.ResultSet) []findings.Finding {
	var out []findings.Finding
	for _, c := range Categories {
		for _, r := range e.byCategory[c] {
			found := r.Evaluate(rs)
			out = append(out, found...)
			if r.IsStopRule() && e.stop(found) {
				break
			}
		}
	}
	return out
}
