// Package chain evaluates a host with a data-dependent sequence of
// handshakes. Each test is a state of a finite-state machine; the rule
// owning the state inspects the outcome and decides whether to advance.
package chain

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

// State is the accumulator threaded through the rules of one host.
type State struct {
	Host         string
	Advisories   []findings.Finding
	Inconclusive bool
	// History holds every outcome seen so far, in invocation order.
	History []scanner.Outcome
}

// Outcome returns the recorded outcome of test, if it ran.
func (s State) Outcome(test criteria.Name) (scanner.Outcome, bool) {
	for _, o := range s.History {
		if o.Test == test {
			return o, true
		}
	}
	return scanner.Outcome{}, false
}

// Advise returns s with f appended.
func (s State) Advise(f findings.Finding) State {
	s.Advisories = append(append([]findings.Finding(nil), s.Advisories...), f)
	return s
}

// Transition is a rule's decision after seeing an outcome.
type Transition int

const (
	Terminal Transition = iota
	Advance
)

// Rule judges the outcome of the test owning one state.
type Rule interface {
	Evaluate(state State, outcome scanner.Outcome) (State, Transition)
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(State, scanner.Outcome) (State, Transition)

func (f RuleFunc) Evaluate(s State, o scanner.Outcome) (State, Transition) {
	return f(s, o)
}

// Node is one state of the machine.
type Node struct {
	Test criteria.TestCriteria
	Rule Rule
	// Next is the state entered on Advance. Empty means Advance ends the run.
	Next criteria.Name
}

// Machine is the immutable transition table.
type Machine struct {
	start criteria.Name
	nodes map[criteria.Name]Node
}

// NewMachine builds the table. The first node is the start state; every
// Next must name a node.
func NewMachine(nodes ...Node) (*Machine, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("chain: no states")
	}
	m := &Machine{start: nodes[0].Test.Name, nodes: make(map[criteria.Name]Node, len(nodes))}
	for _, n := range nodes {
		if n.Rule == nil {
			return nil, fmt.Errorf("chain: state %s has no rule", n.Test.Name)
		}
		if _, dup := m.nodes[n.Test.Name]; dup {
			return nil, fmt.Errorf("chain: duplicate state %s", n.Test.Name)
		}
		m.nodes[n.Test.Name] = n
	}
	for _, n := range nodes {
		if n.Next == "" {
			continue
		}
		if _, ok := m.nodes[n.Next]; !ok {
			return nil, fmt.Errorf("chain: state %s advances to unknown state %s", n.Test.Name, n.Next)
		}
	}
	return m, nil
}

// Len is the number of states.
func (m *Machine) Len() int { return len(m.nodes) }

// Runner performs one handshake test against a host.
type Runner interface {
	Run(ctx context.Context, host string, tc criteria.TestCriteria) scanner.Outcome
}

// Result is what a chain run reports for a host.
type Result struct {
	Host string `json:"host"`
	// Advisories is nil when the run was inconclusive.
	Advisories   []findings.Finding `json:"advisories"`
	Inconclusive bool               `json:"inconclusive"`
	Outcomes     []scanner.Outcome  `json:"outcomes"`
}

// Evaluator drives a Machine against hosts.
type Evaluator struct {
	machine *Machine
	runner  Runner
	logger  zerolog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(m *Machine, r Runner, logger zerolog.Logger) *Evaluator {
	return &Evaluator{machine: m, runner: r, logger: logger}
}

// Evaluate runs the machine for host. At most Len() handshakes are made.
func (e *Evaluator) Evaluate(ctx context.Context, host string) Result {
	state := State{Host: host}
	current := e.machine.start
	for step := 0; step < e.machine.Len() && current != ""; step++ {
		if ctx.Err() != nil {
			state.Inconclusive = true
			break
		}
		node := e.machine.nodes[current]
		outcome := e.runner.Run(ctx, host, node.Test)
		state.History = append(state.History, outcome)

		var t Transition
		state, t = node.Rule.Evaluate(state, outcome)
		e.logger.Debug().Str("host", host).Str("test", string(current)).
			Bool("advance", t == Advance).Msg(outcome.String())
		if t != Advance {
			break
		}
		current = node.Next
	}

	res := Result{Host: host, Advisories: state.Advisories, Inconclusive: state.Inconclusive, Outcomes: state.History}
	if res.Inconclusive {
		res.Advisories = nil
	}
	return res
}
