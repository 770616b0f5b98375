package chain

import (
	"fmt"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/rules"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

// Simplified builds the three-state machine over the simplified catalog:
// best cipher, then reverse preference, then weak-suite rejection.
func Simplified(catalog criteria.Catalog, policy rules.CipherPolicy) (*Machine, error) {
	lookup := func(n criteria.Name) (criteria.TestCriteria, error) {
		tc, ok := catalog.Lookup(n)
		if !ok {
			return tc, fmt.Errorf("chain: catalog has no test %s", n)
		}
		return tc, nil
	}
	best, err := lookup(criteria.Tls12BestCipher)
	if err != nil {
		return nil, err
	}
	reverse, err := lookup(criteria.Tls12BestCipherReverse)
	if err != nil {
		return nil, err
	}
	weak, err := lookup(criteria.WeakCipherSuitesRejected)
	if err != nil {
		return nil, err
	}
	return NewMachine(
		Node{Test: best, Rule: bestCipher{policy}, Next: reverse.Name},
		Node{Test: reverse, Rule: serverPreference{policy}, Next: weak.Name},
		Node{Test: weak, Rule: weakRejected{}},
	)
}

// inconclusive marks the state and stops. Connectivity says nothing
// about the server's TLS configuration.
func inconclusive(s State) (State, Transition) {
	s.Inconclusive = true
	return s, Terminal
}

type bestCipher struct {
	policy rules.CipherPolicy
}

func (r bestCipher) Evaluate(s State, o scanner.Outcome) (State, Transition) {
	id := string(o.Test)
	switch {
	case rules.Inconclusive(o):
		return inconclusive(s)
	case rules.Refused(o):
		return s.Advise(findings.New(id, findings.Fail, "TLS 1.2 handshake refused: %s", o.Error)), Terminal
	case r.policy.IsWeak(o.CipherSuite):
		return s.Advise(findings.New(id, findings.Fail, "server selected weak cipher suite %s", rules.Describe(o.CipherSuite))), Advance
	case r.policy.IsRecommended(o.CipherSuite):
		return s.Advise(findings.New(id, findings.Pass, "server selected recommended cipher suite %s", o.CipherSuiteName())), Advance
	default:
		return s.Advise(findings.New(id, findings.Warning, "server selected cipher suite %s which is not recommended", rules.Describe(o.CipherSuite))), Advance
	}
}

type serverPreference struct {
	policy rules.CipherPolicy
}

func (r serverPreference) Evaluate(s State, o scanner.Outcome) (State, Transition) {
	id := string(o.Test)
	switch {
	case rules.Inconclusive(o):
		return inconclusive(s)
	case rules.Refused(o):
		return s.Advise(findings.New(id, findings.Fail, "TLS 1.2 handshake with reversed preference refused: %s", o.Error)), Terminal
	case r.policy.IsWeak(o.CipherSuite):
		return s.Advise(findings.New(id, findings.Fail, "server follows client preference and selected weak cipher suite %s", rules.Describe(o.CipherSuite))), Advance
	}
	if first, ok := s.Outcome(criteria.Tls12BestCipher); ok && first.CipherSuite == o.CipherSuite {
		return s.Advise(findings.New(id, findings.Pass, "server enforces its own cipher suite preference")), Advance
	}
	return s.Advise(findings.New(id, findings.Warning, "server follows client preference and selected %s", o.CipherSuiteName())), Advance
}

type weakRejected struct{}

func (weakRejected) Evaluate(s State, o scanner.Outcome) (State, Transition) {
	id := string(o.Test)
	switch {
	case rules.Inconclusive(o):
		return inconclusive(s)
	case rules.Refused(o):
		return s.Advise(findings.New(id, findings.Pass, "weak cipher suites rejected (%s)", o.Error)), Terminal
	default:
		return s.Advise(findings.New(id, findings.Fail, "server accepted weak cipher suite %s", rules.Describe(o.CipherSuite))), Terminal
	}
}
