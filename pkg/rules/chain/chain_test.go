package chain

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/rules"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[criteria.Name]scanner.Outcome
	calls    []criteria.Name
}

func (f *fakeRunner) Run(_ context.Context, _ string, tc criteria.TestCriteria) scanner.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tc.Name)
	if o, ok := f.outcomes[tc.Name]; ok {
		return o
	}
	return scanner.Failure(tc.Name, scanner.ErrInternal, "unscripted")
}

func ok(name criteria.Name, suite uint16) scanner.Outcome {
	return scanner.Success(name, criteria.VersionTLS12, suite, nil)
}

func fail(name criteria.Name, err scanner.TLSError) scanner.Outcome {
	return scanner.Failure(name, err, "")
}

func tc(name criteria.Name) criteria.TestCriteria {
	return criteria.TestCriteria{Name: name, Version: criteria.VersionTLS12}
}

func TestInconclusiveDiscardsAdvisories(t *testing.T) {
	first := RuleFunc(func(s State, _ scanner.Outcome) (State, Transition) {
		s.Inconclusive = true
		return s, Advance
	})
	second := RuleFunc(func(s State, o scanner.Outcome) (State, Transition) {
		return s.Advise(findings.New(string(o.Test), findings.Warning, "advice")), Advance
	})
	m, err := NewMachine(
		Node{Test: tc("one"), Rule: first, Next: "two"},
		Node{Test: tc("two"), Rule: second},
	)
	require.NoError(t, err)

	runner := &fakeRunner{outcomes: map[criteria.Name]scanner.Outcome{}}
	res := NewEvaluator(m, runner, zerolog.Nop()).Evaluate(context.Background(), "mx.example.com")

	assert.True(t, res.Inconclusive)
	assert.Nil(t, res.Advisories)
	assert.Equal(t, []criteria.Name{"one", "two"}, runner.calls)
}

func TestAdvisoriesKeepInvocationOrder(t *testing.T) {
	advise := func(text string) Rule {
		return RuleFunc(func(s State, o scanner.Outcome) (State, Transition) {
			return s.Advise(findings.New(string(o.Test), findings.Info, text)), Advance
		})
	}
	m, err := NewMachine(
		Node{Test: tc("one"), Rule: advise("first"), Next: "two"},
		Node{Test: tc("two"), Rule: advise("second")},
	)
	require.NoError(t, err)

	res := NewEvaluator(m, &fakeRunner{}, zerolog.Nop()).Evaluate(context.Background(), "mx.example.com")
	assert.False(t, res.Inconclusive)
	require.Len(t, res.Advisories, 2)
	assert.Equal(t, "first", res.Advisories[0].Text)
	assert.Equal(t, "second", res.Advisories[1].Text)
}

func TestLoopIsBoundedByStateCount(t *testing.T) {
	loop := RuleFunc(func(s State, _ scanner.Outcome) (State, Transition) { return s, Advance })
	m, err := NewMachine(
		Node{Test: tc("a"), Rule: loop, Next: "b"},
		Node{Test: tc("b"), Rule: loop, Next: "a"},
	)
	require.NoError(t, err)

	runner := &fakeRunner{}
	NewEvaluator(m, runner, zerolog.Nop()).Evaluate(context.Background(), "h")
	assert.Len(t, runner.calls, 2)
}

func TestNewMachineValidation(t *testing.T) {
	noop := RuleFunc(func(s State, _ scanner.Outcome) (State, Transition) { return s, Terminal })

	_, err := NewMachine()
	assert.Error(t, err)
	_, err = NewMachine(Node{Test: tc("a"), Rule: noop, Next: "missing"})
	assert.Error(t, err)
	_, err = NewMachine(Node{Test: tc("a"), Rule: noop}, Node{Test: tc("a"), Rule: noop})
	assert.Error(t, err)
	_, err = NewMachine(Node{Test: tc("a")})
	assert.Error(t, err)
}

func TestSimplifiedPolicy(t *testing.T) {
	const (
		strong = criteria.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
		other  = criteria.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256
		cbc    = criteria.TLS_RSA_WITH_AES_128_CBC_SHA
		rc4    = criteria.TLS_RSA_WITH_RC4_128_SHA
	)
	tests := []struct {
		name         string
		outcomes     []scanner.Outcome
		severities   []findings.Severity
		inconclusive bool
		calls        int
	}{
		{
			name: "hardened server",
			outcomes: []scanner.Outcome{
				ok(criteria.Tls12BestCipher, strong),
				ok(criteria.Tls12BestCipherReverse, strong),
				fail(criteria.WeakCipherSuitesRejected, scanner.ErrHandshakeFailure),
			},
			severities: []findings.Severity{findings.Pass, findings.Pass, findings.Pass},
			calls:      3,
		},
		{
			name: "client preference and weak accepted",
			outcomes: []scanner.Outcome{
				ok(criteria.Tls12BestCipher, cbc),
				ok(criteria.Tls12BestCipherReverse, other),
				ok(criteria.WeakCipherSuitesRejected, rc4),
			},
			severities: []findings.Severity{findings.Warning, findings.Warning, findings.Fail},
			calls:      3,
		},
		{
			name: "tls 1.2 refused terminates",
			outcomes: []scanner.Outcome{
				fail(criteria.Tls12BestCipher, scanner.ErrProtocolVersion),
			},
			severities: []findings.Severity{findings.Fail},
			calls:      1,
		},
		{
			name: "connection failure is inconclusive",
			outcomes: []scanner.Outcome{
				ok(criteria.Tls12BestCipher, strong),
				fail(criteria.Tls12BestCipherReverse, scanner.ErrTCPConnectionFailed),
			},
			inconclusive: true,
			calls:        2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Simplified(criteria.Simplified(), rules.DefaultPolicy())
			require.NoError(t, err)
			runner := &fakeRunner{outcomes: map[criteria.Name]scanner.Outcome{}}
			for _, o := range tt.outcomes {
				runner.outcomes[o.Test] = o
			}

			res := NewEvaluator(m, runner, zerolog.Nop()).Evaluate(context.Background(), "192.0.2.1")
			assert.Equal(t, tt.inconclusive, res.Inconclusive)
			assert.Len(t, runner.calls, tt.calls)
			var got []findings.Severity
			for _, f := range res.Advisories {
				got = append(got, f.Severity)
			}
			assert.Equal(t, tt.severities, got)
		})
	}
}

func TestNonRecommendedAdvisoryNamesSuite(t *testing.T) {
	m, err := Simplified(criteria.Simplified(), rules.DefaultPolicy())
	require.NoError(t, err)
	runner := &fakeRunner{outcomes: map[criteria.Name]scanner.Outcome{
		criteria.Tls12BestCipher:          ok(criteria.Tls12BestCipher, criteria.TLS_RSA_WITH_AES_128_CBC_SHA),
		criteria.Tls12BestCipherReverse:   ok(criteria.Tls12BestCipherReverse, criteria.TLS_RSA_WITH_AES_128_CBC_SHA),
		criteria.WeakCipherSuitesRejected: fail(criteria.WeakCipherSuitesRejected, scanner.ErrHandshakeFailure),
	}}
	res := NewEvaluator(m, runner, zerolog.Nop()).Evaluate(context.Background(), "h")
	require.NotEmpty(t, res.Advisories)
	assert.Contains(t, res.Advisories[0].Text, "TLS_RSA_WITH_AES_128_CBC_SHA")
}

func TestCancelledContextIsInconclusive(t *testing.T) {
	m, err := Simplified(criteria.Simplified(), rules.DefaultPolicy())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	res := NewEvaluator(m, runner, zerolog.Nop()).Evaluate(ctx, "h")
	assert.True(t, res.Inconclusive)
	assert.Empty(t, runner.calls)
}
