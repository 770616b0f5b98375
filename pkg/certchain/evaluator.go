package certchain

import (
	"context"
	"crypto/x509"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/trust"
)

// Evaluator runs the certificate pipeline. Its rule sets are fixed at
// construction and it is safe for concurrent use.
type Evaluator struct {
	store      *trust.Store
	revocation RevocationChecker
	rules      []Rule
	nameRules  []NameRule
	thresholds Thresholds
	now        func() time.Time
	logger     zerolog.Logger
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithRules replaces DefaultRules.
func WithRules(rules ...Rule) Option {
	return func(e *Evaluator) { e.rules = rules }
}

// WithNameRules replaces DefaultNameRules.
func WithNameRules(rules ...NameRule) Option {
	return func(e *Evaluator) { e.nameRules = rules }
}

// WithRevocation sets the revocation checker. Without one, revocation is
// reported as not checked.
func WithRevocation(r RevocationChecker) Option {
	return func(e *Evaluator) { e.revocation = r }
}

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Evaluator) { e.thresholds = t }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator creates an evaluator over store.
func NewEvaluator(store *trust.Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:      store,
		rules:      DefaultRules(),
		nameRules:  DefaultNameRules(),
		thresholds: DefaultThresholds(),
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	sorted := append([]Rule(nil), e.rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence() < sorted[j].Sequence() })
	e.rules = sorted
	return e
}

// Evaluate preprocesses hc and runs the host-scoped rules, then the
// name-scoped rules when hc names a host. The returned item carries the
// completed chain.
func (e *Evaluator) Evaluate(ctx context.Context, hc HostCertificates) findings.EvaluationResult[HostCertificates] {
	if hc.Host == NonexistentHost || hc.HostNotFound {
		return findings.EvaluationResult[HostCertificates]{
			Item:     hc,
			Findings: one(findings.New(IDHostExists, findings.Inconclusive, "host does not exist")),
		}
	}

	hc.Chain = append([]*x509.Certificate(nil), hc.Chain...)
	if Preprocess(&hc, e.store) {
		e.logger.Debug().Str("host", hc.Host).Msg("completed chain with trusted root")
	}

	env := Env{Host: hc, Now: e.now(), Store: e.store, Revocation: e.revocation, Thresholds: e.thresholds}
	var out []findings.Finding
	for _, r := range e.rules {
		found := r.Evaluate(ctx, env)
		out = append(out, found...)
		if r.IsStopRule() && len(found) > 0 {
			break
		}
	}
	if len(hc.Chain) > 0 && IsHostname(hc.Host) {
		for _, r := range e.nameRules {
			out = append(out, r.Evaluate(hc.Host, hc.Chain)...)
		}
	}
	return findings.EvaluationResult[HostCertificates]{Item: hc, Findings: out}
}
