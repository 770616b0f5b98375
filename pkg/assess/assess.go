package assess

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jphoke/mailtls-assessor/pkg/certchain"
	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/rules"
	"github.com/jphoke/mailtls-assessor/pkg/rules/chain"
	"github.com/jphoke/mailtls-assessor/pkg/rules/matrix"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

// Runner performs one handshake test. *scanner.Driver implements it.
type Runner interface {
	Run(ctx context.Context, host string, tc criteria.TestCriteria) scanner.Outcome
}

// Config holds the assessor settings.
type Config struct {
	Mode Mode
	// Concurrency bounds the matrix handshakes run at once for one host.
	Concurrency int
	Policy      rules.CipherPolicy
}

// Assessor runs one host end to end. It is safe for concurrent use; no
// state is shared between hosts except what the evaluators hold read-only.
type Assessor struct {
	config  Config
	runner  Runner
	catalog criteria.Catalog
	chain   *chain.Evaluator
	matrix  *matrix.Evaluator
	certs   *certchain.Evaluator
	logger  zerolog.Logger
	now     func() time.Time
}

// New builds the evaluators for the configured mode.
func New(cfg Config, runner Runner, certs *certchain.Evaluator, logger zerolog.Logger) (*Assessor, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Policy.IsZero() {
		cfg.Policy = rules.DefaultPolicy()
	}
	a := &Assessor{config: cfg, runner: runner, certs: certs, logger: logger, now: time.Now}

	switch cfg.Mode {
	case ModeChain:
		a.catalog = criteria.Simplified()
		m, err := chain.Simplified(a.catalog, cfg.Policy)
		if err != nil {
			return nil, err
		}
		a.chain = chain.NewEvaluator(m, runner, logger)
	case ModeMatrix:
		a.catalog = criteria.Full()
		e, err := matrix.NewEvaluator(matrix.DefaultRules(cfg.Policy))
		if err != nil {
			return nil, err
		}
		a.matrix = e
	}
	return a, nil
}

// Mode is the configured mode.
func (a *Assessor) Mode() Mode { return a.config.Mode }

// Assess runs the handshakes for host, grades them and evaluates the
// presented chain. It fails only when ctx ends first.
func (a *Assessor) Assess(ctx context.Context, host string) (ResultMessage, error) {
	log := a.logger.With().Str("host", host).Str("mode", string(a.config.Mode)).Logger()

	var tls TLSResult
	if a.config.Mode == ModeChain {
		res := a.chain.Evaluate(ctx, host)
		tls = TLSResult{Findings: res.Advisories, Inconclusive: res.Inconclusive, Outcomes: res.Outcomes}
	} else {
		tls = a.runMatrix(ctx, host)
	}
	if err := ctx.Err(); err != nil {
		return ResultMessage{}, err
	}

	var certs findings.EvaluationResult[certchain.HostCertificates]
	hc := certchain.FromOutcomes(host, tls.Outcomes)
	switch {
	case a.certs == nil:
	case len(hc.Chain) == 0 && hc.Malformed == 0 && !hc.HostNotFound && tls.Inconclusive:
		// Nothing was presented because nothing could be reached.
		certs.Item = hc
	default:
		certs = a.certs.Evaluate(ctx, hc)
	}

	msg := Aggregate(host, a.config.Mode, tls, certs, a.now())
	log.Info().Bool("inconclusive", msg.Inconclusive).
		Int("tls_findings", len(msg.TLSFindings)).
		Int("certificate_findings", len(msg.CertificateFindings)).
		Msg("host assessed")
	return msg, nil
}

// runMatrix runs every test of the full catalog concurrently and keeps
// outcomes in catalog order.
func (a *Assessor) runMatrix(ctx context.Context, host string) TLSResult {
	tests := a.catalog.Tests()
	outcomes := make([]scanner.Outcome, len(tests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Concurrency)
	for i, tc := range tests {
		i, tc := i, tc
		g.Go(func() error {
			outcomes[i] = a.runner.Run(gctx, host, tc)
			return nil
		})
	}
	_ = g.Wait()

	inconclusive := true
	for _, o := range outcomes {
		if !rules.Inconclusive(o) {
			inconclusive = false
			break
		}
	}
	return TLSResult{
		Findings:     a.matrix.Evaluate(rules.NewResultSet(outcomes...)),
		Inconclusive: inconclusive,
		Outcomes:     outcomes,
	}
}
