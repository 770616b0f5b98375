// Package rules holds what the chain and matrix evaluators share:
// outcome classification and the cipher policy.
package rules

import (
	"fmt"
	"strings"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

// ResultSet holds every outcome of a fixed test run by test name.
type ResultSet map[criteria.Name]scanner.Outcome

// NewResultSet indexes outcomes by test.
func NewResultSet(outcomes ...scanner.Outcome) ResultSet {
	rs := make(ResultSet, len(outcomes))
	for _, o := range outcomes {
		rs[o.Test] = o
	}
	return rs
}

// Get returns the outcome for name. A missing test reads as an internal error.
func (rs ResultSet) Get(name criteria.Name) scanner.Outcome {
	if o, ok := rs[name]; ok {
		return o
	}
	return scanner.Failure(name, scanner.ErrInternal, "test was not run")
}

// Supported reports a completed handshake.
func Supported(o scanner.Outcome) bool {
	return o.Succeeded()
}

// Inconclusive reports outcomes that say nothing about the server's TLS
// configuration.
func Inconclusive(o scanner.Outcome) bool {
	switch o.Error {
	case scanner.ErrTCPConnectionFailed, scanner.ErrSessionInitializationFail,
		scanner.ErrHostNotFound, scanner.ErrInternal:
		return true
	}
	return false
}

// ExplicitlyUnsupported reports a protocol_version refusal.
func ExplicitlyUnsupported(o scanner.Outcome) bool {
	return o.Error == scanner.ErrProtocolVersion
}

// HandshakeFailure reports a handshake_failure refusal.
func HandshakeFailure(o scanner.Outcome) bool {
	return o.Error == scanner.ErrHandshakeFailure
}

// InsufficientSecurity reports an insufficient_security refusal.
func InsufficientSecurity(o scanner.Outcome) bool {
	return o.Error == scanner.ErrInsufficientSecurity
}

// Refused reports a definitive refusal: the server answered with a TLS
// alert, or picked parameters that were never offered.
func Refused(o scanner.Outcome) bool {
	return o.Error.IsAlert()
}

// CipherPolicy holds the curated recommended and weak suite sets.
type CipherPolicy struct {
	recommended map[uint16]bool
	weak        map[uint16]bool
}

var defaultRecommended = []uint16{
	criteria.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	criteria.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	criteria.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	criteria.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	criteria.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	criteria.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	criteria.TLS_DHE_RSA_WITH_AES_256_GCM_SHA384,
	criteria.TLS_DHE_RSA_WITH_AES_128_GCM_SHA256,
	criteria.TLS_DHE_RSA_WITH_CHACHA20_POLY1305,
	criteria.TLS_AES_128_GCM_SHA256,
	criteria.TLS_AES_256_GCM_SHA384,
	criteria.TLS_CHACHA20_POLY1305_SHA256,
}

// DefaultPolicy recommends forward-secret AEAD suites and treats the
// name-graded weak suites as weak.
func DefaultPolicy() CipherPolicy {
	p := CipherPolicy{recommended: map[uint16]bool{}, weak: map[uint16]bool{}}
	for _, s := range defaultRecommended {
		p.recommended[s] = true
	}
	return p
}

// NewPolicy builds a policy from IANA suite names. Empty lists keep the defaults.
func NewPolicy(recommended, weak []string) (CipherPolicy, error) {
	p := DefaultPolicy()
	if len(recommended) > 0 {
		p.recommended = map[uint16]bool{}
		for _, name := range recommended {
			id, ok := criteria.CipherSuiteID(name)
			if !ok {
				return p, fmt.Errorf("unknown cipher suite %q", name)
			}
			p.recommended[id] = true
		}
	}
	for _, name := range weak {
		id, ok := criteria.CipherSuiteID(name)
		if !ok {
			return p, fmt.Errorf("unknown cipher suite %q", name)
		}
		p.weak[id] = true
	}
	return p, nil
}

// IsZero reports whether p was never initialised.
func (p CipherPolicy) IsZero() bool {
	return p.recommended == nil
}

// IsRecommended reports whether the suite is in the recommended set.
func (p CipherPolicy) IsRecommended(id uint16) bool {
	return p.recommended[id]
}

// IsWeak reports whether the suite is weak by name grading or listed as weak.
func (p CipherPolicy) IsWeak(id uint16) bool {
	return p.weak[id] || criteria.IsWeak(id)
}

// Describe names a suite with its grade for finding texts.
func Describe(id uint16) string {
	return fmt.Sprintf("%s (%s)", criteria.CipherSuiteName(id), strings.ToLower(string(criteria.CipherStrength(id))))
}
