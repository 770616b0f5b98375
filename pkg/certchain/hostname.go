package certchain

import (
	"crypto/x509"
	"net"
	"strings"

	"github.com/jphoke/mailtls-assessor/pkg/findings"
)

// NameRule is a check scoped to the tested hostname.
type NameRule interface {
	ID() string
	Evaluate(host string, chain []*x509.Certificate) []findings.Finding
}

type nameRule struct {
	id string
	fn func(host string, chain []*x509.Certificate) []findings.Finding
}

// NewNameRule builds a NameRule from a function.
func NewNameRule(id string, fn func(host string, chain []*x509.Certificate) []findings.Finding) NameRule {
	return nameRule{id: id, fn: fn}
}

func (r nameRule) ID() string { return r.id }
func (r nameRule) Evaluate(host string, chain []*x509.Certificate) []findings.Finding {
	return r.fn(host, chain)
}

// DefaultNameRules checks that the leaf names the host.
func DefaultNameRules() []NameRule {
	return []NameRule{NewNameRule(IDHostnameMatch, hostnameMatch)}
}

// IsHostname reports whether host is a DNS name rather than an address
// or the nonexistent-host sentinel.
func IsHostname(host string) bool {
	if host == "" || host == NonexistentHost {
		return false
	}
	return net.ParseIP(strings.Trim(host, "[]")) == nil
}

// MatchHostname matches host against a certificate name. A wildcard covers
// exactly one left-most label.
func MatchHostname(pattern, host string) bool {
	pattern = strings.ToLower(strings.TrimSuffix(pattern, "."))
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if pattern == "" || host == "" {
		return false
	}
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}
	dot := strings.IndexByte(host, '.')
	if dot <= 0 {
		return false
	}
	suffix := pattern[1:]
	// "*.com" style patterns are not honoured.
	if strings.Count(suffix, ".") < 2 {
		return false
	}
	return host[dot:] == suffix
}

func hostnameMatch(host string, chain []*x509.Certificate) []findings.Finding {
	if len(chain) == 0 {
		return nil
	}
	leaf := chain[0]
	if len(leaf.DNSNames) > 0 {
		for _, n := range leaf.DNSNames {
			if MatchHostname(n, host) {
				return one(findings.New(IDHostnameMatch, findings.Pass, "certificate names %s", host))
			}
		}
		return one(findings.New(IDHostnameMatch, findings.Fail, "certificate does not name %s (SAN: %s)", host, strings.Join(leaf.DNSNames, ", ")))
	}
	if MatchHostname(leaf.Subject.CommonName, host) {
		return []findings.Finding{
			findings.New(IDHostnameMatch, findings.Pass, "certificate names %s", host),
			findings.New(IDCommonNameOnly, findings.Info, "%s matched only through the subject common name", host),
		}
	}
	return one(findings.New(IDHostnameMatch, findings.Fail, "certificate does not name %s (CN: %s)", host, leaf.Subject.CommonName))
}
