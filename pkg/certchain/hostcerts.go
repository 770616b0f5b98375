package certchain

import (
	"crypto/x509"
	"fmt"

	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

// NonexistentHost is the host identity used when there is nothing to test.
const NonexistentHost = "."

// HostCertificates is the chain presented by one host. Chain runs from the
// leaf towards the root; preprocessing may append a root, after which it
// is not modified.
type HostCertificates struct {
	Host         string
	HostNotFound bool
	Chain        []*x509.Certificate
	// Malformed counts presented certificates that failed to parse.
	Malformed    int
	CipherSuites []uint16
}

// FromOutcomes collects the chain from the first completed handshake and
// every negotiated cipher suite.
func FromOutcomes(host string, outcomes []scanner.Outcome) HostCertificates {
	hc := HostCertificates{Host: host}
	seen := map[uint16]bool{}
	for _, o := range outcomes {
		if o.Error == scanner.ErrHostNotFound {
			hc.HostNotFound = true
		}
		if !o.Succeeded() {
			continue
		}
		if !seen[o.CipherSuite] {
			seen[o.CipherSuite] = true
			hc.CipherSuites = append(hc.CipherSuites, o.CipherSuite)
		}
		if hc.Chain == nil && hc.Malformed == 0 && len(o.Chain) > 0 {
			for _, der := range o.Chain {
				c, err := x509.ParseCertificate(der)
				if err != nil {
					hc.Malformed++
					continue
				}
				hc.Chain = append(hc.Chain, c)
			}
		}
	}
	return hc
}

// Leaf is the first certificate, or nil.
func (hc HostCertificates) Leaf() *x509.Certificate {
	if len(hc.Chain) == 0 {
		return nil
	}
	return hc.Chain[0]
}

// Records describes every certificate in chain order.
func (hc HostCertificates) Records() []Record {
	out := make([]Record, len(hc.Chain))
	for i, c := range hc.Chain {
		out[i] = NewRecord(c)
	}
	return out
}

func (hc HostCertificates) String() string {
	return fmt.Sprintf("%s (%d certificates)", hc.Host, len(hc.Chain))
}
