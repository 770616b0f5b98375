// Package assess runs a complete assessment of one host and composes the
// published result message.
package assess

import (
	"encoding/base64"
	"time"

	"github.com/jphoke/mailtls-assessor/pkg/certchain"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

// Mode selects how a host's handshakes are planned.
type Mode string

const (
	// ModeChain runs the simplified catalog as a data-dependent sequence.
	ModeChain Mode = "chain"
	// ModeMatrix runs the full catalog and grades every outcome.
	ModeMatrix Mode = "matrix"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeChain || m == ModeMatrix
}

// ResultMessage is published once per assessed host.
type ResultMessage struct {
	Host string `json:"host"`
	Mode Mode   `json:"mode"`
	// TLSFindings is absent when the host could not be judged.
	TLSFindings         []findings.Finding `json:"tls_findings"`
	CertificateFindings []findings.Finding `json:"certificate_findings"`
	// Certificates maps thumbprints to base64 DER.
	Certificates map[string]string  `json:"certificates"`
	Records      []certchain.Record `json:"records,omitempty"`
	Outcomes     []scanner.Outcome  `json:"outcomes,omitempty"`
	Inconclusive bool               `json:"inconclusive"`
	AssessedAt   time.Time          `json:"assessed_at"`
}

// TLSResult is what a TLS evaluator produced for a host.
type TLSResult struct {
	Findings     []findings.Finding
	Inconclusive bool
	Outcomes     []scanner.Outcome
}

// Aggregate merges TLS findings, certificate findings and certificate
// metadata into the result message.
func Aggregate(host string, mode Mode, tls TLSResult, certs findings.EvaluationResult[certchain.HostCertificates], at time.Time) ResultMessage {
	msg := ResultMessage{
		Host:                host,
		Mode:                mode,
		TLSFindings:         tls.Findings,
		CertificateFindings: certs.Findings,
		Certificates:        map[string]string{},
		Outcomes:            tls.Outcomes,
		Inconclusive:        tls.Inconclusive,
		AssessedAt:          at.UTC(),
	}
	if msg.Inconclusive {
		msg.TLSFindings = nil
	}
	for _, c := range certs.Item.Chain {
		msg.Certificates[certchain.Thumbprint(c.Raw)] = base64.StdEncoding.EncodeToString(c.Raw)
	}
	msg.Records = certs.Item.Records()
	return msg
}

// Counts tallies findings by severity across both lists.
func (m ResultMessage) Counts() map[findings.Severity]int {
	out := map[findings.Severity]int{}
	for _, f := range m.TLSFindings {
		out[f.Severity]++
	}
	for _, f := range m.CertificateFindings {
		out[f.Severity]++
	}
	return out
}
