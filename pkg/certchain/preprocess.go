package certchain

import (
	"crypto/x509"
	"crypto/x509/pkix"

	"github.com/jphoke/mailtls-assessor/pkg/trust"
)

// SameName compares distinguished names ignoring case and whitespace.
func SameName(a, b pkix.Name) bool {
	return trust.NormalizeName(a.String()) == trust.NormalizeName(b.String())
}

func selfIssued(c *x509.Certificate) bool {
	return SameName(c.Issuer, c.Subject)
}

// Preprocess completes a chain that does not end in a self-issued
// certificate with the matching root from store. It reports whether a
// root was appended. An unmatched chain is left for the trust rules.
func Preprocess(hc *HostCertificates, store *trust.Store) bool {
	if len(hc.Chain) == 0 {
		return false
	}
	last := hc.Chain[len(hc.Chain)-1]
	if selfIssued(last) {
		return false
	}
	root, ok := store.FindIssuer(last)
	if !ok {
		return false
	}
	hc.Chain = append(hc.Chain, root)
	return true
}
