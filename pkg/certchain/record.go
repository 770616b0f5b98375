// Package certchain judges the certificate chain a mail server presents:
// it completes the chain from the trusted-root store, runs ordered
// structural, trust and revocation rules, and checks the tested hostname.
package certchain

import (
	"crypto/dsa" //nolint:staticcheck // DSA certificates still show up on old MX hosts
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 -- thumbprints, not security
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"
)

// Record is the portable metadata of one certificate.
type Record struct {
	Thumbprint         string    `json:"thumbprint"`
	Version            int       `json:"version"`
	Subject            string    `json:"subject"`
	CommonName         string    `json:"common_name"`
	Issuer             string    `json:"issuer"`
	SerialNumber       string    `json:"serial_number"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
	KeyType            string    `json:"key_type"`
	KeySize            int       `json:"key_size"`
	DNSNames           []string  `json:"dns_names,omitempty"`
	IsCA               bool      `json:"is_ca"`
	SelfSigned         bool      `json:"self_signed"`
}

// Thumbprint is the upper-case hex SHA-1 of a DER certificate.
func Thumbprint(der []byte) string {
	sum := sha1.Sum(der) // #nosec G401
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// NewRecord describes c.
func NewRecord(c *x509.Certificate) Record {
	return Record{
		Thumbprint:         Thumbprint(c.Raw),
		Version:            c.Version,
		Subject:            c.Subject.String(),
		CommonName:         c.Subject.CommonName,
		Issuer:             c.Issuer.String(),
		SerialNumber:       c.SerialNumber.Text(16),
		NotBefore:          c.NotBefore,
		NotAfter:           c.NotAfter,
		SignatureAlgorithm: c.SignatureAlgorithm.String(),
		KeyType:            c.PublicKeyAlgorithm.String(),
		KeySize:            KeySize(c.PublicKey),
		DNSNames:           c.DNSNames,
		IsCA:               c.IsCA,
		SelfSigned:         selfIssued(c),
	}
}

// KeySize returns the strength-relevant size of a public key in bits, or
// 0 for an unknown key type.
func KeySize(pub any) int {
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen()
	case *ecdsa.PublicKey:
		return ecdsaKeySize(pub)
	case ed25519.PublicKey:
		return 256 // Ed25519 is always 256 bits
	case *dsa.PublicKey:
		return pub.P.BitLen() // DSA key size is the bit length of P
	}
	return 0
}

func ecdsaKeySize(pub *ecdsa.PublicKey) int {
	if pub.Curve == nil {
		return 0
	}
	switch pub.Curve {
	case elliptic.P224():
		return 224
	case elliptic.P256():
		return 256
	case elliptic.P384():
		return 384
	case elliptic.P521():
		return 521
	}
	if p := pub.Curve.Params(); p != nil {
		return p.BitSize
	}
	return 0
}
