// Package certtest issues throwaway certificate hierarchies for tests.
package certtest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync/atomic"
	"testing"
	"time"
)

// Cert is an issued certificate with its key.
type Cert struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Options tweak the template. Zero values get sensible defaults.
type Options struct {
	CommonName  string
	DNSNames    []string
	NotBefore   time.Time
	NotAfter    time.Time
	IsCA        bool
	KeyUsage    x509.KeyUsage
	ExtKeyUsage []x509.ExtKeyUsage
	OCSPServer  []string
	CRLs        []string
	Serial      int64
	// RSABits selects an RSA key of that size instead of ECDSA P-256.
	RSABits int
}

var serial atomic.Int64

func nextSerial() *big.Int {
	return big.NewInt(1000 + serial.Add(1))
}

func key(t testing.TB, rsaBits int) crypto.Signer {
	t.Helper()
	if rsaBits > 0 {
		k, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			t.Fatalf("rsa key: %v", err)
		}
		return k
	}
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa key: %v", err)
	}
	return k
}

func template(o Options) *x509.Certificate {
	if o.NotBefore.IsZero() {
		o.NotBefore = time.Now().Add(-time.Hour)
	}
	if o.NotAfter.IsZero() {
		o.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}
	sn := nextSerial()
	if o.Serial != 0 {
		sn = big.NewInt(o.Serial)
	}
	tmpl := &x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			CommonName:   o.CommonName,
			Organization: []string{"mailtls test"},
		},
		DNSNames:              o.DNSNames,
		NotBefore:             o.NotBefore,
		NotAfter:              o.NotAfter,
		KeyUsage:              o.KeyUsage,
		ExtKeyUsage:           o.ExtKeyUsage,
		OCSPServer:            o.OCSPServer,
		CRLDistributionPoints: o.CRLs,
		BasicConstraintsValid: true,
		IsCA:                  o.IsCA,
	}
	if o.IsCA && tmpl.KeyUsage == 0 {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
	if !o.IsCA && tmpl.KeyUsage == 0 {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	}
	if !o.IsCA && tmpl.ExtKeyUsage == nil {
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}
	return tmpl
}

func create(t testing.TB, tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return c
}

// Root creates a self-signed CA.
func Root(t testing.TB, cn string) *Cert {
	t.Helper()
	return RootWith(t, Options{CommonName: cn})
}

// RootWith creates a self-signed CA from o. IsCA is forced.
func RootWith(t testing.TB, o Options) *Cert {
	t.Helper()
	o.IsCA = true
	k := key(t, o.RSABits)
	tmpl := template(o)
	return &Cert{Cert: create(t, tmpl, tmpl, k.Public(), k), Key: k}
}

// Issue signs a new certificate with c.
func (c *Cert) Issue(t testing.TB, o Options) *Cert {
	t.Helper()
	k := key(t, o.RSABits)
	return &Cert{Cert: create(t, template(o), c.Cert, k.Public(), c.Key), Key: k}
}

// Intermediate issues a CA certificate.
func (c *Cert) Intermediate(t testing.TB, cn string) *Cert {
	t.Helper()
	return c.Issue(t, Options{CommonName: cn, IsCA: true})
}

// Leaf issues a server certificate for host.
func (c *Cert) Leaf(t testing.TB, host string) *Cert {
	t.Helper()
	return c.Issue(t, Options{CommonName: host, DNSNames: []string{host}})
}

// DER returns the raw certificates, in order.
func DER(certs ...*Cert) [][]byte {
	out := make([][]byte, len(certs))
	for i, c := range certs {
		out[i] = c.Cert.Raw
	}
	return out
}

// X509 returns the parsed certificates, in order.
func X509(certs ...*Cert) []*x509.Certificate {
	out := make([]*x509.Certificate, len(certs))
	for i, c := range certs {
		out[i] = c.Cert
	}
	return out
}

// PEM encodes the certificates as one bundle.
func PEM(certs ...*Cert) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Cert.Raw})...)
	}
	return out
}
