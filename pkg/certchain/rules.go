package certchain

import (
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/trust"
)

// Finding IDs.
const (
	IDHostExists     = "HostExists"
	IDPresence       = "CertificatesPresent"
	IDOrder          = "ChainOrdered"
	IDValidity       = "ValidityPeriod"
	IDKeyStrength    = "KeyStrength"
	IDSignatures     = "SignaturesValid"
	IDTrustedRoot    = "RootTrusted"
	IDCAUsage        = "CAKeyUsage"
	IDLeafUsage      = "LeafKeyUsage"
	IDRevocation     = "NotRevoked"
	IDHostnameMatch  = "HostnameMatches"
	IDCommonNameOnly = "CommonNameFallback"
)

// Thresholds are the minimum key sizes and the expiry warning window.
type Thresholds struct {
	MinRSABits    int
	MinECDSABits  int
	ExpiryWarning time.Duration
}

// DefaultThresholds requires 2048-bit RSA/DSA and 256-bit EC keys and
// warns 30 days before expiry.
func DefaultThresholds() Thresholds {
	return Thresholds{MinRSABits: 2048, MinECDSABits: 256, ExpiryWarning: 30 * 24 * time.Hour}
}

// Env is what host-scoped rules see. The chain is read-only here.
type Env struct {
	Host       HostCertificates
	Now        time.Time
	Store      *trust.Store
	Revocation RevocationChecker
	Thresholds Thresholds
}

// Rule is one host-scoped certificate check.
type Rule interface {
	ID() string
	Sequence() int
	IsStopRule() bool
	Evaluate(ctx context.Context, env Env) []findings.Finding
}

type rule struct {
	id   string
	seq  int
	stop bool
	fn   func(ctx context.Context, env Env) []findings.Finding
}

// NewRule builds a Rule from a function.
func NewRule(id string, seq int, stop bool, fn func(ctx context.Context, env Env) []findings.Finding) Rule {
	return rule{id: id, seq: seq, stop: stop, fn: fn}
}

func (r rule) ID() string       { return r.id }
func (r rule) Sequence() int    { return r.seq }
func (r rule) IsStopRule() bool { return r.stop }
func (r rule) Evaluate(ctx context.Context, env Env) []findings.Finding {
	return r.fn(ctx, env)
}

// DefaultRules is the ordered host-scoped rule set.
func DefaultRules() []Rule {
	return []Rule{
		NewRule(IDPresence, 10, true, presence),
		NewRule(IDOrder, 20, false, order),
		NewRule(IDValidity, 30, false, validity),
		NewRule(IDKeyStrength, 40, false, keyStrength),
		NewRule(IDSignatures, 50, false, signatures),
		NewRule(IDTrustedRoot, 60, false, trustedRoot),
		NewRule(IDCAUsage, 70, false, caUsage),
		NewRule(IDLeafUsage, 80, false, leafUsage),
		NewRule(IDRevocation, 90, false, revocation),
	}
}

func one(f findings.Finding) []findings.Finding {
	return []findings.Finding{f}
}

func name(c *x509.Certificate) string {
	if c.Subject.CommonName != "" {
		return c.Subject.CommonName
	}
	return c.Subject.String()
}

// presence stops evaluation when there is nothing to judge.
func presence(_ context.Context, env Env) []findings.Finding {
	hc := env.Host
	switch {
	case hc.Malformed > 0:
		return one(findings.New(IDPresence, findings.Fail, "%d presented certificates could not be parsed", hc.Malformed))
	case len(hc.Chain) == 0:
		return one(findings.New(IDPresence, findings.Fail, "no certificates were presented"))
	}
	return nil
}

func order(_ context.Context, env Env) []findings.Finding {
	chain := env.Host.Chain
	var out []findings.Finding
	for i := 0; i+1 < len(chain); i++ {
		if !SameName(chain[i].Issuer, chain[i+1].Subject) {
			out = append(out, findings.New(IDOrder, findings.Fail,
				"certificate %q is not issued by the next certificate %q", name(chain[i]), name(chain[i+1])))
		}
	}
	if out == nil {
		return one(findings.New(IDOrder, findings.Pass, "chain of %d certificates is correctly ordered", len(chain)))
	}
	return out
}

func validity(_ context.Context, env Env) []findings.Finding {
	var out []findings.Finding
	for i, c := range env.Host.Chain {
		switch {
		case env.Now.Before(c.NotBefore):
			out = append(out, findings.New(IDValidity, findings.Fail, "certificate %q is not valid before %s", name(c), c.NotBefore.Format(time.RFC3339)))
		case env.Now.After(c.NotAfter):
			out = append(out, findings.New(IDValidity, findings.Fail, "certificate %q expired on %s", name(c), c.NotAfter.Format(time.RFC3339)))
		case i == 0 && c.NotAfter.Sub(env.Now) < env.Thresholds.ExpiryWarning:
			out = append(out, findings.New(IDValidity, findings.Warning, "certificate %q expires on %s", name(c), c.NotAfter.Format(time.RFC3339)))
		}
	}
	if out == nil {
		return one(findings.New(IDValidity, findings.Pass, "all certificates are within their validity period"))
	}
	return out
}

func keyStrength(_ context.Context, env Env) []findings.Finding {
	var out []findings.Finding
	for _, c := range env.Host.Chain {
		bits := KeySize(c.PublicKey)
		floor := env.Thresholds.MinRSABits
		if c.PublicKeyAlgorithm == x509.ECDSA || c.PublicKeyAlgorithm == x509.Ed25519 {
			floor = env.Thresholds.MinECDSABits
		}
		switch {
		case bits == 0:
			out = append(out, findings.New(IDKeyStrength, findings.Unknown, "certificate %q has an unrecognised %s key", name(c), c.PublicKeyAlgorithm))
		case bits < floor:
			out = append(out, findings.New(IDKeyStrength, findings.Fail, "certificate %q has a %d-bit %s key, minimum is %d", name(c), bits, c.PublicKeyAlgorithm, floor))
		}
	}
	if out == nil {
		return one(findings.New(IDKeyStrength, findings.Pass, "all keys meet the minimum strength"))
	}
	return out
}

func weakHash(alg x509.SignatureAlgorithm) (findings.Severity, bool) {
	switch alg {
	case x509.MD2WithRSA, x509.MD5WithRSA:
		return findings.Fail, true
	case x509.SHA1WithRSA, x509.DSAWithSHA1, x509.ECDSAWithSHA1:
		return findings.Warning, true
	}
	return "", false
}

func signatures(_ context.Context, env Env) []findings.Finding {
	chain := env.Host.Chain
	var out []findings.Finding
	for i := 0; i+1 < len(chain); i++ {
		c, issuer := chain[i], chain[i+1]
		if sev, weak := weakHash(c.SignatureAlgorithm); weak {
			out = append(out, findings.New(IDSignatures, sev, "certificate %q is signed with %s", name(c), c.SignatureAlgorithm))
		}
		err := issuer.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature)
		var insecure x509.InsecureAlgorithmError
		switch {
		case err == nil, errors.As(err, &insecure):
		default:
			out = append(out, findings.New(IDSignatures, findings.Fail, "signature of %q does not verify against %q: %v", name(c), name(issuer), err))
		}
	}
	if out == nil {
		return one(findings.New(IDSignatures, findings.Pass, "all signatures verify"))
	}
	return out
}

func trustedRoot(_ context.Context, env Env) []findings.Finding {
	chain := env.Host.Chain
	root := chain[len(chain)-1]
	switch {
	case env.Store.Contains(root):
		return one(findings.New(IDTrustedRoot, findings.Pass, "chain ends in trusted root %q", name(root)))
	case selfIssued(root) && len(chain) == 1:
		return one(findings.New(IDTrustedRoot, findings.Fail, "certificate %q is self-signed", name(root)))
	case selfIssued(root):
		return one(findings.New(IDTrustedRoot, findings.Fail, "root %q is not trusted", name(root)))
	default:
		return one(findings.New(IDTrustedRoot, findings.Fail, "no trusted root found for issuer %q", root.Issuer.String()))
	}
}

func caUsage(_ context.Context, env Env) []findings.Finding {
	chain := env.Host.Chain
	if len(chain) < 2 {
		return nil
	}
	var out []findings.Finding
	for _, c := range chain[1:] {
		switch {
		case c.KeyUsage == 0:
			out = append(out, findings.New(IDCAUsage, findings.Warning, "CA certificate %q declares no key usage", name(c)))
		case c.KeyUsage&x509.KeyUsageCertSign == 0:
			out = append(out, findings.New(IDCAUsage, findings.Fail, "CA certificate %q lacks keyCertSign usage", name(c)))
		}
	}
	if out == nil {
		return one(findings.New(IDCAUsage, findings.Pass, "CA certificates carry keyCertSign usage"))
	}
	return out
}

func leafUsage(_ context.Context, env Env) []findings.Finding {
	leaf := env.Host.Leaf()
	var out []findings.Finding
	if leaf.KeyUsage != 0 && leaf.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment) == 0 {
		out = append(out, findings.New(IDLeafUsage, findings.Fail, "leaf %q allows neither digitalSignature nor keyEncipherment", name(leaf)))
	}
	if len(leaf.ExtKeyUsage) > 0 {
		serverAuth := false
		for _, u := range leaf.ExtKeyUsage {
			if u == x509.ExtKeyUsageServerAuth || u == x509.ExtKeyUsageAny {
				serverAuth = true
			}
		}
		if !serverAuth {
			out = append(out, findings.New(IDLeafUsage, findings.Fail, "leaf %q is not valid for server authentication", name(leaf)))
		}
	}
	if leaf.IsCA {
		out = append(out, findings.New(IDLeafUsage, findings.Warning, "leaf %q is a CA certificate", name(leaf)))
	}
	if out == nil {
		return one(findings.New(IDLeafUsage, findings.Pass, "leaf key usage permits TLS server authentication"))
	}
	return out
}

func revocation(ctx context.Context, env Env) []findings.Finding {
	chain := env.Host.Chain
	if env.Revocation == nil || len(chain) < 2 {
		return one(findings.New(IDRevocation, findings.Info, "revocation was not checked"))
	}
	var out []findings.Finding
	for i := 0; i+1 < len(chain); i++ {
		c, issuer := chain[i], chain[i+1]
		res, err := env.Revocation.Check(ctx, c, issuer)
		switch {
		case err != nil:
			out = append(out, findings.New(IDRevocation, findings.Warning, "revocation status of %q unknown: %v", name(c), err))
		case res.Status == StatusRevoked:
			out = append(out, findings.New(IDRevocation, findings.Fail, "certificate %q was revoked on %s (%s)", name(c), res.RevokedAt.Format(time.RFC3339), res.Source))
		case res.Status == StatusUnknown && res.Source == "":
			out = append(out, findings.New(IDRevocation, findings.Info, "certificate %q names no OCSP or CRL endpoint", name(c)))
		case res.Status == StatusUnknown:
			out = append(out, findings.New(IDRevocation, findings.Warning, "revocation status of %q could not be determined", name(c)))
		}
	}
	if out == nil {
		return one(findings.New(IDRevocation, findings.Pass, "no certificate in the chain is revoked"))
	}
	return out
}

