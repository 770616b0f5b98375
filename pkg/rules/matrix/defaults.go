package matrix

import (
	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/rules"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
)

// Minimum ephemeral key sizes.
const (
	MinCurveBits        = 256
	MinDHBits           = 2048
	MinAcceptableDHBits = 1024
)

func one(f findings.Finding) []findings.Finding {
	return []findings.Finding{f}
}

// gate stops a category whose key outcome says nothing about TLS.
func gate(cat Category, test criteria.Name) Rule {
	return NewRule(Func{
		RuleID: cat.String() + ".Reachable",
		Cat:    cat,
		Seq:    0,
		Stop:   true,
		Evaluate: func(rs rules.ResultSet) []findings.Finding {
			o := rs.Get(test)
			if !rules.Inconclusive(o) {
				return nil
			}
			return one(findings.New(string(test), findings.Inconclusive, "could not judge: %s", o))
		},
	})
}

// notSelected grades a weak-first offer: the server should still pick a
// non-weak suite.
func notSelected(cat Category, seq int, test criteria.Name, policy rules.CipherPolicy) Rule {
	return NewRule(Func{
		RuleID: string(test),
		Cat:    cat,
		Seq:    seq,
		Evaluate: func(rs rules.ResultSet) []findings.Finding {
			o := rs.Get(test)
			id := string(test)
			switch {
			case rules.Inconclusive(o):
				return one(findings.New(id, findings.Inconclusive, "could not judge: %s", o))
			case rules.Refused(o):
				return one(findings.New(id, findings.Info, "weak-first offer refused: %s", o.Error))
			case policy.IsWeak(o.CipherSuite):
				return one(findings.New(id, findings.Fail, "server selected weak cipher suite %s when offered first", rules.Describe(o.CipherSuite)))
			default:
				return one(findings.New(id, findings.Pass, "server avoided weak cipher suites and selected %s", o.CipherSuiteName()))
			}
		},
	})
}

// grade judges the suite selected from a best-first offer.
func grade(id string, o scanner.Outcome, policy rules.CipherPolicy) findings.Finding {
	switch {
	case policy.IsWeak(o.CipherSuite):
		return findings.New(id, findings.Fail, "server selected weak cipher suite %s", rules.Describe(o.CipherSuite))
	case policy.IsRecommended(o.CipherSuite):
		return findings.New(id, findings.Pass, "server selected recommended cipher suite %s", o.CipherSuiteName())
	default:
		return findings.New(id, findings.Warning, "server selected cipher suite %s which is not recommended", rules.Describe(o.CipherSuite))
	}
}

func legacy(cat Category, version string, best, weak criteria.Name, policy rules.CipherPolicy) []Rule {
	return []Rule{
		gate(cat, best),
		NewRule(Func{
			RuleID: cat.String() + ".Disabled",
			Cat:    cat,
			Seq:    1,
			Stop:   true,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(best)
				if o.Succeeded() {
					return nil
				}
				return one(findings.New(string(best), findings.Pass, "%s is disabled (%s)", version, o.Error))
			},
		}),
		NewRule(Func{
			RuleID: string(best),
			Cat:    cat,
			Seq:    2,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(best)
				return one(findings.New(string(best), findings.Warning, "%s is enabled and selected %s", version, rules.Describe(o.CipherSuite)))
			},
		}),
		notSelected(cat, 3, weak, policy),
	}
}

// DefaultRules is the grading rule set for the full catalog.
func DefaultRules(policy rules.CipherPolicy) []Rule {
	var list []Rule

	list = append(list,
		gate(Ssl3, criteria.Ssl3Rejected),
		NewRule(Func{
			RuleID: string(criteria.Ssl3Rejected),
			Cat:    Ssl3,
			Seq:    1,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.Ssl3Rejected)
				id := string(criteria.Ssl3Rejected)
				switch {
				case rules.ExplicitlyUnsupported(o):
					return one(findings.New(id, findings.Pass, "SSL 3.0 is not supported"))
				case !o.Succeeded():
					return one(findings.New(id, findings.Pass, "SSL 3.0 handshake refused (%s)", o.Error))
				default:
					return one(findings.New(id, findings.Fail, "SSL 3.0 accepted with %s", rules.Describe(o.CipherSuite)))
				}
			},
		}),
	)

	list = append(list, legacy(Tls10, "TLS 1.0", criteria.Tls10BestCipher, criteria.Tls10WeakNotSelected, policy)...)
	list = append(list, legacy(Tls11, "TLS 1.1", criteria.Tls11BestCipher, criteria.Tls11WeakNotSelected, policy)...)

	list = append(list,
		gate(Tls12, criteria.Tls12BestCipher),
		NewRule(Func{
			RuleID: "Tls12.Available",
			Cat:    Tls12,
			Seq:    1,
			Stop:   true,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.Tls12BestCipher)
				if o.Succeeded() {
					return nil
				}
				return one(findings.New(string(criteria.Tls12BestCipher), findings.Fail, "TLS 1.2 is not available (%s)", o.Error))
			},
		}),
		NewRule(Func{
			RuleID: string(criteria.Tls12BestCipher),
			Cat:    Tls12,
			Seq:    2,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				return one(grade(string(criteria.Tls12BestCipher), rs.Get(criteria.Tls12BestCipher), policy))
			},
		}),
		NewRule(Func{
			RuleID: string(criteria.Tls12BestCipherReverse),
			Cat:    Tls12,
			Seq:    3,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				best := rs.Get(criteria.Tls12BestCipher)
				o := rs.Get(criteria.Tls12BestCipherReverse)
				id := string(criteria.Tls12BestCipherReverse)
				switch {
				case rules.Inconclusive(o):
					return one(findings.New(id, findings.Inconclusive, "could not judge: %s", o))
				case rules.Refused(o):
					return one(findings.New(id, findings.Warning, "reversed offer refused (%s)", o.Error))
				case o.CipherSuite == best.CipherSuite:
					return one(findings.New(id, findings.Pass, "server enforces its own cipher suite preference"))
				case policy.IsWeak(o.CipherSuite):
					return one(findings.New(id, findings.Fail, "server follows client preference and selected weak cipher suite %s", rules.Describe(o.CipherSuite)))
				default:
					return one(findings.New(id, findings.Warning, "server follows client preference and selected %s", o.CipherSuiteName()))
				}
			},
		}),
		NewRule(Func{
			RuleID: string(criteria.Tls12Sha2Selected),
			Cat:    Tls12,
			Seq:    4,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.Tls12Sha2Selected)
				id := string(criteria.Tls12Sha2Selected)
				switch {
				case rules.Inconclusive(o):
					return one(findings.New(id, findings.Inconclusive, "could not judge: %s", o))
				case rules.Refused(o):
					return one(findings.New(id, findings.Info, "SHA-1 first offer refused (%s)", o.Error))
				case criteria.UsesSHA1(o.CipherSuite):
					return one(findings.New(id, findings.Warning, "server selected SHA-1 cipher suite %s", o.CipherSuiteName()))
				default:
					return one(findings.New(id, findings.Pass, "server selected SHA-2 cipher suite %s", o.CipherSuiteName()))
				}
			},
		}),
		notSelected(Tls12, 5, criteria.Tls12WeakNotSelected, policy),
	)

	list = append(list,
		gate(Tls13, criteria.Tls13BestCipher),
		NewRule(Func{
			RuleID: "Tls13.Available",
			Cat:    Tls13,
			Seq:    1,
			Stop:   true,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.Tls13BestCipher)
				if o.Succeeded() {
					return nil
				}
				return one(findings.New(string(criteria.Tls13BestCipher), findings.Warning, "TLS 1.3 is not available (%s)", o.Error))
			},
		}),
		NewRule(Func{
			RuleID: string(criteria.Tls13BestCipher),
			Cat:    Tls13,
			Seq:    2,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				return one(grade(string(criteria.Tls13BestCipher), rs.Get(criteria.Tls13BestCipher), policy))
			},
		}),
	)

	list = append(list,
		gate(EllipticCurve, criteria.SecureEllipticCurve),
		NewRule(Func{
			RuleID: "EllipticCurve.Offered",
			Cat:    EllipticCurve,
			Seq:    1,
			Stop:   true,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.SecureEllipticCurve)
				if o.Succeeded() {
					return nil
				}
				return one(findings.New(string(criteria.SecureEllipticCurve), findings.Info, "no ECDHE key exchange (%s)", o.Error))
			},
		}),
		NewRule(Func{
			RuleID: string(criteria.SecureEllipticCurve),
			Cat:    EllipticCurve,
			Seq:    2,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.SecureEllipticCurve)
				id := string(criteria.SecureEllipticCurve)
				bits := criteria.GroupBits(o.CurveID)
				switch {
				case bits == 0:
					return one(findings.New(id, findings.Unknown, "curve could not be determined"))
				case bits < MinCurveBits:
					return one(findings.New(id, findings.Fail, "server selected %d-bit curve %s", bits, criteria.GroupName(o.CurveID)))
				default:
					return one(findings.New(id, findings.Pass, "server selected curve %s", criteria.GroupName(o.CurveID)))
				}
			},
		}),
	)

	list = append(list,
		gate(DiffieHellman, criteria.SecureDiffieHellman),
		NewRule(Func{
			RuleID: "DiffieHellman.Offered",
			Cat:    DiffieHellman,
			Seq:    1,
			Stop:   true,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.SecureDiffieHellman)
				if o.Succeeded() {
					return nil
				}
				return one(findings.New(string(criteria.SecureDiffieHellman), findings.Info, "no DHE key exchange (%s)", o.Error))
			},
		}),
		NewRule(Func{
			RuleID: string(criteria.SecureDiffieHellman),
			Cat:    DiffieHellman,
			Seq:    2,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.SecureDiffieHellman)
				id := string(criteria.SecureDiffieHellman)
				switch {
				case o.DHBits == 0:
					return one(findings.New(id, findings.Unknown, "group size could not be determined"))
				case o.DHBits < MinAcceptableDHBits:
					return one(findings.New(id, findings.Fail, "server selected a %d-bit DH group", o.DHBits))
				case o.DHBits < MinDHBits:
					return one(findings.New(id, findings.Warning, "server selected a %d-bit DH group", o.DHBits))
				default:
					return one(findings.New(id, findings.Pass, "server selected a %d-bit DH group", o.DHBits))
				}
			},
		}),
	)

	list = append(list,
		gate(WeakCiphers, criteria.WeakCipherSuitesRejected),
		NewRule(Func{
			RuleID: string(criteria.WeakCipherSuitesRejected),
			Cat:    WeakCiphers,
			Seq:    1,
			Evaluate: func(rs rules.ResultSet) []findings.Finding {
				o := rs.Get(criteria.WeakCipherSuitesRejected)
				id := string(criteria.WeakCipherSuitesRejected)
				if !o.Succeeded() {
					return one(findings.New(id, findings.Pass, "weak cipher suites rejected (%s)", o.Error))
				}
				return one(findings.New(id, findings.Fail, "server accepted weak cipher suite %s", rules.Describe(o.CipherSuite)))
			},
		}),
	)

	return list
}
