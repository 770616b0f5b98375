package criteria

// Test names shared by the catalogs and the rule sets.
const (
	Tls12BestCipher          Name = "Tls12AvailableWithBestCipherSuiteSelected"
	Tls12BestCipherReverse   Name = "Tls12AvailableWithBestCipherSuiteSelectedFromReverseList"
	Tls12Sha2Selected        Name = "Tls12AvailableWithSha2HashFunctionSelected"
	Tls12WeakNotSelected     Name = "Tls12AvailableWithWeakCipherSuiteNotSelected"
	Tls11BestCipher          Name = "Tls11AvailableWithBestCipherSuiteSelected"
	Tls11WeakNotSelected     Name = "Tls11AvailableWithWeakCipherSuiteNotSelected"
	Tls10BestCipher          Name = "Tls10AvailableWithBestCipherSuiteSelected"
	Tls10WeakNotSelected     Name = "Tls10AvailableWithWeakCipherSuiteNotSelected"
	Ssl3Rejected             Name = "Ssl3FailsWithBadCipherSuite"
	SecureEllipticCurve      Name = "TlsSecureEllipticCurveSelected"
	SecureDiffieHellman      Name = "TlsSecureDiffieHellmanGroupSelected"
	WeakCipherSuitesRejected Name = "TlsWeakCipherSuitesRejected"
	Tls13BestCipher          Name = "Tls13AvailableWithBestCipherSuiteSelected"
)

// tls12Descending lists TLS 1.2 suites from most to least preferred.
var tls12Descending = []uint16{
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	TLS_DHE_RSA_WITH_AES_256_GCM_SHA384,
	TLS_DHE_RSA_WITH_AES_128_GCM_SHA256,
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA384,
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA384,
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA256,
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA256,
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_RSA_WITH_AES_256_GCM_SHA384,
	TLS_RSA_WITH_AES_128_GCM_SHA256,
	TLS_RSA_WITH_AES_256_CBC_SHA256,
	TLS_RSA_WITH_AES_128_CBC_SHA256,
	TLS_RSA_WITH_AES_256_CBC_SHA,
	TLS_RSA_WITH_AES_128_CBC_SHA,
	TLS_RSA_WITH_3DES_EDE_CBC_SHA,
	TLS_RSA_WITH_RC4_128_SHA,
	TLS_RSA_WITH_RC4_128_MD5,
}

// legacyDescending lists suites usable with TLS 1.0 and 1.1, best first.
var legacyDescending = []uint16{
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_RSA_WITH_AES_256_CBC_SHA,
	TLS_RSA_WITH_AES_128_CBC_SHA,
	TLS_RSA_WITH_3DES_EDE_CBC_SHA,
	TLS_RSA_WITH_RC4_128_SHA,
	TLS_RSA_WITH_RC4_128_MD5,
}

// sha1First offers SHA-1 MAC suites ahead of SHA-2 ones.
var sha1First = []uint16{
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_RSA_WITH_AES_256_CBC_SHA,
	TLS_RSA_WITH_AES_128_CBC_SHA,
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA384,
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA384,
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA256,
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA256,
	TLS_RSA_WITH_AES_256_CBC_SHA256,
	TLS_RSA_WITH_AES_128_CBC_SHA256,
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	TLS_DHE_RSA_WITH_AES_256_GCM_SHA384,
	TLS_DHE_RSA_WITH_AES_128_GCM_SHA256,
	TLS_RSA_WITH_AES_256_GCM_SHA384,
	TLS_RSA_WITH_AES_128_GCM_SHA256,
}

// weakSuites is offered alone to see whether the server accepts any of them.
var weakSuites = []uint16{
	TLS_RSA_WITH_NULL_MD5,
	TLS_RSA_WITH_NULL_SHA,
	TLS_RSA_WITH_NULL_SHA256,
	TLS_RSA_EXPORT_WITH_RC4_40_MD5,
	TLS_RSA_EXPORT_WITH_RC2_CBC_40_MD5,
	TLS_RSA_EXPORT_WITH_DES40_CBC_SHA,
	TLS_DHE_RSA_EXPORT_WITH_DES40_CBC_SHA,
	TLS_RSA_WITH_DES_CBC_SHA,
	TLS_DHE_RSA_WITH_DES_CBC_SHA,
	TLS_RSA_WITH_RC4_128_MD5,
	TLS_RSA_WITH_RC4_128_SHA,
	TLS_ECDHE_RSA_WITH_RC4_128_SHA,
	TLS_ECDHE_ECDSA_WITH_RC4_128_SHA,
	TLS_DH_anon_WITH_RC4_128_MD5,
	TLS_DH_anon_WITH_AES_128_CBC_SHA,
	TLS_DH_anon_WITH_AES_256_CBC_SHA,
	TLS_ECDH_anon_WITH_RC4_128_SHA,
	TLS_RSA_WITH_3DES_EDE_CBC_SHA,
	TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA,
	TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA,
}

// sslv3Suites is the classic SSL 3.0 offer.
var sslv3Suites = []uint16{
	TLS_RSA_WITH_AES_256_CBC_SHA,
	TLS_RSA_WITH_AES_128_CBC_SHA,
	TLS_RSA_WITH_RC4_128_SHA,
	TLS_RSA_WITH_RC4_128_MD5,
	TLS_RSA_WITH_3DES_EDE_CBC_SHA,
	TLS_RSA_WITH_DES_CBC_SHA,
	TLS_RSA_EXPORT_WITH_RC4_40_MD5,
	TLS_RSA_EXPORT_WITH_RC2_CBC_40_MD5,
}

var ecdheSuites = []uint16{
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
}

// Weakest group first: a server that follows the client order will
// reveal whether it accepts small curves.
var ecGroupsWeakFirst = []uint16{
	GroupSecp192r1,
	GroupSecp224r1,
	GroupSecp256r1,
	GroupSecp384r1,
	GroupSecp521r1,
	GroupX25519,
}

var dheSuites = []uint16{
	TLS_DHE_RSA_WITH_AES_256_GCM_SHA384,
	TLS_DHE_RSA_WITH_AES_128_GCM_SHA256,
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA256,
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA256,
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA,
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA,
	TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA,
}

var tls13Suites = []uint16{
	TLS_AES_256_GCM_SHA384,
	TLS_CHACHA20_POLY1305_SHA256,
	TLS_AES_128_GCM_SHA256,
}

// Reverse returns a mirrored copy of a preference list.
func Reverse(suites []uint16) []uint16 {
	out := make([]uint16, len(suites))
	for i, s := range suites {
		out[len(suites)-1-i] = s
	}
	return out
}

// weakFirst puts the weak suites ahead of a strong list for the
// "weak not selected" tests.
func weakFirst(strong []uint16) []uint16 {
	out := []uint16{
		TLS_RSA_WITH_RC4_128_SHA,
		TLS_RSA_WITH_RC4_128_MD5,
		TLS_RSA_WITH_3DES_EDE_CBC_SHA,
		TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA,
		TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA,
		TLS_RSA_WITH_DES_CBC_SHA,
	}
	for _, s := range strong {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []uint16, v uint16) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func strongOnly(list []uint16) []uint16 {
	var out []uint16
	for _, s := range list {
		if !IsWeak(s) {
			out = append(out, s)
		}
	}
	return out
}

var (
	tls12Best = TestCriteria{
		Name:         Tls12BestCipher,
		Version:      VersionTLS12,
		CipherSuites: tls12Descending,
	}
	tls12Reverse = TestCriteria{
		Name:         Tls12BestCipherReverse,
		Version:      VersionTLS12,
		CipherSuites: Reverse(tls12Descending),
	}
	weakRejected = TestCriteria{
		Name:         WeakCipherSuitesRejected,
		Version:      VersionTLS12,
		CipherSuites: weakSuites,
		HelloOnly:    true,
	}
)

// Simplified returns the three-step chain used for lightweight assessment.
func Simplified() Catalog {
	return newCatalog(tls12Best, tls12Reverse, weakRejected)
}

// Full returns the fixed matrix used for detailed assessment.
func Full() Catalog {
	return newCatalog(
		tls12Best,
		tls12Reverse,
		TestCriteria{Name: Tls12Sha2Selected, Version: VersionTLS12, CipherSuites: sha1First},
		TestCriteria{Name: Tls12WeakNotSelected, Version: VersionTLS12, CipherSuites: weakFirst(strongOnly(tls12Descending))},
		TestCriteria{Name: Tls11BestCipher, Version: VersionTLS11, CipherSuites: legacyDescending},
		TestCriteria{Name: Tls11WeakNotSelected, Version: VersionTLS11, CipherSuites: weakFirst(strongOnly(legacyDescending))},
		TestCriteria{Name: Tls10BestCipher, Version: VersionTLS10, CipherSuites: legacyDescending},
		TestCriteria{Name: Tls10WeakNotSelected, Version: VersionTLS10, CipherSuites: weakFirst(strongOnly(legacyDescending))},
		TestCriteria{Name: Ssl3Rejected, Version: VersionSSL30, CipherSuites: sslv3Suites, HelloOnly: true},
		TestCriteria{Name: SecureEllipticCurve, Version: VersionTLS12, CipherSuites: ecdheSuites, Groups: ecGroupsWeakFirst, HelloOnly: true},
		TestCriteria{Name: SecureDiffieHellman, Version: VersionTLS12, CipherSuites: dheSuites, HelloOnly: true},
		weakRejected,
		TestCriteria{Name: Tls13BestCipher, Version: VersionTLS13, CipherSuites: tls13Suites, HelloOnly: true},
	)
}
