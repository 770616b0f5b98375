package criteria

import (
	"crypto/tls"
	"strings"
)

// IANA cipher suite identifiers used by the catalogs.
const (
	TLS_RSA_WITH_NULL_MD5                   uint16 = 0x0001
	TLS_RSA_WITH_NULL_SHA                   uint16 = 0x0002
	TLS_RSA_EXPORT_WITH_RC4_40_MD5          uint16 = 0x0003
	TLS_RSA_WITH_RC4_128_MD5                uint16 = 0x0004
	TLS_RSA_WITH_RC4_128_SHA                uint16 = 0x0005
	TLS_RSA_EXPORT_WITH_RC2_CBC_40_MD5      uint16 = 0x0006
	TLS_RSA_EXPORT_WITH_DES40_CBC_SHA       uint16 = 0x0008
	TLS_RSA_WITH_DES_CBC_SHA                uint16 = 0x0009
	TLS_RSA_WITH_3DES_EDE_CBC_SHA           uint16 = 0x000A
	TLS_DHE_RSA_EXPORT_WITH_DES40_CBC_SHA   uint16 = 0x0014
	TLS_DHE_RSA_WITH_DES_CBC_SHA            uint16 = 0x0015
	TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA       uint16 = 0x0016
	TLS_DH_anon_WITH_RC4_128_MD5            uint16 = 0x0018
	TLS_RSA_WITH_AES_128_CBC_SHA            uint16 = 0x002F
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA        uint16 = 0x0033
	TLS_DH_anon_WITH_AES_128_CBC_SHA        uint16 = 0x0034
	TLS_RSA_WITH_AES_256_CBC_SHA            uint16 = 0x0035
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA        uint16 = 0x0039
	TLS_DH_anon_WITH_AES_256_CBC_SHA        uint16 = 0x003A
	TLS_RSA_WITH_NULL_SHA256                uint16 = 0x003B
	TLS_RSA_WITH_AES_128_CBC_SHA256         uint16 = 0x003C
	TLS_RSA_WITH_AES_256_CBC_SHA256         uint16 = 0x003D
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA256     uint16 = 0x0067
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA256     uint16 = 0x006B
	TLS_RSA_WITH_AES_128_GCM_SHA256         uint16 = 0x009C
	TLS_RSA_WITH_AES_256_GCM_SHA384         uint16 = 0x009D
	TLS_DHE_RSA_WITH_AES_128_GCM_SHA256     uint16 = 0x009E
	TLS_DHE_RSA_WITH_AES_256_GCM_SHA384     uint16 = 0x009F
	TLS_AES_128_GCM_SHA256                  uint16 = 0x1301
	TLS_AES_256_GCM_SHA384                  uint16 = 0x1302
	TLS_CHACHA20_POLY1305_SHA256            uint16 = 0x1303
	TLS_ECDHE_ECDSA_WITH_RC4_128_SHA        uint16 = 0xC007
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA    uint16 = 0xC009
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA    uint16 = 0xC00A
	TLS_ECDHE_RSA_WITH_RC4_128_SHA          uint16 = 0xC011
	TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA     uint16 = 0xC012
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA      uint16 = 0xC013
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA      uint16 = 0xC014
	TLS_ECDH_anon_WITH_RC4_128_SHA          uint16 = 0xC016
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256 uint16 = 0xC023
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA384 uint16 = 0xC024
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256   uint16 = 0xC027
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA384   uint16 = 0xC028
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 uint16 = 0xC02B
	TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384 uint16 = 0xC02C
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256   uint16 = 0xC02F
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384   uint16 = 0xC030
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305    uint16 = 0xCCA8
	TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305  uint16 = 0xCCA9
	TLS_DHE_RSA_WITH_CHACHA20_POLY1305      uint16 = 0xCCAA
)

var cipherNames = map[uint16]string{
	TLS_RSA_WITH_NULL_MD5:                   "TLS_RSA_WITH_NULL_MD5",
	TLS_RSA_WITH_NULL_SHA:                   "TLS_RSA_WITH_NULL_SHA",
	TLS_RSA_EXPORT_WITH_RC4_40_MD5:          "TLS_RSA_EXPORT_WITH_RC4_40_MD5",
	TLS_RSA_WITH_RC4_128_MD5:                "TLS_RSA_WITH_RC4_128_MD5",
	TLS_RSA_WITH_RC4_128_SHA:                "TLS_RSA_WITH_RC4_128_SHA",
	TLS_RSA_EXPORT_WITH_RC2_CBC_40_MD5:      "TLS_RSA_EXPORT_WITH_RC2_CBC_40_MD5",
	TLS_RSA_EXPORT_WITH_DES40_CBC_SHA:       "TLS_RSA_EXPORT_WITH_DES40_CBC_SHA",
	TLS_RSA_WITH_DES_CBC_SHA:                "TLS_RSA_WITH_DES_CBC_SHA",
	TLS_RSA_WITH_3DES_EDE_CBC_SHA:           "TLS_RSA_WITH_3DES_EDE_CBC_SHA",
	TLS_DHE_RSA_EXPORT_WITH_DES40_CBC_SHA:   "TLS_DHE_RSA_EXPORT_WITH_DES40_CBC_SHA",
	TLS_DHE_RSA_WITH_DES_CBC_SHA:            "TLS_DHE_RSA_WITH_DES_CBC_SHA",
	TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA:       "TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA",
	TLS_DH_anon_WITH_RC4_128_MD5:            "TLS_DH_anon_WITH_RC4_128_MD5",
	TLS_RSA_WITH_AES_128_CBC_SHA:            "TLS_RSA_WITH_AES_128_CBC_SHA",
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA:        "TLS_DHE_RSA_WITH_AES_128_CBC_SHA",
	TLS_DH_anon_WITH_AES_128_CBC_SHA:        "TLS_DH_anon_WITH_AES_128_CBC_SHA",
	TLS_RSA_WITH_AES_256_CBC_SHA:            "TLS_RSA_WITH_AES_256_CBC_SHA",
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA:        "TLS_DHE_RSA_WITH_AES_256_CBC_SHA",
	TLS_DH_anon_WITH_AES_256_CBC_SHA:        "TLS_DH_anon_WITH_AES_256_CBC_SHA",
	TLS_RSA_WITH_NULL_SHA256:                "TLS_RSA_WITH_NULL_SHA256",
	TLS_RSA_WITH_AES_128_CBC_SHA256:         "TLS_RSA_WITH_AES_128_CBC_SHA256",
	TLS_RSA_WITH_AES_256_CBC_SHA256:         "TLS_RSA_WITH_AES_256_CBC_SHA256",
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA256:     "TLS_DHE_RSA_WITH_AES_128_CBC_SHA256",
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA256:     "TLS_DHE_RSA_WITH_AES_256_CBC_SHA256",
	TLS_RSA_WITH_AES_128_GCM_SHA256:         "TLS_RSA_WITH_AES_128_GCM_SHA256",
	TLS_RSA_WITH_AES_256_GCM_SHA384:         "TLS_RSA_WITH_AES_256_GCM_SHA384",
	TLS_DHE_RSA_WITH_AES_128_GCM_SHA256:     "TLS_DHE_RSA_WITH_AES_128_GCM_SHA256",
	TLS_DHE_RSA_WITH_AES_256_GCM_SHA384:     "TLS_DHE_RSA_WITH_AES_256_GCM_SHA384",
	TLS_AES_128_GCM_SHA256:                  "TLS_AES_128_GCM_SHA256",
	TLS_AES_256_GCM_SHA384:                  "TLS_AES_256_GCM_SHA384",
	TLS_CHACHA20_POLY1305_SHA256:            "TLS_CHACHA20_POLY1305_SHA256",
	TLS_ECDHE_ECDSA_WITH_RC4_128_SHA:        "TLS_ECDHE_ECDSA_WITH_RC4_128_SHA",
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA:    "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA",
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA:    "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA",
	TLS_ECDHE_RSA_WITH_RC4_128_SHA:          "TLS_ECDHE_RSA_WITH_RC4_128_SHA",
	TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA:     "TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA",
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA:      "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA",
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA:      "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA",
	TLS_ECDH_anon_WITH_RC4_128_SHA:          "TLS_ECDH_anon_WITH_RC4_128_SHA",
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256: "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256",
	TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA384: "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA384",
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256:   "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256",
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA384:   "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA384",
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256: "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384: "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:   "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:   "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305:    "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
	TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305:  "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	TLS_DHE_RSA_WITH_CHACHA20_POLY1305:      "TLS_DHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
}

// CipherSuiteName returns the IANA name of a cipher suite, falling back to
// the standard library table and finally to the hex identifier.
func CipherSuiteName(id uint16) string {
	if name, ok := cipherNames[id]; ok {
		return name
	}
	return tls.CipherSuiteName(id)
}

// CipherSuiteID looks up a cipher suite by IANA name.
func CipherSuiteID(name string) (uint16, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for id, n := range cipherNames {
		if n == name {
			return id, true
		}
	}
	for _, s := range tls.CipherSuites() {
		if s.Name == name {
			return s.ID, true
		}
	}
	for _, s := range tls.InsecureCipherSuites() {
		if s.Name == name {
			return s.ID, true
		}
	}
	return 0, false
}

// IsECDHE reports whether the suite uses an ephemeral elliptic-curve key exchange.
func IsECDHE(id uint16) bool {
	return strings.HasPrefix(CipherSuiteName(id), "TLS_ECDHE_")
}

// IsDHE reports whether the suite uses an ephemeral finite-field key exchange.
func IsDHE(id uint16) bool {
	return strings.HasPrefix(CipherSuiteName(id), "TLS_DHE_")
}

// Named groups (RFC 8422 / RFC 8446).
const (
	GroupSecp192r1 uint16 = 19
	GroupSecp224r1 uint16 = 21
	GroupSecp256r1 uint16 = 23
	GroupSecp384r1 uint16 = 24
	GroupSecp521r1 uint16 = 25
	GroupX25519    uint16 = 29
	GroupX448      uint16 = 30
)

type groupInfo struct {
	name string
	bits int
}

var groups = map[uint16]groupInfo{
	GroupSecp192r1: {"secp192r1", 192},
	GroupSecp224r1: {"secp224r1", 224},
	GroupSecp256r1: {"secp256r1", 256},
	GroupSecp384r1: {"secp384r1", 384},
	GroupSecp521r1: {"secp521r1", 521},
	GroupX25519:    {"x25519", 256},
	GroupX448:      {"x448", 448},
}

// GroupName returns the name of a named group.
func GroupName(id uint16) string {
	if g, ok := groups[id]; ok {
		return g.name
	}
	return "unknown"
}

// GroupBits returns the nominal security size of a named group, or 0 when unknown.
func GroupBits(id uint16) int {
	return groups[id].bits
}

// Strength is a coarse grade for a cipher suite derived from its name.
type Strength string

const (
	StrengthNull       Strength = "NULL_CIPHER"
	StrengthExport     Strength = "EXPORT"
	StrengthAnonymous  Strength = "ANONYMOUS"
	StrengthBroken     Strength = "BROKEN"
	StrengthWeak       Strength = "WEAK"
	StrengthMedium     Strength = "MEDIUM"
	StrengthStrong     Strength = "STRONG"
	StrengthVeryStrong Strength = "VERY_STRONG"
)

// CipherStrength grades a suite by the algorithms named in it.
func CipherStrength(id uint16) Strength {
	name := CipherSuiteName(id)
	switch {
	case strings.Contains(name, "NULL"):
		return StrengthNull
	case strings.Contains(name, "EXPORT") || strings.Contains(name, "_40_") || strings.Contains(name, "DES40"):
		return StrengthExport
	case strings.Contains(name, "_anon_"):
		return StrengthAnonymous
	case strings.Contains(name, "RC4") || strings.Contains(name, "RC2") || strings.Contains(name, "IDEA") || strings.HasSuffix(name, "_MD5"):
		return StrengthBroken
	case strings.Contains(name, "DES_CBC") && !strings.Contains(name, "3DES"):
		return StrengthWeak
	case strings.Contains(name, "3DES"):
		// 64-bit block, Sweet32
		return StrengthWeak
	case strings.Contains(name, "AES_128_GCM") || strings.Contains(name, "CHACHA20"):
		return StrengthStrong
	case strings.Contains(name, "AES_256_GCM"):
		return StrengthVeryStrong
	default:
		return StrengthMedium
	}
}

// IsWeak reports whether a suite must never be negotiated.
func IsWeak(id uint16) bool {
	switch CipherStrength(id) {
	case StrengthNull, StrengthExport, StrengthAnonymous, StrengthBroken, StrengthWeak:
		return true
	}
	return false
}

// HasForwardSecrecy reports whether the suite uses an ephemeral key exchange.
func HasForwardSecrecy(id uint16) bool {
	name := CipherSuiteName(id)
	if id&0xff00 == 0x1300 {
		return true
	}
	return strings.Contains(name, "ECDHE") || strings.Contains(name, "DHE")
}

// IsAEAD reports whether the suite uses an authenticated cipher mode.
func IsAEAD(id uint16) bool {
	name := CipherSuiteName(id)
	return strings.Contains(name, "GCM") || strings.Contains(name, "POLY1305") || strings.Contains(name, "CCM")
}

// UsesSHA1 reports whether the suite authenticates records with HMAC-SHA1.
func UsesSHA1(id uint16) bool {
	return strings.HasSuffix(CipherSuiteName(id), "_SHA")
}
