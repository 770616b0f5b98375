package scanner

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/curve25519"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
)

var errNoServerHello = errors.New("server flight ended without ServerHello")

// defaultGroups is offered when an ECDHE suite is listed and the test
// does not constrain the groups.
var defaultGroups = []uint16{criteria.GroupX25519, criteria.GroupSecp256r1, criteria.GroupSecp384r1}

var signatureAlgorithms = []uint16{
	0x0403, 0x0503, 0x0603, // ecdsa_secp*_sha*
	0x0804, 0x0805, 0x0806, // rsa_pss_rsae_sha*
	0x0401, 0x0501, 0x0601, // rsa_pkcs1_sha*
	0x0201, 0x0203, // sha1
}

// buildClientHello constructs a ClientHello record offering exactly the
// version, suites and groups of the test. SSL 3.0 hellos carry no
// extensions. TLS 1.3 is offered through supported_versions with an
// x25519 key share, the legacy fields staying at TLS 1.2.
func buildClientHello(tc criteria.TestCriteria, serverName string) ([]byte, error) {
	if len(tc.CipherSuites) == 0 {
		return nil, errors.New("no cipher suites to offer")
	}

	random := make([]byte, 32)
	binary.BigEndian.PutUint32(random[0:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(random[4:]); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	recordVersion, legacyVersion := uint16(tc.Version), uint16(tc.Version)
	var keyShare []byte
	if tc.Version >= criteria.VersionTLS13 {
		recordVersion, legacyVersion = uint16(criteria.VersionTLS10), uint16(criteria.VersionTLS12)
		var err error
		if keyShare, err = x25519Share(); err != nil {
			return nil, err
		}
	}

	var b cryptobyte.Builder
	b.AddUint8(recordTypeHandshake)
	b.AddUint16(recordVersion)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(handshakeTypeClientHello)
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(legacyVersion)
			b.AddBytes(random)
			b.AddUint8(0) // no session resumption
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, s := range tc.CipherSuites {
					b.AddUint16(s)
				}
			})
			b.AddUint8(1) // compression methods: null only
			b.AddUint8(0)
			if tc.Version > criteria.VersionSSL30 {
				addExtensions(b, tc, serverName, keyShare)
			}
		})
	})
	return b.Bytes()
}

// x25519Share is a fresh x25519 public key. The private half is dropped:
// the probe stops at ServerHello.
func x25519Share() ([]byte, error) {
	scalar := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(scalar); err != nil {
		return nil, fmt.Errorf("failed to generate key share: %w", err)
	}
	return curve25519.X25519(scalar, curve25519.Basepoint)
}

func addExtensions(b *cryptobyte.Builder, tc criteria.TestCriteria, serverName string, keyShare []byte) {
	tls13 := tc.Version >= criteria.VersionTLS13
	groups := tc.Groups
	if groups == nil && (tls13 || offersECDHE(tc.CipherSuites)) {
		groups = defaultGroups
	}

	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		if serverName != "" && net.ParseIP(serverName) == nil {
			b.AddUint16(extServerName)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint8(0) // host_name
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddBytes([]byte(serverName))
					})
				})
			})
		}
		if len(groups) > 0 {
			b.AddUint16(extSupportedGroups)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, g := range groups {
						b.AddUint16(g)
					}
				})
			})
			if !tls13 {
				b.AddUint16(extECPointFormats)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(0) // uncompressed
					})
				})
			}
		}
		if tc.Version >= criteria.VersionTLS12 {
			b.AddUint16(extSignatureAlgorithms)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, alg := range signatureAlgorithms {
						b.AddUint16(alg)
					}
				})
			})
		}
		if tls13 {
			b.AddUint16(extSupportedVersions)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16(uint16(tc.Version))
				})
			})
			// Without an x25519 share among the groups the server answers
			// with a HelloRetryRequest, which still names its suite.
			b.AddUint16(extKeyShare)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					if containsGroup(groups, criteria.GroupX25519) {
						b.AddUint16(criteria.GroupX25519)
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes(keyShare)
						})
					}
				})
			})
			return
		}
		b.AddUint16(extRenegotiationInfo)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8(0)
		})
	})
}

func containsGroup(groups []uint16, g uint16) bool {
	for _, x := range groups {
		if x == g {
			return true
		}
	}
	return false
}

func offersECDHE(suites []uint16) bool {
	for _, s := range suites {
		if criteria.IsECDHE(s) {
			return true
		}
	}
	return false
}

// helloProbe judges a test on the server's first flight. It never
// completes the handshake, so it works for suites and versions no TLS
// library will negotiate, and it is the only way to offer an exact TLS
// 1.3 suite list.
type helloProbe struct{}

func (helloProbe) handshake(ctx context.Context, conn net.Conn, tc criteria.TestCriteria, serverName string) (handshakeResult, error) {
	hello, err := buildClientHello(tc, serverName)
	if err != nil {
		return handshakeResult{}, err
	}
	if _, err := conn.Write(hello); err != nil {
		return handshakeResult{}, fmt.Errorf("failed to send ClientHello: %w", err)
	}

	// The tap wrapping conn accumulates the bytes; the local buffer only
	// tells us when to stop reading.
	var data []byte
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return handshakeResult{}, err
		}
		n, err := conn.Read(buf)
		data = append(data, buf[:n]...)
		f := parseFlight(data)
		if f.complete() {
			return f.result(tc)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && f.hello != nil {
				return f.result(tc)
			}
			return handshakeResult{}, err
		}
		if len(data) > tapLimit {
			return handshakeResult{}, errors.New("server flight too large")
		}
	}
}

// result turns a decoded flight into the probe's verdict. Alerts are
// left to the classifier, which reads them from the tap.
func (f flight) result(tc criteria.TestCriteria) (handshakeResult, error) {
	if f.alert != nil {
		return handshakeResult{}, fmt.Errorf("remote alert %d", f.alert.description)
	}
	if f.malformed {
		return handshakeResult{}, errors.New("server answered with a non-TLS record")
	}
	if f.hello == nil {
		return handshakeResult{}, errNoServerHello
	}
	if criteria.Version(f.hello.version) != tc.Version {
		return handshakeResult{}, &mismatchError{
			err:    ErrProtocolVersion,
			detail: fmt.Sprintf("server selected %s", criteria.Version(f.hello.version)),
		}
	}
	if !tc.Offers(f.hello.cipherSuite) {
		return handshakeResult{}, &mismatchError{
			err:    ErrIllegalParameter,
			detail: fmt.Sprintf("server selected unoffered suite %s", criteria.CipherSuiteName(f.hello.cipherSuite)),
		}
	}
	return handshakeResult{
		version: criteria.Version(f.hello.version),
		suite:   f.hello.cipherSuite,
		chain:   f.certificates,
	}, nil
}

// mismatchError is raised when the server picks parameters the client
// never offered; a real client aborts with the matching alert.
type mismatchError struct {
	err    TLSError
	detail string
}

func (e *mismatchError) Error() string {
	return e.detail
}
