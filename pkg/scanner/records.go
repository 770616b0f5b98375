package scanner

import (
	"math/big"
	"net"
	"sync"

	"golang.org/x/crypto/cryptobyte"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
)

const (
	recordTypeChangeCipherSpec = 20
	recordTypeAlert            = 21
	recordTypeHandshake        = 22
	recordTypeApplicationData  = 23

	handshakeTypeClientHello       = 1
	handshakeTypeServerHello       = 2
	handshakeTypeCertificate       = 11
	handshakeTypeServerKeyExchange = 12
	handshakeTypeServerHelloDone   = 14

	extServerName          = 0
	extSupportedGroups     = 10
	extECPointFormats      = 11
	extSignatureAlgorithms = 13
	extSupportedVersions   = 43
	extKeyShare            = 51
	extRenegotiationInfo   = 0xff01

	curveTypeNamedCurve = 3

	// tapLimit caps how much of the server flight is kept.
	tapLimit = 64 << 10
)

type alert struct {
	level       uint8
	description uint8
}

type serverHello struct {
	version     uint16 // supported_versions wins over legacy_version
	cipherSuite uint16
	keyShare    uint16 // TLS 1.3 key_share group
}

// flight is what could be decoded from the plaintext part of the
// server's first flight.
type flight struct {
	hello        *serverHello
	certificates [][]byte
	curveID      uint16
	dhBits       int
	alert        *alert
	helloDone    bool
	// encrypted is set once CCS or application data was seen; nothing
	// after that point is readable.
	encrypted bool
	malformed bool
}

// complete reports whether enough of the flight arrived to judge it.
// Everything after a TLS 1.3 ServerHello is encrypted.
func (f *flight) complete() bool {
	if f.hello != nil && criteria.Version(f.hello.version) >= criteria.VersionTLS13 {
		return true
	}
	return f.alert != nil || f.helloDone || f.encrypted || f.malformed
}

// parseFlight decodes TLS records as received from the server. It is
// tolerant of a truncated tail: an incomplete record is simply ignored.
func parseFlight(data []byte) flight {
	var f flight
	var hs []byte

	s := cryptobyte.String(data)
	for !s.Empty() && !f.encrypted {
		var typ uint8
		var body cryptobyte.String
		if !s.ReadUint8(&typ) {
			break
		}
		if typ < recordTypeChangeCipherSpec || typ > recordTypeApplicationData {
			// SSLv2 replies and plain text both land here.
			f.malformed = true
			return f
		}
		if !s.Skip(2) || !s.ReadUint16LengthPrefixed(&body) {
			break
		}
		switch typ {
		case recordTypeHandshake:
			hs = append(hs, body...)
		case recordTypeAlert:
			var a alert
			if body.ReadUint8(&a.level) && body.ReadUint8(&a.description) && f.alert == nil {
				f.alert = &a
			}
		case recordTypeChangeCipherSpec, recordTypeApplicationData:
			f.encrypted = true
		}
	}

	f.parseHandshakes(hs)
	return f
}

func (f *flight) parseHandshakes(data []byte) {
	s := cryptobyte.String(data)
	for !s.Empty() {
		var typ uint8
		var msg cryptobyte.String
		if !s.ReadUint8(&typ) || !s.ReadUint24LengthPrefixed(&msg) {
			return
		}
		switch typ {
		case handshakeTypeServerHello:
			hello, ok := parseServerHello(msg)
			if !ok {
				f.malformed = true
				return
			}
			f.hello = hello
		case handshakeTypeCertificate:
			f.certificates = parseCertificates(msg)
		case handshakeTypeServerKeyExchange:
			f.parseServerKeyExchange(msg)
		case handshakeTypeServerHelloDone:
			f.helloDone = true
		}
	}
}

func parseServerHello(s cryptobyte.String) (*serverHello, bool) {
	var h serverHello
	var sessionID cryptobyte.String
	var compression uint8
	if !s.ReadUint16(&h.version) ||
		!s.Skip(32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16(&h.cipherSuite) ||
		!s.ReadUint8(&compression) {
		return nil, false
	}
	if s.Empty() {
		return &h, true
	}

	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) {
		return nil, false
	}
	for !exts.Empty() {
		var typ uint16
		var ext cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&ext) {
			return nil, false
		}
		switch typ {
		case extSupportedVersions:
			var v uint16
			if ext.ReadUint16(&v) {
				h.version = v
			}
		case extKeyShare:
			var group uint16
			if ext.ReadUint16(&group) {
				h.keyShare = group
			}
		}
	}
	return &h, true
}

func parseCertificates(s cryptobyte.String) [][]byte {
	var list cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&list) {
		return nil
	}
	var certs [][]byte
	for !list.Empty() {
		var der cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&der) {
			return certs
		}
		certs = append(certs, append([]byte(nil), der...))
	}
	return certs
}

// parseServerKeyExchange extracts the ephemeral group. The message
// layout depends on the negotiated suite, so ServerHello must come first.
func (f *flight) parseServerKeyExchange(s cryptobyte.String) {
	if f.hello == nil {
		return
	}
	switch {
	case criteria.IsECDHE(f.hello.cipherSuite):
		var curveType uint8
		var curve uint16
		if s.ReadUint8(&curveType) && curveType == curveTypeNamedCurve && s.ReadUint16(&curve) {
			f.curveID = curve
		}
	case criteria.IsDHE(f.hello.cipherSuite):
		var p cryptobyte.String
		if s.ReadUint16LengthPrefixed(&p) {
			f.dhBits = new(big.Int).SetBytes(p).BitLen()
		}
	}
}

// tap records the bytes read from the server so the flight can be
// decoded no matter which engine drove the handshake.
type tap struct {
	net.Conn
	mu  sync.Mutex
	buf []byte
}

func newTap(c net.Conn) *tap {
	return &tap{Conn: c}
}

func (t *tap) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 {
		t.mu.Lock()
		if room := tapLimit - len(t.buf); room > 0 {
			if n < room {
				room = n
			}
			t.buf = append(t.buf, p[:room]...)
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *tap) flight() flight {
	t.mu.Lock()
	data := append([]byte(nil), t.buf...)
	t.mu.Unlock()
	return parseFlight(data)
}
