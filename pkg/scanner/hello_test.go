package scanner

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/scanner/scannertest"
)

func TestBuildClientHelloSSLv3(t *testing.T) {
	tc, _ := criteria.Full().Lookup(criteria.Ssl3Rejected)
	clientHello, err := buildClientHello(tc, "mx.example.org")
	require.NoError(t, err)

	// Verify minimum length (5 byte record header + handshake message)
	require.Greater(t, len(clientHello), 9)
	assert.Equal(t, byte(recordTypeHandshake), clientHello[0])
	assert.Equal(t, uint16(criteria.VersionSSL30), binary.BigEndian.Uint16(clientHello[1:3]))

	// Verify record length matches actual payload
	recordLength := binary.BigEndian.Uint16(clientHello[3:5])
	assert.Equal(t, len(clientHello)-5, int(recordLength))
	assert.Equal(t, byte(handshakeTypeClientHello), clientHello[5])

	info, err := scannertest.ParseClientHello(clientHello)
	require.NoError(t, err)
	assert.Equal(t, tc.CipherSuites, info.CipherSuites)
	assert.Empty(t, info.Extensions, "SSL 3.0 hellos carry no extensions")
}

func TestBuildClientHelloOffersExactGroups(t *testing.T) {
	tc, _ := criteria.Full().Lookup(criteria.SecureEllipticCurve)
	clientHello, err := buildClientHello(tc, "mx.example.org")
	require.NoError(t, err)

	info, err := scannertest.ParseClientHello(clientHello)
	require.NoError(t, err)
	assert.Equal(t, uint16(criteria.VersionTLS12), info.Version)
	assert.Equal(t, tc.CipherSuites, info.CipherSuites)
	assert.Equal(t, tc.Groups, info.Groups)
	assert.Equal(t, "mx.example.org", info.ServerName)
	assert.Contains(t, info.Extensions, uint16(extSignatureAlgorithms))
}

func TestBuildClientHelloSkipsSNIForAddresses(t *testing.T) {
	tc := criteria.TestCriteria{
		Name:         "rsa-only",
		Version:      criteria.VersionTLS12,
		CipherSuites: []uint16{criteria.TLS_RSA_WITH_AES_128_CBC_SHA, criteria.TLS_RSA_WITH_AES_256_CBC_SHA},
	}
	clientHello, err := buildClientHello(tc, "192.0.2.1")
	require.NoError(t, err)

	info, err := scannertest.ParseClientHello(clientHello)
	require.NoError(t, err)
	assert.Empty(t, info.ServerName)
	assert.Nil(t, info.Groups, "no ECDHE suites, no supported_groups")
}

func TestBuildClientHelloOffersDefaultGroupsForECDHE(t *testing.T) {
	tc, _ := criteria.Full().Lookup(criteria.WeakCipherSuitesRejected)
	clientHello, err := buildClientHello(tc, "mx.example.org")
	require.NoError(t, err)

	info, err := scannertest.ParseClientHello(clientHello)
	require.NoError(t, err)
	assert.Equal(t, defaultGroups, info.Groups)
	assert.Contains(t, info.Extensions, uint16(extECPointFormats))
}

func TestBuildClientHelloTLS13(t *testing.T) {
	tc, _ := criteria.Full().Lookup(criteria.Tls13BestCipher)
	clientHello, err := buildClientHello(tc, "mx.example.org")
	require.NoError(t, err)

	info, err := scannertest.ParseClientHello(clientHello)
	require.NoError(t, err)
	assert.Equal(t, uint16(criteria.VersionTLS10), info.RecordVersion)
	assert.Equal(t, uint16(criteria.VersionTLS12), info.Version, "legacy_version stays at TLS 1.2")
	assert.Equal(t, []uint16{uint16(criteria.VersionTLS13)}, info.SupportedVersions)
	assert.Equal(t, tc.CipherSuites, info.CipherSuites, "suites offered in the test's order")
	assert.Equal(t, []uint16{criteria.GroupX25519}, info.KeyShares)
	assert.Equal(t, defaultGroups, info.Groups)
	assert.NotContains(t, info.Extensions, uint16(extRenegotiationInfo))
	assert.NotContains(t, info.Extensions, uint16(extECPointFormats))
}

func TestBuildClientHelloTLS13WithoutX25519SendsEmptyShare(t *testing.T) {
	tc := criteria.TestCriteria{
		Name:         "p256-only",
		Version:      criteria.VersionTLS13,
		CipherSuites: []uint16{criteria.TLS_AES_128_GCM_SHA256},
		Groups:       []uint16{criteria.GroupSecp256r1},
	}
	clientHello, err := buildClientHello(tc, "")
	require.NoError(t, err)

	info, err := scannertest.ParseClientHello(clientHello)
	require.NoError(t, err)
	assert.Contains(t, info.Extensions, uint16(extKeyShare))
	assert.Empty(t, info.KeyShares)
}

func TestBuildClientHelloRequiresSuites(t *testing.T) {
	_, err := buildClientHello(criteria.TestCriteria{Name: "empty", Version: criteria.VersionTLS13}, "")
	assert.Error(t, err)
}

func TestFlightResult(t *testing.T) {
	ssl3, _ := criteria.Full().Lookup(criteria.Ssl3Rejected)

	tests := []struct {
		name    string
		data    []byte
		wantErr TLSError
		wantOK  bool
	}{
		{
			name:   "valid ServerHello with SSL v3",
			data:   scannertest.Flight(0x0300, scannertest.ServerHello(0x0300, 0x0035), scannertest.ServerHelloDone()),
			wantOK: true,
		},
		{
			name:    "ServerHello with TLS 1.0",
			data:    scannertest.Flight(0x0301, scannertest.ServerHello(0x0301, 0x0035), scannertest.ServerHelloDone()),
			wantErr: ErrProtocolVersion,
		},
		{
			name:    "ServerHello with unoffered suite",
			data:    scannertest.Flight(0x0300, scannertest.ServerHello(0x0300, 0xC02F), scannertest.ServerHelloDone()),
			wantErr: ErrIllegalParameter,
		},
		{
			name:    "alert response",
			data:    scannertest.Alert(0x0300, 70),
			wantErr: ErrProtocolVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parseFlight(tt.data)
			require.True(t, f.complete())
			res, err := f.result(ssl3)
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, criteria.VersionSSL30, res.version)
				assert.Equal(t, uint16(0x0035), res.suite)
				return
			}
			require.Error(t, err)
			code, _ := classify(err, &f)
			assert.Equal(t, tt.wantErr, code)
		})
	}
}

func TestFlightResultTLS13(t *testing.T) {
	chacha := criteria.TestCriteria{
		Name:         criteria.Tls13BestCipher,
		Version:      criteria.VersionTLS13,
		CipherSuites: []uint16{criteria.TLS_CHACHA20_POLY1305_SHA256},
	}

	f := parseFlight(scannertest.Flight(0x0303, scannertest.ServerHello(0x0304, criteria.TLS_CHACHA20_POLY1305_SHA256)))
	require.True(t, f.complete(), "nothing after a TLS 1.3 ServerHello is readable")
	res, err := f.result(chacha)
	require.NoError(t, err)
	assert.Equal(t, criteria.VersionTLS13, res.version)
	assert.Equal(t, criteria.TLS_CHACHA20_POLY1305_SHA256, res.suite)
	assert.Empty(t, res.chain)

	f = parseFlight(scannertest.Flight(0x0303, scannertest.ServerHello(0x0304, criteria.TLS_AES_128_GCM_SHA256)))
	_, err = f.result(chacha)
	require.Error(t, err)
	code, _ := classify(err, &f)
	assert.Equal(t, ErrIllegalParameter, code)
}
