package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/scanner/scannertest"
)

func TestParseFlightECDHE(t *testing.T) {
	cert := []byte{0x30, 0x03, 0x02, 0x01, 0x01}
	data := scannertest.Flight(0x0303,
		scannertest.ServerHello(0x0303, criteria.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256),
		scannertest.Certificate(cert, cert),
		scannertest.ECDHEKeyExchange(criteria.GroupSecp384r1),
		scannertest.ServerHelloDone(),
	)

	f := parseFlight(data)
	require.NotNil(t, f.hello)
	assert.True(t, f.helloDone)
	assert.Equal(t, uint16(0x0303), f.hello.version)
	assert.Equal(t, criteria.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, f.hello.cipherSuite)
	assert.Len(t, f.certificates, 2)
	assert.Equal(t, criteria.GroupSecp384r1, f.curveID)
	assert.Zero(t, f.dhBits)
}

func TestParseFlightDHE(t *testing.T) {
	data := scannertest.Flight(0x0303,
		scannertest.ServerHello(0x0303, criteria.TLS_DHE_RSA_WITH_AES_128_GCM_SHA256),
		scannertest.DHEKeyExchange(1024),
		scannertest.ServerHelloDone(),
	)

	f := parseFlight(data)
	assert.Equal(t, 1024, f.dhBits)
	assert.Zero(t, f.curveID)
}

func TestParseFlightAcrossRecords(t *testing.T) {
	msgs := append(scannertest.ServerHello(0x0303, 0x002F), scannertest.ServerHelloDone()...)
	split := len(msgs) / 2
	data := append(scannertest.Record(22, 0x0303, msgs[:split]), scannertest.Record(22, 0x0303, msgs[split:])...)

	f := parseFlight(data)
	require.NotNil(t, f.hello)
	assert.True(t, f.helloDone)
}

func TestParseFlightSupportedVersions(t *testing.T) {
	data := scannertest.Flight(0x0303, scannertest.ServerHello(0x0304, criteria.TLS_AES_128_GCM_SHA256))
	data = append(data, scannertest.Record(20, 0x0303, []byte{1})...)

	f := parseFlight(data)
	require.NotNil(t, f.hello)
	assert.Equal(t, uint16(0x0304), f.hello.version)
	assert.True(t, f.encrypted)
	assert.True(t, f.complete())
}

func TestParseFlightTruncated(t *testing.T) {
	data := scannertest.Flight(0x0303, scannertest.ServerHello(0x0303, 0x002F), scannertest.ServerHelloDone())

	f := parseFlight(data[:10])
	assert.Nil(t, f.hello)
	assert.False(t, f.complete())
}

func TestParseFlightAlert(t *testing.T) {
	f := parseFlight(scannertest.Alert(0x0303, 40))
	require.NotNil(t, f.alert)
	assert.Equal(t, uint8(40), f.alert.description)
	assert.True(t, f.complete())
}

func TestParseFlightNotTLS(t *testing.T) {
	f := parseFlight([]byte("554 go away\r\n"))
	assert.True(t, f.malformed)
}
