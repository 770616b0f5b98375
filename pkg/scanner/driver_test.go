package scanner

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/metrics"
	"github.com/jphoke/mailtls-assessor/pkg/scanner/scannertest"
)

func startServer(t *testing.T, b scannertest.Behavior) *scannertest.Server {
	t.Helper()
	srv, err := scannertest.Start(b)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func testDriver(port int) *Driver {
	return NewDriver(Config{Port: port, ConnectTimeout: 2 * time.Second, IOTimeout: 5 * time.Second},
		WithMetrics(metrics.New(prometheus.NewRegistry())))
}

func lookup(t *testing.T, name criteria.Name) criteria.TestCriteria {
	t.Helper()
	tc, ok := criteria.Full().Lookup(name)
	require.True(t, ok)
	return tc
}

func TestRunTLS12Handshake(t *testing.T) {
	cert, err := scannertest.SelfSigned("mx.example.org")
	require.NoError(t, err)
	srv := startServer(t, scannertest.Behavior{TLSConfig: &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	}})

	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", lookup(t, criteria.Tls12BestCipher))
	require.True(t, out.Valid(), out.String())
	require.True(t, out.Succeeded(), out.String())
	assert.Equal(t, criteria.VersionTLS12, out.Version)
	assert.True(t, criteria.IsECDHE(out.CipherSuite), out.CipherSuiteName())
	require.Len(t, out.Chain, 1)
	assert.Equal(t, cert.Certificate[0], out.Chain[0])
	assert.NotZero(t, out.CurveID, "curve comes from the tapped ServerKeyExchange")
}

func TestRunTLS13Handshake(t *testing.T) {
	cert, err := scannertest.SelfSigned("mx.example.org")
	require.NoError(t, err)
	srv := startServer(t, scannertest.Behavior{TLSConfig: &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}})

	tc := lookup(t, criteria.Tls13BestCipher)
	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", tc)
	require.True(t, out.Succeeded(), out.String())
	assert.Equal(t, criteria.VersionTLS13, out.Version)
	assert.True(t, tc.Offers(out.CipherSuite), out.CipherSuiteName())
	assert.Equal(t, criteria.GroupX25519, out.CurveID)
	assert.Empty(t, out.Chain, "the TLS 1.3 certificate is encrypted")
}

func TestRunTLS13OffersOnlyTheTestSuites(t *testing.T) {
	cert, err := scannertest.SelfSigned("mx.example.org")
	require.NoError(t, err)
	srv := startServer(t, scannertest.Behavior{TLSConfig: &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}})

	tc := criteria.TestCriteria{
		Name:         criteria.Tls13BestCipher,
		Version:      criteria.VersionTLS13,
		CipherSuites: []uint16{criteria.TLS_CHACHA20_POLY1305_SHA256},
	}
	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", tc)
	require.True(t, out.Succeeded(), out.String())
	assert.Equal(t, criteria.TLS_CHACHA20_POLY1305_SHA256, out.CipherSuite)
}

func TestRunTLS13RejectsUnofferedSuite(t *testing.T) {
	srv := startServer(t, scannertest.Behavior{Reply: func([]byte) []byte {
		return scannertest.Flight(0x0303, scannertest.ServerHello(0x0304, criteria.TLS_AES_128_GCM_SHA256))
	}})

	tc := criteria.TestCriteria{
		Name:         criteria.Tls13BestCipher,
		Version:      criteria.VersionTLS13,
		CipherSuites: []uint16{criteria.TLS_CHACHA20_POLY1305_SHA256},
	}
	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", tc)
	require.True(t, out.Valid())
	assert.Equal(t, ErrIllegalParameter, out.Error, out.String())

	info, err := scannertest.ParseClientHello(srv.LastClientHello())
	require.NoError(t, err)
	assert.Equal(t, tc.CipherSuites, info.CipherSuites)
}

func TestRunTLS13AgainstTLS12OnlyServer(t *testing.T) {
	cert, err := scannertest.SelfSigned("mx.example.org")
	require.NoError(t, err)
	srv := startServer(t, scannertest.Behavior{TLSConfig: &tls.Config{
		Certificates: []tls.Certificate{cert},
		MaxVersion:   tls.VersionTLS12,
	}})

	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", lookup(t, criteria.Tls13BestCipher))
	require.True(t, out.Valid())
	assert.Equal(t, ErrProtocolVersion, out.Error, out.String())
}

func TestRunHelloProbeAlert(t *testing.T) {
	srv := startServer(t, scannertest.Behavior{Reply: func([]byte) []byte {
		return scannertest.Alert(0x0303, 40)
	}})

	tc := lookup(t, criteria.WeakCipherSuitesRejected)
	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", tc)
	require.True(t, out.Valid())
	assert.Equal(t, ErrHandshakeFailure, out.Error)

	info, err := scannertest.ParseClientHello(srv.LastClientHello())
	require.NoError(t, err)
	assert.Equal(t, tc.CipherSuites, info.CipherSuites, "probe offers exactly the test's suites")
}

func TestRunHelloProbeCurve(t *testing.T) {
	srv := startServer(t, scannertest.Behavior{Reply: func([]byte) []byte {
		return scannertest.Flight(0x0303,
			scannertest.ServerHello(0x0303, criteria.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256),
			scannertest.ECDHEKeyExchange(criteria.GroupSecp192r1),
			scannertest.ServerHelloDone(),
		)
	}})

	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", lookup(t, criteria.SecureEllipticCurve))
	require.True(t, out.Succeeded(), out.String())
	assert.Equal(t, criteria.GroupSecp192r1, out.CurveID)
}

func TestRunSSL3ProtocolVersionAlert(t *testing.T) {
	srv := startServer(t, scannertest.Behavior{Reply: func([]byte) []byte {
		return scannertest.Alert(0x0300, 70)
	}})

	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", lookup(t, criteria.Ssl3Rejected))
	assert.Equal(t, ErrProtocolVersion, out.Error)
}

func TestRunServerClosesAfterHello(t *testing.T) {
	srv := startServer(t, scannertest.Behavior{Reply: func([]byte) []byte { return nil }})

	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", lookup(t, criteria.Ssl3Rejected))
	assert.Equal(t, ErrTCPConnectionFailed, out.Error)
}

func TestRunStartTLSNotAdvertised(t *testing.T) {
	srv := startServer(t, scannertest.Behavior{HideStartTLS: true})

	out := testDriver(srv.Port()).Run(context.Background(), "127.0.0.1", lookup(t, criteria.Tls12BestCipher))
	require.True(t, out.Valid())
	assert.Equal(t, ErrSessionInitializationFail, out.Error)
	require.NotNil(t, out.SessionInit)
	assert.Equal(t, StageNotAdvertised, out.SessionInit.Stage)
}

func TestRunConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	out := testDriver(port).Run(context.Background(), "127.0.0.1", lookup(t, criteria.Tls12BestCipher))
	assert.Equal(t, ErrTCPConnectionFailed, out.Error)
}

type notFoundResolver struct{}

func (notFoundResolver) Lookup(context.Context, string) ([]net.IP, error) {
	return nil, &net.DNSError{Err: "no such host", Name: "mx.invalid", IsNotFound: true}
}

func TestRunHostNotFound(t *testing.T) {
	d := NewDriver(Config{}, WithResolver(notFoundResolver{}))
	out := d.Run(context.Background(), "mx.invalid", lookup(t, criteria.Tls12BestCipher))
	assert.Equal(t, ErrHostNotFound, out.Error)
}

type panickingNegotiator struct{}

func (panickingNegotiator) Negotiate(net.Conn, *bufio.Reader) *SessionInit {
	panic("boom")
}

func TestConnectRecoversPanics(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	d := NewDriver(Config{})
	d.smtp = panickingNegotiator{}
	out := d.Connect(context.Background(), client, lookup(t, criteria.Tls12BestCipher))
	assert.Equal(t, ErrInternal, out.Error)
	assert.Contains(t, out.Description, "boom")
	assert.True(t, out.Valid())
}

// Every test in the catalog yields a valid outcome even when the
// server answers garbage.
func TestConnectNeverBreaksInvariant(t *testing.T) {
	srv := startServer(t, scannertest.Behavior{
		Reply: func([]byte) []byte { return []byte("421 closing\r\n") },
	})
	d := testDriver(srv.Port())
	for _, tc := range criteria.Full().Tests() {
		out := d.Run(context.Background(), "127.0.0.1", tc)
		assert.True(t, out.Valid(), out.String())
		assert.False(t, out.Succeeded(), out.String())
	}
}

func TestEngineForOffersExactLists(t *testing.T) {
	for _, tc := range criteria.Full().Tests() {
		switch tc.Version {
		case criteria.VersionTLS10, criteria.VersionTLS11, criteria.VersionTLS12:
			if !tc.HelloOnly {
				assert.IsType(t, zcryptoEngine{}, engineFor(tc), tc.Name)
				continue
			}
		}
		assert.IsType(t, helloProbe{}, engineFor(tc), tc.Name)
	}
}
