package scanner

import (
	"context"
	"net"

	ztls "github.com/zmap/zcrypto/tls"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
)

type handshakeResult struct {
	version criteria.Version
	suite   uint16
	chain   [][]byte
}

// engine performs one constrained handshake over an established stream.
type engine interface {
	handshake(ctx context.Context, conn net.Conn, tc criteria.TestCriteria, serverName string) (handshakeResult, error)
}

// engineFor picks the implementation able to offer exactly what the test asks.
func engineFor(tc criteria.TestCriteria) engine {
	switch {
	case tc.Version == criteria.VersionSSL30 || tc.Version >= criteria.VersionTLS13 || tc.HelloOnly:
		return helloProbe{}
	default:
		return zcryptoEngine{}
	}
}

// zcryptoEngine drives TLS 1.0 to 1.2 handshakes. zcrypto still
// implements the legacy suites the standard library dropped.
type zcryptoEngine struct{}

func (zcryptoEngine) handshake(ctx context.Context, conn net.Conn, tc criteria.TestCriteria, serverName string) (handshakeResult, error) {
	tlsConfig := &ztls.Config{
		MinVersion:         uint16(tc.Version),
		MaxVersion:         uint16(tc.Version),
		CipherSuites:       tc.CipherSuites,
		InsecureSkipVerify: true,
	}
	if net.ParseIP(serverName) == nil {
		tlsConfig.ServerName = serverName
	}

	c := ztls.Client(conn, tlsConfig)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if err := c.Handshake(); err != nil {
		return handshakeResult{}, err
	}

	state := c.ConnectionState()
	chain := make([][]byte, 0, len(state.PeerCertificates))
	for _, cert := range state.PeerCertificates {
		chain = append(chain, cert.Raw)
	}
	return handshakeResult{
		version: criteria.Version(state.Version),
		suite:   uint16(state.CipherSuite),
		chain:   chain,
	}, nil
}
