// Package scannertest provides a scripted SMTP server that speaks
// STARTTLS, for exercising the handshake driver without a real MX.
package scannertest

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

// Behavior scripts how the server answers a session.
type Behavior struct {
	Banner        string // default "220 mock.example ESMTP"
	HideStartTLS  bool
	StartTLSReply string // default "220 2.0.0 Ready to start TLS"
	// TLSConfig completes a real handshake after STARTTLS.
	TLSConfig *tls.Config
	// Reply, when set, receives the raw ClientHello record and returns the
	// bytes written back. A nil return closes the connection.
	Reply func(clientHello []byte) []byte
}

// Server is a loopback SMTP listener.
type Server struct {
	listener net.Listener
	behavior Behavior
	wg       sync.WaitGroup

	mu    sync.Mutex
	hello []byte
}

// Start listens on a random loopback port.
func Start(b Behavior) (*Server, error) {
	return Listen("127.0.0.1:0", b)
}

// Listen listens on addr.
func Listen(addr string, b Behavior) (*Server, error) {
	if b.Banner == "" {
		b.Banner = "220 mock.example ESMTP"
	}
	if b.StartTLSReply == "" {
		b.StartTLSReply = "220 2.0.0 Ready to start TLS"
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{listener: l, behavior: b}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr is the listening address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port is the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// LastClientHello returns the most recent raw ClientHello record seen by Reply.
func (s *Server) LastClientHello() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hello
}

// Close stops the listener and waits for open sessions.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	r := bufio.NewReader(conn)
	fmt.Fprintf(conn, "%s\r\n", s.behavior.Banner)
	if !strings.HasPrefix(s.behavior.Banner, "220") {
		return
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			if s.behavior.HideStartTLS {
				fmt.Fprint(conn, "250-mock.example\r\n250-PIPELINING\r\n250 8BITMIME\r\n")
			} else {
				fmt.Fprint(conn, "250-mock.example\r\n250-PIPELINING\r\n250-STARTTLS\r\n250 8BITMIME\r\n")
			}
		case cmd == "STARTTLS":
			fmt.Fprintf(conn, "%s\r\n", s.behavior.StartTLSReply)
			if !strings.HasPrefix(s.behavior.StartTLSReply, "220") {
				return
			}
			s.upgrade(&readerConn{Conn: conn, r: r})
			return
		case cmd == "QUIT":
			fmt.Fprint(conn, "221 bye\r\n")
			return
		default:
			fmt.Fprint(conn, "502 command not implemented\r\n")
		}
	}
}

func (s *Server) upgrade(conn net.Conn) {
	switch {
	case s.behavior.Reply != nil:
		hello, err := readRecord(conn)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.hello = hello
		s.mu.Unlock()
		if out := s.behavior.Reply(hello); out != nil {
			_, _ = conn.Write(out)
			// Give the client time to read before the close.
			_, _ = io.Copy(io.Discard, conn)
		}
	case s.behavior.TLSConfig != nil:
		tlsConn := tls.Server(conn, s.behavior.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, tlsConn)
	}
}

type readerConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *readerConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func readRecord(r io.Reader) ([]byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint16(header[3:5]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

// Record frames a TLS record.
func Record(typ uint8, version uint16, body []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint8(typ)
	b.AddUint16(version)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(body)
	})
	return b.BytesOrPanic()
}

// Alert is a fatal alert record with the given description code.
func Alert(version uint16, code uint8) []byte {
	return Record(21, version, []byte{2, code})
}

func handshake(typ uint8, body func(b *cryptobyte.Builder)) []byte {
	var b cryptobyte.Builder
	b.AddUint8(typ)
	b.AddUint24LengthPrefixed(body)
	return b.BytesOrPanic()
}

// ServerHello is a ServerHello handshake message. A version of 0x0304
// is sent as legacy 0x0303 plus supported_versions.
func ServerHello(version, suite uint16) []byte {
	return handshake(2, func(b *cryptobyte.Builder) {
		legacy := version
		if version >= 0x0304 {
			legacy = 0x0303
		}
		b.AddUint16(legacy)
		b.AddBytes(make([]byte, 32))
		b.AddUint8(0)
		b.AddUint16(suite)
		b.AddUint8(0)
		if version >= 0x0304 {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint16(43)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16(version)
				})
			})
		}
	})
}

// Certificate is a Certificate handshake message carrying ders.
func Certificate(ders ...[]byte) []byte {
	return handshake(11, func(b *cryptobyte.Builder) {
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, der := range ders {
				b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(der)
				})
			}
		})
	})
}

// ECDHEKeyExchange is a ServerKeyExchange naming curve. The key and
// signature are filler.
func ECDHEKeyExchange(curve uint16) []byte {
	return handshake(12, func(b *cryptobyte.Builder) {
		b.AddUint8(3)
		b.AddUint16(curve)
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(make([]byte, 65))
		})
	})
}

// DHEKeyExchange is a ServerKeyExchange with a prime of the given size.
func DHEKeyExchange(bits int) []byte {
	p := make([]byte, (bits+7)/8)
	p[0] = 0x80 >> ((8 - bits%8) % 8)
	return handshake(12, func(b *cryptobyte.Builder) {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(p) })
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddUint8(2) })
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(make([]byte, len(p))) })
	})
}

// ServerHelloDone ends the server's first flight.
func ServerHelloDone() []byte {
	return handshake(14, func(*cryptobyte.Builder) {})
}

// Flight frames handshake messages into one handshake record.
func Flight(version uint16, msgs ...[]byte) []byte {
	var body []byte
	for _, m := range msgs {
		body = append(body, m...)
	}
	return Record(22, version, body)
}

// ClientHelloInfo is what a raw ClientHello offered.
type ClientHelloInfo struct {
	RecordVersion uint16
	Version       uint16
	CipherSuites  []uint16
	Groups        []uint16
	ServerName    string
	Extensions    []uint16
	// SupportedVersions and KeyShares are set by TLS 1.3 hellos.
	SupportedVersions []uint16
	KeyShares         []uint16
}

// ParseClientHello decodes a ClientHello record.
func ParseClientHello(record []byte) (ClientHelloInfo, error) {
	var info ClientHelloInfo
	s := cryptobyte.String(record)
	var typ, hsType uint8
	var body, msg, session, suites, compression cryptobyte.String
	if !s.ReadUint8(&typ) || typ != 22 || !s.ReadUint16(&info.RecordVersion) ||
		!s.ReadUint16LengthPrefixed(&body) ||
		!body.ReadUint8(&hsType) || hsType != 1 || !body.ReadUint24LengthPrefixed(&msg) ||
		!msg.ReadUint16(&info.Version) || !msg.Skip(32) ||
		!msg.ReadUint8LengthPrefixed(&session) ||
		!msg.ReadUint16LengthPrefixed(&suites) ||
		!msg.ReadUint8LengthPrefixed(&compression) {
		return info, fmt.Errorf("malformed ClientHello")
	}
	for !suites.Empty() {
		var suite uint16
		suites.ReadUint16(&suite)
		info.CipherSuites = append(info.CipherSuites, suite)
	}
	if msg.Empty() {
		return info, nil
	}
	var exts cryptobyte.String
	if !msg.ReadUint16LengthPrefixed(&exts) {
		return info, fmt.Errorf("malformed extensions")
	}
	for !exts.Empty() {
		var ext uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&ext) || !exts.ReadUint16LengthPrefixed(&data) {
			return info, fmt.Errorf("malformed extension")
		}
		info.Extensions = append(info.Extensions, ext)
		switch ext {
		case 0:
			var list, name cryptobyte.String
			var nameType uint8
			if data.ReadUint16LengthPrefixed(&list) && list.ReadUint8(&nameType) && list.ReadUint16LengthPrefixed(&name) {
				info.ServerName = string(name)
			}
		case 10:
			var list cryptobyte.String
			if data.ReadUint16LengthPrefixed(&list) {
				for !list.Empty() {
					var g uint16
					list.ReadUint16(&g)
					info.Groups = append(info.Groups, g)
				}
			}
		case 43:
			var list cryptobyte.String
			if data.ReadUint8LengthPrefixed(&list) {
				for !list.Empty() {
					var v uint16
					list.ReadUint16(&v)
					info.SupportedVersions = append(info.SupportedVersions, v)
				}
			}
		case 51:
			var list cryptobyte.String
			if data.ReadUint16LengthPrefixed(&list) {
				for !list.Empty() {
					var group uint16
					var key cryptobyte.String
					if !list.ReadUint16(&group) || !list.ReadUint16LengthPrefixed(&key) {
						break
					}
					info.KeyShares = append(info.KeyShares, group)
				}
			}
		}
	}
	return info, nil
}

// SelfSigned creates an ECDSA P-256 certificate for host.
func SelfSigned(host string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
