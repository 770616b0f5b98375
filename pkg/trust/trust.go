// Package trust holds the curated trusted-root store used to complete and
// judge presented certificate chains. A Store is read-only after Load.
package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// SystemBundles are the well-known CA bundle locations, first match wins.
var SystemBundles = []string{
	"/etc/ssl/certs/ca-certificates.crt",     // Debian/Ubuntu/Alpine
	"/etc/pki/tls/certs/ca-bundle.crt",       // RedHat/CentOS/Fedora
	"/etc/ssl/ca-bundle.pem",                 // OpenSUSE
	"/etc/pki/tls/cert.pem",                  // Old RedHat
	"/usr/local/share/certs/ca-root-nss.crt", // FreeBSD
	"/etc/ssl/cert.pem",                      // OpenBSD
}

var certPatterns = []string{"*.crt", "*.pem", "*.cer", "*.ca"}

// NormalizeName folds a distinguished name for comparison: case is
// ignored and runs of whitespace collapse to one space.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Store indexes trusted roots by normalized subject.
type Store struct {
	bySubject map[string][]*x509.Certificate
	byHash    map[[32]byte]bool
}

// New builds a store from certificates.
func New(certs ...*x509.Certificate) *Store {
	s := &Store{bySubject: map[string][]*x509.Certificate{}, byHash: map[[32]byte]bool{}}
	for _, c := range certs {
		s.add(c)
	}
	return s
}

func (s *Store) add(c *x509.Certificate) bool {
	h := sha256.Sum256(c.Raw)
	if s.byHash[h] {
		return false
	}
	s.byHash[h] = true
	key := NormalizeName(c.Subject.String())
	s.bySubject[key] = append(s.bySubject[key], c)
	return true
}

// Len is the number of distinct roots.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byHash)
}

// Contains reports whether c itself is a trusted root.
func (s *Store) Contains(c *x509.Certificate) bool {
	if s == nil || c == nil {
		return false
	}
	return s.byHash[sha256.Sum256(c.Raw)]
}

// FindIssuer returns a root whose subject matches c's issuer. When several
// roots share the subject, one whose key verifies c's signature is preferred.
func (s *Store) FindIssuer(c *x509.Certificate) (*x509.Certificate, bool) {
	if s == nil || c == nil {
		return nil, false
	}
	candidates := s.bySubject[NormalizeName(c.Issuer.String())]
	if len(candidates) == 0 {
		return nil, false
	}
	for _, root := range candidates {
		if root.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature) == nil {
			return root, true
		}
	}
	return candidates[0], true
}

// LoadOptions selects where roots come from.
type LoadOptions struct {
	File   string // PEM bundle
	Dir    string // directory of PEM files
	System bool   // include the first readable system bundle
	Logger zerolog.Logger
}

// Load builds a store from the configured sources. Unreadable system
// bundles are skipped; an unreadable File or Dir is an error.
func Load(opts LoadOptions) (*Store, error) {
	s := New()
	log := opts.Logger

	if opts.System {
		for _, path := range SystemBundles {
			data, err := os.ReadFile(path) // #nosec G304 -- well-known system paths
			if err != nil {
				continue
			}
			if n := s.appendPEM(data); n > 0 {
				log.Debug().Str("path", path).Int("roots", n).Msg("loaded system CA bundle")
				break
			}
		}
	}

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("read trust bundle: %w", err)
		}
		n := s.appendPEM(data)
		if n == 0 {
			return nil, fmt.Errorf("trust bundle %s holds no certificates", opts.File)
		}
		log.Debug().Str("path", opts.File).Int("roots", n).Msg("loaded trust bundle")
	}

	if opts.Dir != "" {
		if _, err := os.Stat(opts.Dir); err != nil {
			return nil, fmt.Errorf("read trust directory: %w", err)
		}
		for _, pattern := range certPatterns {
			files, err := filepath.Glob(filepath.Join(opts.Dir, pattern))
			if err != nil {
				return nil, fmt.Errorf("glob %s: %w", pattern, err)
			}
			for _, file := range files {
				data, err := os.ReadFile(file) // #nosec G304 -- files under the configured CA directory
				if err != nil {
					log.Warn().Err(err).Str("path", file).Msg("could not read CA file")
					continue
				}
				if s.appendPEM(data) == 0 {
					log.Warn().Str("path", file).Msg("no certificate in CA file")
				}
			}
		}
	}

	log.Info().Int("roots", s.Len()).Msg("trusted-root store ready")
	return s, nil
}

func (s *Store) appendPEM(data []byte) int {
	n := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		if s.add(c) {
			n++
		}
	}
	return n
}
