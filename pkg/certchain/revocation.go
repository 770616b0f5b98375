package certchain

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ocsp"

	apperrors "github.com/jphoke/mailtls-assessor/pkg/errors"
	"github.com/jphoke/mailtls-assessor/pkg/metrics"
)

// Status is a certificate's revocation state.
type Status int

const (
	StatusUnknown Status = iota
	StatusGood
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	}
	return "unknown"
}

// Revocation sources.
const (
	SourceOCSP = "ocsp"
	SourceCRL  = "crl"
)

// RevocationResult is the answer for one certificate. Source is empty when
// the certificate names no responder.
type RevocationResult struct {
	Status    Status    `json:"status"`
	Source    string    `json:"source"`
	RevokedAt time.Time `json:"revoked_at,omitempty"`
}

// RevocationChecker looks up whether cert, issued by issuer, is revoked.
type RevocationChecker interface {
	Check(ctx context.Context, cert, issuer *x509.Certificate) (RevocationResult, error)
}

const maxResponseBytes = 10 << 20

// Checker asks OCSP responders first and falls back to CRLs. Answers are
// cached for the TTL.
type Checker struct {
	client  *http.Client
	cache   Cache
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) CheckerOption {
	return func(ch *Checker) { ch.client = c }
}

// WithCache sets the result cache.
func WithCache(c Cache, ttl time.Duration) CheckerOption {
	return func(ch *Checker) {
		ch.cache = c
		ch.ttl = ttl
	}
}

// WithCheckerLogger sets the logger.
func WithCheckerLogger(l zerolog.Logger) CheckerOption {
	return func(ch *Checker) { ch.logger = l }
}

// WithCheckerMetrics records every lookup.
func WithCheckerMetrics(m *metrics.Recorder) CheckerOption {
	return func(ch *Checker) { ch.metrics = m }
}

// NewChecker builds a checker with a 10s HTTP timeout and an in-memory cache.
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  NewMemoryCache(),
		ttl:    time.Hour,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(cert *x509.Certificate) string {
	return Thumbprint(cert.Raw)
}

// Check implements RevocationChecker.
func (c *Checker) Check(ctx context.Context, cert, issuer *x509.Certificate) (RevocationResult, error) {
	key := cacheKey(cert)
	if c.cache != nil {
		if res, ok := c.cache.Get(ctx, key); ok {
			return res, nil
		}
	}

	res, err := c.lookup(ctx, cert, issuer)
	if err != nil {
		c.metrics.Revocation("none", "error")
		return res, apperrors.NewRevocationError(cert.SerialNumber.Text(16), err)
	}
	source := res.Source
	if source == "" {
		source = "none"
	}
	c.metrics.Revocation(source, res.Status.String())
	if c.cache != nil {
		c.cache.Set(ctx, key, res, c.ttl)
	}
	return res, nil
}

func (c *Checker) lookup(ctx context.Context, cert, issuer *x509.Certificate) (RevocationResult, error) {
	if len(cert.OCSPServer) == 0 && len(cert.CRLDistributionPoints) == 0 {
		return RevocationResult{Status: StatusUnknown}, nil
	}

	var errs []error
	for _, url := range cert.OCSPServer {
		res, err := c.ocsp(ctx, url, cert, issuer)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", url).Msg("OCSP lookup failed")
			errs = append(errs, err)
			continue
		}
		if res.Status != StatusUnknown {
			return res, nil
		}
	}
	for _, url := range cert.CRLDistributionPoints {
		res, err := c.crl(ctx, url, cert, issuer)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", url).Msg("CRL lookup failed")
			errs = append(errs, err)
			continue
		}
		return res, nil
	}
	if len(errs) > 0 {
		return RevocationResult{Status: StatusUnknown}, errors.Join(errs...)
	}
	return RevocationResult{Status: StatusUnknown, Source: SourceOCSP}, nil
}

func (c *Checker) fetch(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError(req.Method+" "+req.URL.String(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", req.URL, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func (c *Checker) ocsp(ctx context.Context, url string, cert, issuer *x509.Certificate) (RevocationResult, error) {
	body, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return RevocationResult{}, fmt.Errorf("create OCSP request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return RevocationResult{}, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")

	raw, err := c.fetch(req)
	if err != nil {
		return RevocationResult{}, err
	}
	resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return RevocationResult{}, fmt.Errorf("parse OCSP response: %w", err)
	}
	switch resp.Status {
	case ocsp.Good:
		return RevocationResult{Status: StatusGood, Source: SourceOCSP}, nil
	case ocsp.Revoked:
		return RevocationResult{Status: StatusRevoked, Source: SourceOCSP, RevokedAt: resp.RevokedAt}, nil
	}
	return RevocationResult{Status: StatusUnknown, Source: SourceOCSP}, nil
}

func (c *Checker) crl(ctx context.Context, url string, cert, issuer *x509.Certificate) (RevocationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RevocationResult{}, err
	}
	raw, err := c.fetch(req)
	if err != nil {
		return RevocationResult{}, err
	}
	list, err := x509.ParseRevocationList(raw)
	if err != nil {
		return RevocationResult{}, fmt.Errorf("parse CRL: %w", err)
	}
	if err := list.CheckSignatureFrom(issuer); err != nil {
		return RevocationResult{}, fmt.Errorf("CRL signature: %w", err)
	}
	for _, entry := range list.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return RevocationResult{Status: StatusRevoked, Source: SourceCRL, RevokedAt: entry.RevocationTime}, nil
		}
	}
	return RevocationResult{Status: StatusGood, Source: SourceCRL}, nil
}
