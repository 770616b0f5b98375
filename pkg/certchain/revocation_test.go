package certchain

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/jphoke/mailtls-assessor/pkg/certchain/certtest"
	"github.com/jphoke/mailtls-assessor/pkg/findings"
	"github.com/jphoke/mailtls-assessor/pkg/trust"
)

// responder serves OCSP at /ocsp and a CRL at /crl for one issuer.
type responder struct {
	issuer   *certtest.Cert
	revoked  map[int64]bool
	ocspDown atomic.Bool
	hits     atomic.Int32
}

func (r *responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.hits.Add(1)
	now := time.Now()
	switch req.URL.Path {
	case "/ocsp":
		if r.ocspDown.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ocspReq, err := ocsp.ParseRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tmpl := ocsp.Response{Status: ocsp.Good, SerialNumber: ocspReq.SerialNumber, ThisUpdate: now, NextUpdate: now.Add(time.Hour)}
		if r.revoked[ocspReq.SerialNumber.Int64()] {
			tmpl.Status = ocsp.Revoked
			tmpl.RevokedAt = now.Add(-time.Hour).Truncate(time.Second)
		}
		resp, err := ocsp.CreateResponse(r.issuer.Cert, r.issuer.Cert, tmpl, r.issuer.Key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	case "/crl":
		var entries []x509.RevocationListEntry
		for serial := range r.revoked {
			entries = append(entries, x509.RevocationListEntry{SerialNumber: big.NewInt(serial), RevocationTime: now.Add(-time.Hour)})
		}
		crl, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
			Number:                    big.NewInt(1),
			ThisUpdate:                now,
			NextUpdate:                now.Add(time.Hour),
			RevokedCertificateEntries: entries,
		}, r.issuer.Cert, r.issuer.Key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(crl)
	default:
		http.NotFound(w, req)
	}
}

func TestCheckerOCSPAndCRL(t *testing.T) {
	root := certtest.Root(t, "Revocation Root")
	resp := &responder{issuer: root, revoked: map[int64]bool{77: true}}
	srv := httptest.NewServer(resp)
	defer srv.Close()

	good := root.Issue(t, certtest.Options{CommonName: host, Serial: 76, OCSPServer: []string{srv.URL + "/ocsp"}, CRLs: []string{srv.URL + "/crl"}})
	revoked := root.Issue(t, certtest.Options{CommonName: host, Serial: 77, OCSPServer: []string{srv.URL + "/ocsp"}, CRLs: []string{srv.URL + "/crl"}})
	crlOnly := root.Issue(t, certtest.Options{CommonName: host, Serial: 78, CRLs: []string{srv.URL + "/crl"}})
	bare := root.Issue(t, certtest.Options{CommonName: host, Serial: 79})

	tests := []struct {
		name     string
		cert     *certtest.Cert
		ocspDown bool
		status   Status
		source   string
	}{
		{name: "ocsp good", cert: good, status: StatusGood, source: SourceOCSP},
		{name: "ocsp revoked", cert: revoked, status: StatusRevoked, source: SourceOCSP},
		{name: "crl fallback", cert: revoked, ocspDown: true, status: StatusRevoked, source: SourceCRL},
		{name: "crl only good", cert: crlOnly, status: StatusGood, source: SourceCRL},
		{name: "no responder", cert: bare, status: StatusUnknown, source: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp.ocspDown.Store(tt.ocspDown)
			c := NewChecker(WithCache(nil, 0))
			res, err := c.Check(context.Background(), tt.cert.Cert, root.Cert)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.source, res.Source)
			if tt.status == StatusRevoked {
				assert.False(t, res.RevokedAt.IsZero())
			}
		})
	}
}

func TestCheckerErrorWhenAllRespondersFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	root := certtest.Root(t, "Failing Root")
	leaf := root.Issue(t, certtest.Options{CommonName: host, OCSPServer: []string{srv.URL}, CRLs: []string{srv.URL}})

	_, err := NewChecker().Check(context.Background(), leaf.Cert, root.Cert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revocation status unavailable")
}

func TestCheckerCachesAnswers(t *testing.T) {
	root := certtest.Root(t, "Cache Root")
	resp := &responder{issuer: root}
	srv := httptest.NewServer(resp)
	defer srv.Close()
	leaf := root.Issue(t, certtest.Options{CommonName: host, OCSPServer: []string{srv.URL + "/ocsp"}})

	cache := NewMemoryCache()
	c := NewChecker(WithCache(cache, time.Minute))
	for i := 0; i < 3; i++ {
		res, err := c.Check(context.Background(), leaf.Cert, root.Cert)
		require.NoError(t, err)
		assert.Equal(t, StatusGood, res.Status)
	}
	assert.Equal(t, int32(1), resp.hits.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestRevokedCertificateFinding(t *testing.T) {
	root := certtest.Root(t, "Finding Root")
	resp := &responder{issuer: root, revoked: map[int64]bool{4242: true}}
	srv := httptest.NewServer(resp)
	defer srv.Close()
	leaf := root.Issue(t, certtest.Options{CommonName: host, DNSNames: []string{host}, Serial: 4242, OCSPServer: []string{srv.URL + "/ocsp"}})

	e := NewEvaluator(trust.New(root.Cert), WithRevocation(NewChecker()))
	res := e.Evaluate(context.Background(), HostCertificates{Host: host, Chain: certtest.X509(leaf)})
	assert.Equal(t, []findings.Severity{findings.Fail}, severities(res.Findings, IDRevocation))
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(context.Background(), "k", RevocationResult{Status: StatusGood}, time.Minute)
	res, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, StatusGood, res.Status)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() {
		_ = client.Close()
	}()
	c := NewRedisCache(client, zerolog.Nop())
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	want := RevocationResult{Status: StatusRevoked, Source: SourceCRL, RevokedAt: time.Unix(1700000000, 0).UTC()}
	c.Set(ctx, "k", want, time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Source, got.Source)
	assert.True(t, want.RevokedAt.Equal(got.RevokedAt))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}
