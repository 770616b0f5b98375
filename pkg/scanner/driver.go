// Package scanner performs constrained TLS handshakes against mail
// servers over SMTP STARTTLS and reports each attempt as a typed Outcome.
package scanner

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
	"github.com/jphoke/mailtls-assessor/pkg/metrics"
)

// Resolver finds the addresses of a target host.
type Resolver interface {
	Lookup(ctx context.Context, host string) ([]net.IP, error)
}

// Config holds the driver's network settings.
type Config struct {
	Port           int
	EHLOName       string
	ConnectTimeout time.Duration
	// IOTimeout bounds one whole attempt: SMTP dialogue plus handshake.
	IOTimeout time.Duration
}

// Driver runs one handshake attempt per call. It is safe for concurrent use.
type Driver struct {
	config   Config
	smtp     StartTLSNegotiator
	resolver Resolver
	logger   zerolog.Logger
	metrics  *metrics.Recorder
}

// Option customises a Driver.
type Option func(*Driver)

// WithResolver sets the host resolver used by Run.
func WithResolver(r Resolver) Option {
	return func(d *Driver) { d.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics records every attempt.
func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Driver) { d.metrics = m }
}

// NewDriver builds a driver with defaults for any zero config value.
func NewDriver(config Config, opts ...Option) *Driver {
	if config.Port == 0 {
		config.Port = 25
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.IOTimeout == 0 {
		config.IOTimeout = 30 * time.Second
	}
	d := &Driver{
		config: config,
		smtp:   &SMTPStartTLS{EHLOName: config.EHLOName},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run resolves host, connects to its SMTP port and performs the test.
func (d *Driver) Run(ctx context.Context, host string, tc criteria.TestCriteria) Outcome {
	target := host
	if d.resolver != nil {
		addrs, err := d.resolver.Lookup(ctx, host)
		if err != nil {
			return d.record(d.failure(tc, err, nil))
		}
		if len(addrs) == 0 {
			return d.record(Failure(tc.Name, ErrHostNotFound, host+": no addresses"))
		}
		target = addrs[0].String()
	}

	dialer := &net.Dialer{Timeout: d.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(d.config.Port)))
	if err != nil {
		return d.record(d.failure(tc, err, nil))
	}
	return d.connect(ctx, conn, host, tc)
}

// Connect performs the SMTP negotiation and the handshake on an
// established stream. It never panics and always closes conn.
func (d *Driver) Connect(ctx context.Context, conn net.Conn, tc criteria.TestCriteria) Outcome {
	return d.connect(ctx, conn, "", tc)
}

func (d *Driver) connect(ctx context.Context, conn net.Conn, serverName string, tc criteria.TestCriteria) (out Outcome) {
	log := d.logger.With().Str("test", string(tc.Name)).Logger()
	defer func() {
		_ = conn.Close()
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("handshake engine panicked")
			out = Failure(tc.Name, ErrInternal, fmt.Sprintf("panic: %v", r))
		}
		d.record(out)
	}()

	ctx, cancel := context.WithTimeout(ctx, d.config.IOTimeout)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) // Best effort timeout
	}

	reader := bufio.NewReader(conn)
	if failed := d.smtp.Negotiate(conn, reader); failed != nil {
		log.Debug().Str("stage", failed.Stage).Msg(failed.Detail)
		return SessionFailure(tc.Name, failed.Stage, failed.Detail)
	}

	t := newTap(&bufferedConn{Conn: conn, r: reader})
	res, err := engineFor(tc).handshake(ctx, t, tc, serverName)
	f := t.flight()
	if err != nil {
		out = d.failure(tc, err, &f)
		log.Debug().Str("error", string(out.Error)).Msg(out.Description)
		return out
	}
	if res.version == 0 || res.suite == 0 {
		return Failure(tc.Name, ErrInternal, "engine reported success without negotiated parameters")
	}

	out = Success(tc.Name, res.version, res.suite, res.chain)
	if len(out.Chain) == 0 {
		out.Chain = f.certificates
	}
	out.CurveID = f.curveID
	out.DHBits = f.dhBits
	if out.CurveID == 0 && f.hello != nil {
		out.CurveID = f.hello.keyShare
	}
	log.Debug().Str("version", out.Version.String()).Str("cipher", out.CipherSuiteName()).Msg("handshake completed")
	return out
}

func (d *Driver) failure(tc criteria.TestCriteria, err error, f *flight) Outcome {
	code, desc := classify(err, f)
	return Failure(tc.Name, code, desc)
}

func (d *Driver) record(out Outcome) Outcome {
	result := "ok"
	if !out.Succeeded() {
		result = string(out.Error)
	}
	d.metrics.Handshake(string(out.Test), result)
	return out
}
