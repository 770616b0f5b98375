package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jphoke/mailtls-assessor/pkg/resolve"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		flight *flight
		want   TLSError
	}{
		{
			name:   "captured alert wins",
			err:    errors.New("local error: tls: something"),
			flight: &flight{alert: &alert{level: 2, description: 71}},
			want:   ErrInsufficientSecurity,
		},
		{
			name: "remote error text",
			err:  &net.OpError{Op: "remote error", Err: errors.New("tls: handshake failure")},
			want: ErrHandshakeFailure,
		},
		{
			name: "remote protocol version",
			err:  errors.New("remote error: tls: protocol version not supported"),
			want: ErrProtocolVersion,
		},
		{
			name: "remote access denied",
			err:  errors.New("remote error: tls: access denied"),
			want: ErrAccessDenied,
		},
		{
			name: "local version abort",
			err:  errors.New("tls: server selected unsupported protocol version 301"),
			want: ErrProtocolVersion,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			want: ErrTCPConnectionFailed,
		},
		{
			name: "reset",
			err:  fmt.Errorf("read: %w", syscall.ECONNRESET),
			want: ErrTCPConnectionFailed,
		},
		{
			name: "EOF before answer",
			err:  io.EOF,
			want: ErrTCPConnectionFailed,
		},
		{
			name: "deadline",
			err:  os.ErrDeadlineExceeded,
			want: ErrTCPConnectionFailed,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: ErrTCPConnectionFailed,
		},
		{
			name: "nxdomain",
			err:  fmt.Errorf("mx.invalid: %w", resolve.ErrNotFound),
			want: ErrHostNotFound,
		},
		{
			name: "system resolver not found",
			err:  &net.DNSError{Err: "no such host", Name: "mx.invalid", IsNotFound: true},
			want: ErrHostNotFound,
		},
		{
			name: "mismatch",
			err:  &mismatchError{err: ErrIllegalParameter, detail: "unoffered"},
			want: ErrIllegalParameter,
		},
		{
			name: "anything else",
			err:  errors.New("x509: malformed certificate"),
			want: ErrInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, desc := classify(tt.err, tt.flight)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, desc)
		})
	}
}

func TestAlertError(t *testing.T) {
	assert.Equal(t, ErrHandshakeFailure, AlertError(40))
	assert.Equal(t, ErrDecryptError, AlertError(51))
	assert.Equal(t, ErrInternal, AlertError(255))
	assert.True(t, ErrProtocolVersion.IsAlert())
	assert.False(t, ErrTCPConnectionFailed.IsAlert())
}

func TestOutcomeInvariant(t *testing.T) {
	assert.True(t, Success("t", 0x0303, 0xC02F, nil).Valid())
	assert.True(t, Failure("t", ErrHandshakeFailure, "").Valid())
	assert.True(t, SessionFailure("t", StageBanner, "eof").Valid())
	assert.False(t, Outcome{Test: "t"}.Valid())
	assert.False(t, Outcome{Test: "t", Version: 0x0303, Error: ErrInternal}.Valid())
	assert.Equal(t, ErrInternal, Failure("t", "", "").Error)
}
