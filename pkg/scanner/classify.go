package scanner

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/jphoke/mailtls-assessor/pkg/resolve"
)

// remoteAlertText maps the alert text Go TLS stacks print in
// "remote error: tls: <text>" to the typed error. It is only consulted
// when the alert record itself was not captured, as in TLS 1.3 where
// alerts after ServerHello are encrypted.
var remoteAlertText = map[string]TLSError{
	"close notify":                    ErrCloseNotify,
	"unexpected message":              ErrUnexpectedMessage,
	"bad record MAC":                  ErrBadRecordMAC,
	"decryption failed":               ErrDecryptionFailed,
	"record overflow":                 ErrRecordOverflow,
	"decompression failure":           ErrDecompressionFailure,
	"handshake failure":               ErrHandshakeFailure,
	"bad certificate":                 ErrBadCertificate,
	"unsupported certificate":         ErrUnsupportedCertificate,
	"revoked certificate":             ErrCertificateRevoked,
	"expired certificate":             ErrCertificateExpired,
	"unknown certificate":             ErrCertificateUnknown,
	"illegal parameter":               ErrIllegalParameter,
	"unknown certificate authority":   ErrUnknownCA,
	"access denied":                   ErrAccessDenied,
	"error decoding message":          ErrDecodeError,
	"error decrypting message":        ErrDecryptError,
	"export restriction":              ErrExportRestriction,
	"protocol version not supported":  ErrProtocolVersion,
	"insufficient security level":     ErrInsufficientSecurity,
	"internal error":                  ErrInternalAlert,
	"inappropriate fallback":          ErrInappropriateFallback,
	"user canceled":                   ErrUserCanceled,
	"no renegotiation":                ErrNoRenegotiation,
	"missing extension":               ErrMissingExtension,
	"unsupported extension":           ErrUnsupportedExtension,
	"certificate unobtainable":        ErrCertificateUnobtainable,
	"unrecognized name":               ErrUnrecognizedName,
	"bad certificate status response": ErrBadCertificateStatusResponse,
	"bad certificate hash value":      ErrBadCertificateHashValue,
	"unknown PSK identity":            ErrUnknownPSKIdentity,
	"certificate required":            ErrCertificateRequired,
	"no application protocol":         ErrNoApplicationProtocol,
}

// classify converts any handshake failure into a typed error and a
// description. It is the only place errors become TLSError values.
// f is the decoded server flight; it may be nil when nothing was read.
func classify(err error, f *flight) (TLSError, string) {
	if err == nil {
		return ErrInternal, "no error to classify"
	}

	if f != nil && f.alert != nil {
		return AlertError(f.alert.description), err.Error()
	}

	var mismatch *mismatchError
	if errors.As(err, &mismatch) {
		return mismatch.err, mismatch.detail
	}

	if errors.Is(err, resolve.ErrNotFound) {
		return ErrHostNotFound, err.Error()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return ErrHostNotFound, err.Error()
	}

	msg := err.Error()
	if i := strings.Index(msg, "remote error: tls: "); i >= 0 {
		text := strings.TrimSpace(msg[i+len("remote error: tls: "):])
		if e, ok := remoteAlertText[text]; ok {
			return e, msg
		}
	}

	if isConnectionFailure(err) {
		return ErrTCPConnectionFailed, msg
	}

	// Local aborts on version mismatch come back as plain errors.
	if strings.Contains(msg, "unsupported protocol version") {
		return ErrProtocolVersion, msg
	}

	return ErrInternal, msg
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
