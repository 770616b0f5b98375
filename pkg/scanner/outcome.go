package scanner

import (
	"fmt"

	"github.com/jphoke/mailtls-assessor/pkg/criteria"
)

// TLSError is the typed reason a handshake attempt did not complete.
// Values derived from TLS alerts use the RFC 5246/8446 alert names;
// the remaining values describe failures outside the TLS layer.
type TLSError string

const (
	ErrCloseNotify                  TLSError = "CLOSE_NOTIFY"
	ErrUnexpectedMessage            TLSError = "UNEXPECTED_MESSAGE"
	ErrBadRecordMAC                 TLSError = "BAD_RECORD_MAC"
	ErrDecryptionFailed             TLSError = "DECRYPTION_FAILED"
	ErrRecordOverflow               TLSError = "RECORD_OVERFLOW"
	ErrDecompressionFailure         TLSError = "DECOMPRESSION_FAILURE"
	ErrHandshakeFailure             TLSError = "HANDSHAKE_FAILURE"
	ErrNoCertificate                TLSError = "NO_CERTIFICATE"
	ErrBadCertificate               TLSError = "BAD_CERTIFICATE"
	ErrUnsupportedCertificate       TLSError = "UNSUPPORTED_CERTIFICATE"
	ErrCertificateRevoked           TLSError = "CERTIFICATE_REVOKED"
	ErrCertificateExpired           TLSError = "CERTIFICATE_EXPIRED"
	ErrCertificateUnknown           TLSError = "CERTIFICATE_UNKNOWN"
	ErrIllegalParameter             TLSError = "ILLEGAL_PARAMETER"
	ErrUnknownCA                    TLSError = "UNKNOWN_CA"
	ErrAccessDenied                 TLSError = "ACCESS_DENIED"
	ErrDecodeError                  TLSError = "DECODE_ERROR"
	ErrDecryptError                 TLSError = "DECRYPT_ERROR"
	ErrExportRestriction            TLSError = "EXPORT_RESTRICTION"
	ErrProtocolVersion              TLSError = "PROTOCOL_VERSION"
	ErrInsufficientSecurity         TLSError = "INSUFFICIENT_SECURITY"
	ErrInternalAlert                TLSError = "INTERNAL_ERROR_ALERT"
	ErrInappropriateFallback        TLSError = "INAPPROPRIATE_FALLBACK"
	ErrUserCanceled                 TLSError = "USER_CANCELED"
	ErrNoRenegotiation              TLSError = "NO_RENEGOTIATION"
	ErrMissingExtension             TLSError = "MISSING_EXTENSION"
	ErrUnsupportedExtension         TLSError = "UNSUPPORTED_EXTENSION"
	ErrCertificateUnobtainable      TLSError = "CERTIFICATE_UNOBTAINABLE"
	ErrUnrecognizedName             TLSError = "UNRECOGNIZED_NAME"
	ErrBadCertificateStatusResponse TLSError = "BAD_CERTIFICATE_STATUS_RESPONSE"
	ErrBadCertificateHashValue      TLSError = "BAD_CERTIFICATE_HASH_VALUE"
	ErrUnknownPSKIdentity           TLSError = "UNKNOWN_PSK_IDENTITY"
	ErrCertificateRequired          TLSError = "CERTIFICATE_REQUIRED"
	ErrNoApplicationProtocol        TLSError = "NO_APPLICATION_PROTOCOL"

	ErrTCPConnectionFailed       TLSError = "TCP_CONNECTION_FAILED"
	ErrSessionInitializationFail TLSError = "SESSION_INITIALIZATION_FAILED"
	ErrHostNotFound              TLSError = "HOST_NOT_FOUND"
	ErrInternal                  TLSError = "INTERNAL_ERROR"
)

var alertErrors = map[uint8]TLSError{
	0:   ErrCloseNotify,
	10:  ErrUnexpectedMessage,
	20:  ErrBadRecordMAC,
	21:  ErrDecryptionFailed,
	22:  ErrRecordOverflow,
	30:  ErrDecompressionFailure,
	40:  ErrHandshakeFailure,
	41:  ErrNoCertificate,
	42:  ErrBadCertificate,
	43:  ErrUnsupportedCertificate,
	44:  ErrCertificateRevoked,
	45:  ErrCertificateExpired,
	46:  ErrCertificateUnknown,
	47:  ErrIllegalParameter,
	48:  ErrUnknownCA,
	49:  ErrAccessDenied,
	50:  ErrDecodeError,
	51:  ErrDecryptError,
	60:  ErrExportRestriction,
	70:  ErrProtocolVersion,
	71:  ErrInsufficientSecurity,
	80:  ErrInternalAlert,
	86:  ErrInappropriateFallback,
	90:  ErrUserCanceled,
	100: ErrNoRenegotiation,
	109: ErrMissingExtension,
	110: ErrUnsupportedExtension,
	111: ErrCertificateUnobtainable,
	112: ErrUnrecognizedName,
	113: ErrBadCertificateStatusResponse,
	114: ErrBadCertificateHashValue,
	115: ErrUnknownPSKIdentity,
	116: ErrCertificateRequired,
	120: ErrNoApplicationProtocol,
}

// AlertError maps an alert description code to its typed error.
func AlertError(code uint8) TLSError {
	if e, ok := alertErrors[code]; ok {
		return e
	}
	return ErrInternal
}

// IsAlert reports whether the error came from a TLS alert sent by the server.
func (e TLSError) IsAlert() bool {
	for _, v := range alertErrors {
		if v == e {
			return true
		}
	}
	return false
}

// Session negotiation stages reported when STARTTLS could not be established.
const (
	StageBanner        = "banner"
	StageEHLO          = "ehlo"
	StageNotAdvertised = "starttls-not-advertised"
	StageStartTLS      = "starttls"
)

// SessionInit describes a failed SMTP negotiation.
type SessionInit struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

// Outcome is the result of one handshake attempt. Exactly one of
// (Version and CipherSuite) or Error is set.
type Outcome struct {
	Test        criteria.Name    `json:"test"`
	Version     criteria.Version `json:"version,omitempty"`
	CipherSuite uint16           `json:"cipher_suite,omitempty"`
	SessionInit *SessionInit     `json:"session_init,omitempty"`
	Error       TLSError         `json:"error,omitempty"`
	Description string           `json:"description,omitempty"`
	// Chain holds the DER certificates as presented, leaf first.
	Chain [][]byte `json:"-"`
	// CurveID and DHBits describe the ephemeral key exchange when the
	// server flight exposed it.
	CurveID uint16 `json:"curve_id,omitempty"`
	DHBits  int    `json:"dh_bits,omitempty"`
}

// Success builds the outcome of a completed handshake.
func Success(test criteria.Name, version criteria.Version, suite uint16, chain [][]byte) Outcome {
	return Outcome{Test: test, Version: version, CipherSuite: suite, Chain: chain}
}

// Failure builds the outcome of a failed handshake.
func Failure(test criteria.Name, err TLSError, description string) Outcome {
	if err == "" {
		err = ErrInternal
	}
	return Outcome{Test: test, Error: err, Description: description}
}

// SessionFailure builds the outcome of a failed STARTTLS negotiation.
func SessionFailure(test criteria.Name, stage, detail string) Outcome {
	return Outcome{
		Test:        test,
		Error:       ErrSessionInitializationFail,
		Description: fmt.Sprintf("%s: %s", stage, detail),
		SessionInit: &SessionInit{Stage: stage, Detail: detail},
	}
}

// Succeeded reports whether the handshake completed.
func (o Outcome) Succeeded() bool {
	return o.Error == ""
}

// Valid checks the version/cipher xor error invariant.
func (o Outcome) Valid() bool {
	negotiated := o.Version != 0 && o.CipherSuite != 0
	partial := o.Version != 0 || o.CipherSuite != 0
	if o.Error != "" {
		return !partial
	}
	return negotiated
}

// CipherSuiteName is the IANA name of the negotiated suite.
func (o Outcome) CipherSuiteName() string {
	if o.CipherSuite == 0 {
		return ""
	}
	return criteria.CipherSuiteName(o.CipherSuite)
}

func (o Outcome) String() string {
	if o.Succeeded() {
		return fmt.Sprintf("%s: %s %s", o.Test, o.Version, o.CipherSuiteName())
	}
	if o.Description != "" {
		return fmt.Sprintf("%s: %s (%s)", o.Test, o.Error, o.Description)
	}
	return fmt.Sprintf("%s: %s", o.Test, o.Error)
}
