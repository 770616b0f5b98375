package scanner

import (
	"bufio"
	"fmt"
	"net"
	"strings"
)

// StartTLSNegotiator upgrades a plaintext session to the point where a
// TLS ClientHello can be sent.
type StartTLSNegotiator interface {
	Negotiate(conn net.Conn, r *bufio.Reader) *SessionInit
}

// SMTPStartTLS handles SMTP STARTTLS negotiation
type SMTPStartTLS struct {
	// EHLOName is the identity announced in EHLO.
	EHLOName string
}

// Negotiate reads the banner, sends EHLO, checks the STARTTLS
// capability and issues STARTTLS. It returns nil on success and the
// failed stage otherwise.
func (s *SMTPStartTLS) Negotiate(conn net.Conn, r *bufio.Reader) *SessionInit {
	name := s.EHLOName
	if name == "" {
		name = "localhost"
	}

	// Read greeting
	code, lines, err := readReply(r)
	if err != nil {
		return &SessionInit{Stage: StageBanner, Detail: fmt.Sprintf("failed to read SMTP greeting: %v", err)}
	}
	if code != 220 {
		return &SessionInit{Stage: StageBanner, Detail: fmt.Sprintf("unexpected greeting: %d %s", code, strings.Join(lines, " "))}
	}

	// Send EHLO
	if _, err := fmt.Fprintf(conn, "EHLO %s\r\n", name); err != nil {
		return &SessionInit{Stage: StageEHLO, Detail: fmt.Sprintf("failed to send EHLO: %v", err)}
	}
	code, lines, err = readReply(r)
	if err != nil {
		return &SessionInit{Stage: StageEHLO, Detail: fmt.Sprintf("failed to read EHLO response: %v", err)}
	}
	if code != 250 {
		return &SessionInit{Stage: StageEHLO, Detail: fmt.Sprintf("EHLO rejected: %d %s", code, strings.Join(lines, " "))}
	}

	// Check for STARTTLS support
	supportsStartTLS := false
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 && strings.EqualFold(fields[0], "STARTTLS") {
			supportsStartTLS = true
			break
		}
	}
	if !supportsStartTLS {
		return &SessionInit{Stage: StageNotAdvertised, Detail: "server does not support STARTTLS"}
	}

	// Send STARTTLS command
	if _, err := conn.Write([]byte("STARTTLS\r\n")); err != nil {
		return &SessionInit{Stage: StageStartTLS, Detail: fmt.Sprintf("failed to send STARTTLS: %v", err)}
	}
	code, lines, err = readReply(r)
	if err != nil {
		return &SessionInit{Stage: StageStartTLS, Detail: fmt.Sprintf("failed to read STARTTLS response: %v", err)}
	}
	if code != 220 {
		return &SessionInit{Stage: StageStartTLS, Detail: fmt.Sprintf("STARTTLS failed: %d %s", code, strings.Join(lines, " "))}
	}

	return nil // Success
}

// readReply reads a possibly multi-line SMTP reply ("250-..." lines
// followed by "250 ..."). It returns the code and the text of each line.
func readReply(r *bufio.Reader) (int, []string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, lines, err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return 0, lines, fmt.Errorf("malformed reply line %q", line)
		}

		var code int
		if _, err := fmt.Sscanf(line[:3], "%d", &code); err != nil {
			return 0, lines, fmt.Errorf("malformed reply code %q", line)
		}
		text := ""
		if len(line) > 4 {
			text = line[4:]
		}
		lines = append(lines, text)

		// The last line has a space (or nothing) after the code
		if len(line) == 3 || line[3] == ' ' {
			return code, lines, nil
		}
		if line[3] != '-' {
			return 0, lines, fmt.Errorf("malformed reply line %q", line)
		}
	}
}

// bufferedConn reads through the reader used for the SMTP dialogue so
// no byte the server sent after "220" is lost to the TLS engine.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
