package scanner

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReply(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		code    int
		lines   int
		wantErr bool
	}{
		{name: "single line", input: "220 mx.example.org ESMTP\r\n", code: 220, lines: 1},
		{name: "multi line", input: "250-mx.example.org\r\n250-PIPELINING\r\n250 STARTTLS\r\n", code: 250, lines: 3},
		{name: "bare code", input: "250\r\n", code: 250, lines: 1},
		{name: "garbage", input: "hello\r\n", wantErr: true},
		{name: "truncated", input: "250-mx.example.org\r\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, lines, err := readReply(bufio.NewReader(strings.NewReader(tt.input)))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)
			assert.Len(t, lines, tt.lines)
		})
	}
}

// scriptedServer answers a fixed SMTP dialogue on the far side of a pipe.
func scriptedServer(t *testing.T, replies ...string) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		r := bufio.NewReader(server)
		for i, reply := range replies {
			if i > 0 {
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
			}
			if _, err := server.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNegotiateStages(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		stage   string
	}{
		{
			name:    "success",
			replies: []string{"220 mx ESMTP\r\n", "250-mx\r\n250 STARTTLS\r\n", "220 go ahead\r\n"},
		},
		{
			name:    "service unavailable banner",
			replies: []string{"554 no service\r\n"},
			stage:   StageBanner,
		},
		{
			name:    "EHLO rejected",
			replies: []string{"220 mx ESMTP\r\n", "502 what\r\n"},
			stage:   StageEHLO,
		},
		{
			name:    "STARTTLS not advertised",
			replies: []string{"220 mx ESMTP\r\n", "250-mx\r\n250 8BITMIME\r\n"},
			stage:   StageNotAdvertised,
		},
		{
			name:    "STARTTLS refused",
			replies: []string{"220 mx ESMTP\r\n", "250-mx\r\n250 STARTTLS\r\n", "454 TLS not available\r\n"},
			stage:   StageStartTLS,
		},
		{
			name:    "connection dropped after EHLO",
			replies: []string{"220 mx ESMTP\r\n"},
			stage:   StageEHLO,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := scriptedServer(t, tt.replies...)
			s := &SMTPStartTLS{EHLOName: "assessor.example"}
			failed := s.Negotiate(conn, bufio.NewReader(conn))
			if tt.stage == "" {
				assert.Nil(t, failed)
				return
			}
			require.NotNil(t, failed)
			assert.Equal(t, tt.stage, failed.Stage)
			assert.NotEmpty(t, failed.Detail)
		})
	}
}
