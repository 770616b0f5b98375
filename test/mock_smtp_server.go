// Command mock_smtp_server runs a local MX that speaks STARTTLS, for
// trying the assessor by hand:
//
//	go run ./test --listen 127.0.0.1:2525 --behavior sslv3
//	mailtls scan --host 127.0.0.1 --port 2525
package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jphoke/mailtls-assessor/pkg/logging"
	"github.com/jphoke/mailtls-assessor/pkg/scanner/scannertest"
)

func main() {
	var listen, behavior string
	cmd := &cobra.Command{
		Use:           "mock_smtp_server",
		Short:         "Run a scripted STARTTLS mail server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return serve(listen, behavior)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:2525", "Address to listen on")
	cmd.Flags().StringVar(&behavior, "behavior", "tls", "One of tls, sslv3, alert, no-starttls")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(listen, behavior string) error {
	logger, err := logging.New(logging.Options{Level: "info", Human: true})
	if err != nil {
		return err
	}
	b, err := scriptFor(behavior)
	if err != nil {
		return err
	}
	srv, err := scannertest.Listen(listen, b)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", listen, err)
	}
	logger.Info().Str("addr", srv.Addr()).Str("behavior", behavior).Msg("Mock SMTP server listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return srv.Close()
}

func scriptFor(name string) (scannertest.Behavior, error) {
	switch name {
	case "sslv3":
		// Accepts whatever is offered with SSL 3.0 and TLS_RSA_WITH_AES_256_CBC_SHA.
		return scannertest.Behavior{Reply: func([]byte) []byte {
			return scannertest.Flight(0x0300, scannertest.ServerHello(0x0300, 0x0035), scannertest.ServerHelloDone())
		}}, nil
	case "alert":
		return scannertest.Behavior{Reply: func([]byte) []byte {
			return scannertest.Alert(0x0303, 40)
		}}, nil
	case "no-starttls":
		return scannertest.Behavior{HideStartTLS: true}, nil
	case "tls":
		cert, err := scannertest.SelfSigned("mock.example")
		if err != nil {
			return scannertest.Behavior{}, err
		}
		return scannertest.Behavior{TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}}, nil
	default:
		return scannertest.Behavior{}, fmt.Errorf("unknown behavior %q", name)
	}
}
