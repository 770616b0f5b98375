// Package resolve looks up target hosts and tells a missing name apart
// from an unreachable resolver.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// ErrNotFound is returned when the name authoritatively does not exist.
var ErrNotFound = errors.New("host not found")

// Resolver queries A and AAAA records directly so NXDOMAIN is visible.
type Resolver struct {
	client  *dns.Client
	servers []string
}

// New builds a resolver. With no servers it falls back to
// /etc/resolv.conf, and failing that to the system resolver.
func New(servers []string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if len(servers) == 0 {
		if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
			for _, s := range conf.Servers {
				servers = append(servers, net.JoinHostPort(s, conf.Port))
			}
		}
	}
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			servers[i] = net.JoinHostPort(s, "53")
		}
	}
	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
	}
}

// Lookup returns the addresses of host. IP literals are returned as is.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if len(r.servers) == 0 {
		return lookupSystem(ctx, host)
	}

	var lastErr error
	for _, server := range r.servers {
		addrs, err := r.query(ctx, server, host)
		if err == nil || errors.Is(err, ErrNotFound) {
			return addrs, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Resolver) query(ctx context.Context, server, host string) ([]net.IP, error) {
	var addrs []net.IP
	nxdomain := 0
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			return nil, fmt.Errorf("query %s via %s: %w", host, server, err)
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			nxdomain++
			continue
		default:
			return nil, fmt.Errorf("query %s via %s: %s", host, server, dns.RcodeToString[in.Rcode])
		}
		for _, ans := range in.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				addrs = append(addrs, rr.A)
			case *dns.AAAA:
				addrs = append(addrs, rr.AAAA)
			}
		}
	}
	if len(addrs) == 0 {
		if nxdomain > 0 {
			return nil, fmt.Errorf("%s: %w", host, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: no address records", host)
	}
	return addrs, nil
}

func lookupSystem(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%s: %w", host, ErrNotFound)
		}
		return nil, err
	}
	return ips, nil
}
