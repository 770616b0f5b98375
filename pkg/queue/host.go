package queue

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var hostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)

// NormalizeHost cleans a submitted target into a bare host name or IP
// address. The SMTP port is configured per deployment, so a port in the
// target is rejected.
func NormalizeHost(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("host cannot be empty")
	}
	for _, prefix := range []string{"smtp://", "smtps://", "mailto:"} {
		target = strings.TrimPrefix(target, prefix)
	}
	target = strings.TrimSuffix(target, "/")
	if strings.Contains(target, "/") {
		return "", fmt.Errorf("host cannot contain a path")
	}
	if strings.Contains(target, "@") {
		return "", fmt.Errorf("host cannot be a mail address")
	}

	if ip := net.ParseIP(strings.Trim(target, "[]")); ip != nil {
		return ip.String(), nil
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return "", fmt.Errorf("host cannot carry a port")
	}
	host := strings.ToLower(strings.TrimSuffix(target, "."))
	if len(host) > 253 || !hostnameRegex.MatchString(host) {
		return "", fmt.Errorf("invalid hostname %q", target)
	}
	return host, nil
}
