package shield

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrUnsafeScheme is returned for a URL that is not http or https.
	ErrUnsafeScheme = errors.New("shield: only http and https URLs are allowed")
	// ErrPrivateTarget is returned for a URL that targets a loopback,
	// private, link-local or unspecified address.
	ErrPrivateTarget = errors.New("shield: URL targets a private or loopback address")
)

// CheckURL validates a caller-supplied page URL before the service fetches
// or navigates to it. Hostnames are resolved and every address checked;
// a resolution failure passes, the navigation will fail on its own.
func CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("shield: invalid URL: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("shield: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if privateIP(ip) {
			return ErrPrivateTarget
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return ErrPrivateTarget
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if privateIP(a.IP) {
			return ErrPrivateTarget
		}
	}
	return nil
}

func privateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
