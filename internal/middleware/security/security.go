// Package security holds request hygiene helpers for the authority server.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode"
)

// MaxPrincipalLength bounds the principal header.
const MaxPrincipalLength = 64

var (
	ErrMissingPrincipal = errors.New("missing principal")
	ErrInvalidPrincipal = errors.New("invalid principal")
)

// Detector extracts client addresses, trusting forwarded headers only from
// known proxies.
type Detector struct {
	trustedProxies []*net.IPNet
}

// NewDetector trusts loopback and the private ranges.
func NewDetector() *Detector {
	return &Detector{
		trustedProxies: []*net.IPNet{
			parseCIDR("127.0.0.0/8"),
			parseCIDR("10.0.0.0/8"),
			parseCIDR("172.16.0.0/12"),
			parseCIDR("192.168.0.0/16"),
			parseCIDR("::1/128"),
		},
	}
}

func parseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// AddTrustedProxy adds a trusted proxy network
func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}

// ExtractClientIP extracts the real client IP, validating forwarded headers
func (d *Detector) ExtractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsedDirectIP := net.ParseIP(directIP)
	if parsedDirectIP == nil || !d.isTrustedProxy(parsedDirectIP) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Principal reads and validates the principal named by header. Principals are
// printable, without spaces, and at most MaxPrincipalLength bytes.
func Principal(r *http.Request, header string) (string, error) {
	p := strings.TrimSpace(r.Header.Get(header))
	if p == "" {
		return "", ErrMissingPrincipal
	}
	if len(p) > MaxPrincipalLength {
		return "", fmt.Errorf("%w: too long", ErrInvalidPrincipal)
	}
	for _, c := range p {
		if !unicode.IsPrint(c) || unicode.IsSpace(c) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPrincipal, p)
		}
	}
	return p, nil
}

// Headers sets the response headers every endpoint carries.
func Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
