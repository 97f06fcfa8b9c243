// Package allowlist decodes and authorizes caller-supplied upstream base URLs.
package allowlist

import (
	"net/url"
	"sort"
	"strings"

	"geoserver-relay/internal/apperr"
)

// Validator checks upstream base URLs against a fixed set of allowed hosts.
// Entries may be an exact hostname, hostname:port, a "*.suffix" wildcard
// matched against the hostname, or "*" to allow everything.
type Validator struct {
	allowAll bool
	hosts    map[string]bool
	suffixes []string
}

// New builds a Validator. Entries are matched case-insensitively.
func New(allowedHosts []string) *Validator {
	v := &Validator{hosts: make(map[string]bool)}
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case h == "*":
			v.allowAll = true
		case strings.HasPrefix(h, "*."):
			v.suffixes = append(v.suffixes, h[1:]) // keep the leading dot
		default:
			v.hosts[h] = true
		}
	}
	return v
}

// Validate decodes headerValue and returns it when it is an absolute
// http(s) URL whose host is allowed. It performs no I/O.
func (v *Validator) Validate(headerValue string) (string, error) {
	if headerValue == "" {
		return "", apperr.New(apperr.KindMissingBaseURL, "Missing X-GeoServer-BaseUrl header")
	}

	decoded, err := url.PathUnescape(headerValue)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidURL, "Invalid GeoServer URL: "+headerValue, err)
	}
	if !strings.HasPrefix(decoded, "http://") && !strings.HasPrefix(decoded, "https://") {
		return "", apperr.New(apperr.KindInvalidURL, "Invalid GeoServer URL: "+decoded)
	}

	u, err := url.Parse(decoded)
	if err != nil || u.Hostname() == "" {
		return "", apperr.Wrap(apperr.KindInvalidURL, "Invalid GeoServer URL: "+decoded, err)
	}

	host := strings.ToLower(u.Hostname())
	if !v.allowed(host, strings.ToLower(u.Host)) {
		return "", apperr.New(apperr.KindHostNotAllowed, "GeoServer host not allowed: "+host)
	}

	return decoded, nil
}

func (v *Validator) allowed(hostname, hostPort string) bool {
	if v.allowAll || v.hosts[hostname] || v.hosts[hostPort] {
		return true
	}
	for _, s := range v.suffixes {
		if strings.HasSuffix(hostname, s) {
			return true
		}
	}
	return false
}

// Hosts returns the configured entries, for status reporting.
func (v *Validator) Hosts() []string {
	out := make([]string, 0, len(v.hosts)+len(v.suffixes)+1)
	if v.allowAll {
		out = append(out, "*")
	}
	exact := make([]string, 0, len(v.hosts))
	for h := range v.hosts {
		exact = append(exact, h)
	}
	sort.Strings(exact)
	out = append(out, exact...)
	for _, s := range v.suffixes {
		out = append(out, "*"+s)
	}
	return out
}
