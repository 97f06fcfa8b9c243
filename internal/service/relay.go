// Package service implements the relay forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"

	"geoserver-relay/internal/apperr"
	"geoserver-relay/internal/client"
	"geoserver-relay/internal/model"
)

// Cache-result header names, in lookup order.
const (
	HeaderCacheResult       = "Geowebcache-Cache-Result"
	HeaderCacheResultLegacy = "X-Geowebcache-Cache-Result"
)

// skippedRequestHeaders are never copied upstream. Host is rebuilt from the
// target URL; Accept-Encoding is left to the transport so bodies arrive decoded.
var skippedRequestHeaders = map[string]bool{
	"Host":                true,
	"Accept-Encoding":     true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Connection":    true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// skippedResponseHeaders are dropped from the upstream response so the
// browser never caches relayed tiles or sees the upstream auth challenge.
var skippedResponseHeaders = map[string]bool{
	"Etag":             true,
	"Cache-Control":    true,
	"Expires":          true,
	"Pragma":           true,
	"Last-Modified":    true,
	"Content-Encoding": true,
	"Www-Authenticate": true,
}

var duplicateSlashes = regexp.MustCompile(`//+`)

// RelayService forwards validated requests to GeoServer.
type RelayService struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.UpstreamClient, logger *slog.Logger) *RelayService {
	return &RelayService{
		client: c,
		logger: logger.With("component", "relay_service"),
	}
}

// Forward sends rr upstream and returns the response with filtered headers.
// The caller is responsible for closing the response body.
//
// A refused connection is reported as apperr.KindUpstreamUnreachable; every
// other transport failure is returned as an unclassified error.
func (s *RelayService) Forward(rr *model.RelayRequest) (*model.RelayResponse, error) {
	header := FilterRequestHeaders(rr.Header)

	s.logger.Debug("forwarding request",
		"method", rr.Method,
		"target", rr.TargetURL,
	)

	resp, err := s.client.DoStream(rr.Ctx, rr.Method, rr.TargetURL, header)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			s.logger.Warn("geoserver is unreachable", "target", rr.TargetURL, "error", err)
			return nil, apperr.Wrap(apperr.KindUpstreamUnreachable, "GeoServer unreachable", err)
		}
		s.logger.Error("failed to relay request to geoserver", "target", rr.TargetURL, "error", err)
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = FilterResponseHeaders(resp.Header)
	return resp, nil
}

// FilterRequestHeaders copies src without Host, hop-by-hop headers,
// Accept-Encoding, and empty values.
func FilterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		key = http.CanonicalHeaderKey(key)
		if skippedRequestHeaders[key] {
			continue
		}
		for _, v := range vals {
			if v != "" {
				dst.Add(key, v)
			}
		}
	}
	return dst
}

// FilterResponseHeaders copies src without the caching and auth-challenge headers.
func FilterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if skippedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}

// ExtractCacheResult returns the tile-cache result reported by the upstream,
// or nil when neither cache-result header is present.
func ExtractCacheResult(h http.Header) *string {
	for _, name := range []string{HeaderCacheResult, HeaderCacheResultLegacy} {
		if v := h.Get(name); v != "" {
			return &v
		}
	}
	return nil
}

// JoinURL appends path (escaped, as received) to the validated base URL and
// collapses duplicate slashes in the resulting path. rawQuery is appended verbatim.
func JoinURL(base, path, rawQuery string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidURL, "Invalid GeoServer URL", err)
	}

	joined := strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	joined = duplicateSlashes.ReplaceAllString(joined, "/")

	target := u.Scheme + "://" + u.Host + joined
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target, nil
}
