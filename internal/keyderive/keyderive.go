// Package keyderive canonicalizes an HTTP request into the deterministic
// identifiers used as cache keys and rate-limit scope keys: a Fingerprint
// (method + normalized URL + sorted query + body hash) and the family of
// LimiterKey strings for the global/host/endpoint scopes.
package keyderive

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the canonical, deterministic identifier of one request.
type Fingerprint string

// Scope identifies which requests share a rate-limit key.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeHost     Scope = "host"
	ScopeEndpoint Scope = "endpoint"
)

// bodyHashMethods lists HTTP methods whose semantics include a body, per
// spec.md §4.4 ("methods whose semantics include a body").
var bodyHashMethods = map[string]bool{
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// ComputeFingerprint computes the canonical fingerprint for (method,
// rawURL, body). method is upper-cased here, so "get" and "GET" yield the
// same fingerprint; rawURL is normalized per NormalizeURL.
func ComputeFingerprint(method, rawURL string, body []byte) (Fingerprint, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(normalized)

	if bodyHashMethods[strings.ToUpper(method)] && len(body) > 0 {
		sum := blake2b.Sum512(body) // widest available fixed-size digest
		digest := sum[:16]          // truncate to the spec's 16-byte BLAKE2b digest
		b.WriteByte(':')
		b.WriteString(fmt.Sprintf("%x", digest))
	}
	return Fingerprint(b.String()), nil
}

// NormalizeURL implements spec.md §4.4's URL normalization: lowercase
// scheme and host, default port elided, path percent-decoded for
// unreserved characters only, query parameters sorted lexicographically,
// fragment stripped.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(u.Scheme, u.Host)
	u.RawPath = decodeUnreserved(u.EscapedPath())
	u.Fragment = ""
	u.RawQuery = sortedQuery(u.RawQuery)
	return u.String(), nil
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	hostname, port, ok := splitHostPort(host)
	if !ok {
		return host
	}
	if defaultPorts[scheme] == port {
		return hostname
	}
	return host
}

func splitHostPort(host string) (hostname, port string, ok bool) {
	i := strings.LastIndex(host, ":")
	if i < 0 {
		return host, "", false
	}
	return host[:i], host[i+1:], true
}

// unreserved characters per RFC 3986 §2.3 that are safe to decode without
// changing the path's meaning.
func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

func decodeUnreserved(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '%' && i+2 < len(path) {
			if hi, ok := hexVal(path[i+1]); ok {
				if lo, ok := hexVal(path[i+2]); ok {
					c := byte(hi<<4 | lo)
					if isUnreserved(c) {
						b.WriteByte(c)
						i += 2
						continue
					}
				}
			}
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func sortedQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// CacheKey builds the cache backend key for a fingerprint: <prefix>:cache:<fingerprint>.
func CacheKey(prefix string, fp Fingerprint) string {
	return fmt.Sprintf("%s:cache:%s", prefix, fp)
}

// LimiterKey builds the rate-limit backend key for a scope.
//
//   - ScopeGlobal:   <prefix>:ratelimit:global
//   - ScopeHost:     <prefix>:ratelimit:host:<host>
//   - ScopeEndpoint: <prefix>:ratelimit:endpoint:<fingerprint>
func LimiterKey(prefix string, scope Scope, value string) string {
	if scope == ScopeGlobal {
		return fmt.Sprintf("%s:ratelimit:global", prefix)
	}
	return fmt.Sprintf("%s:ratelimit:%s:%s", prefix, scope, value)
}

// Host extracts the normalized, lower-cased host (no port) from rawURL,
// for use as the per-host scope value.
func Host(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	hostname, _, ok := splitHostPort(strings.ToLower(u.Host))
	if !ok {
		return strings.ToLower(u.Host), nil
	}
	return hostname, nil
}
