package keyderive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURLLowercasesSchemeAndHostAndElidesDefaultPort(t *testing.T) {
	got, err := NormalizeURL("HTTPS://Example.COM:443/Foo")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/Foo", got)
}

func TestNormalizeURLKeepsNonDefaultPort(t *testing.T) {
	got, err := NormalizeURL("http://example.com:8080/foo")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080/foo", got)
}

func TestNormalizeURLSortsQueryAndStripsFragment(t *testing.T) {
	got, err := NormalizeURL("http://example.com/x?b=2&a=1#frag")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/x?a=1&b=2", got)
}

func TestNormalizeURLDecodesUnreservedPathChars(t *testing.T) {
	got, err := NormalizeURL("http://example.com/%7Euser/%2Fpath")
	require.NoError(t, err)
	// %7E (~) is unreserved and is decoded; %2F (/) is reserved and stays encoded.
	assert.Equal(t, "http://example.com/~user/%2Fpath", got)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a, err := ComputeFingerprint("GET", "http://example.com/x?b=2&a=1", nil)
	require.NoError(t, err)
	b, err := ComputeFingerprint("get", "http://EXAMPLE.com/x?a=1&b=2", nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintIncludesBodyHashForNonIdempotentMethods(t *testing.T) {
	withBody, err := ComputeFingerprint("POST", "http://example.com/x", []byte("payload"))
	require.NoError(t, err)
	withOtherBody, err := ComputeFingerprint("POST", "http://example.com/x", []byte("other"))
	require.NoError(t, err)
	assert.NotEqual(t, withBody, withOtherBody)
}

func TestFingerprintIgnoresBodyForGet(t *testing.T) {
	a, err := ComputeFingerprint("GET", "http://example.com/x", []byte("ignored"))
	require.NoError(t, err)
	b, err := ComputeFingerprint("GET", "http://example.com/x", nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLimiterKeyScopes(t *testing.T) {
	assert.Equal(t, "p:ratelimit:global", LimiterKey("p", ScopeGlobal, "whatever"))
	assert.Equal(t, "p:ratelimit:host:example.com", LimiterKey("p", ScopeHost, "example.com"))
	assert.Equal(t, "p:ratelimit:endpoint:fp123", LimiterKey("p", ScopeEndpoint, "fp123"))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "p:cache:fp123", CacheKey("p", Fingerprint("fp123")))
}

func TestHostStripsPort(t *testing.T) {
	h, err := Host("https://Example.com:8443/x")
	require.NoError(t, err)
	assert.Equal(t, "example.com", h)
}
