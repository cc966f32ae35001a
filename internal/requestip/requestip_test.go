package requestip

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefixes(t *testing.T) {
	prefixes, err := ParsePrefixes([]string{"10.0.0.0/8, 192.168.1.7", "", "::1"})
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.7/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())

	_, err = ParsePrefixes([]string{"10.0.0.0/99"})
	assert.Error(t, err)
	_, err = ParsePrefixes([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestClientIP(t *testing.T) {
	trusted, err := ParsePrefixes([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.5:4312"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req, trusted), "untrusted peer must not be able to spoof")

	req.RemoteAddr = "10.1.2.3:4312"
	assert.Equal(t, "198.51.100.1", ClientIP(req, trusted))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.9")
	assert.Equal(t, "198.51.100.9", ClientIP(req, trusted))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "10.1.2.3", ClientIP(req, trusted))
}

func TestClientIPIgnoresClientWrittenForwardedEntries(t *testing.T) {
	trusted, err := ParsePrefixes([]string{"127.0.0.1", "10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name string
		xff  []string
		want string
	}{
		{name: "forged leftmost entry", xff: []string{"10.0.0.1, 203.0.113.9"}, want: "203.0.113.9"},
		{name: "trusted hops skipped", xff: []string{"198.51.100.4, 203.0.113.9, 10.2.2.2"}, want: "203.0.113.9"},
		{name: "split across headers", xff: []string{"10.0.0.1", "203.0.113.9"}, want: "203.0.113.9"},
		{name: "all hops trusted", xff: []string{"10.0.0.7, 10.0.0.8"}, want: "10.0.0.7"},
		{name: "garbage entries ignored", xff: []string{"nonsense, 203.0.113.9, "}, want: "203.0.113.9"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = "127.0.0.1:4000"
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tc.want, ClientIP(req, trusted))
		})
	}
}

func TestContainsUnmapsIPv4(t *testing.T) {
	prefixes, err := ParsePrefixes([]string{"127.0.0.1"})
	require.NoError(t, err)
	assert.True(t, Contains(prefixes, netip.MustParseAddr("::ffff:127.0.0.1")))
	assert.False(t, Contains(prefixes, netip.MustParseAddr("127.0.0.2")))

	addr, ok := ParseAddr("[::1]:80")
	require.True(t, ok)
	assert.Equal(t, "::1", addr.String())
}
