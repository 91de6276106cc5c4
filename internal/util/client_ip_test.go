package util

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{name: "untrusted peer ignores headers", remoteAddr: "198.51.100.10:1234", xff: "203.0.113.5", xrip: "203.0.113.6", want: "198.51.100.10"},
		{name: "trusted peer reads forwarded for", remoteAddr: "10.0.0.20:1234", xff: "203.0.113.5", trusted: trusted, want: "203.0.113.5"},
		{name: "walks chain from the right", remoteAddr: "10.0.0.20:1234", xff: "198.51.100.1, 203.0.113.5, 10.0.0.10", trusted: trusted, want: "203.0.113.5"},
		{name: "real ip when forwarded for is junk", remoteAddr: "192.168.1.10:80", xff: "invalid", xrip: "203.0.113.7", trusted: trusted, want: "203.0.113.7"},
		{name: "all hops trusted returns leftmost", remoteAddr: "10.0.0.20:1234", xff: "10.0.0.5, 10.0.0.10", trusted: trusted, want: "10.0.0.5"},
		{name: "v4 mapped peer is unmapped", remoteAddr: "[::ffff:198.51.100.10]:1234", want: "198.51.100.10"},
		{name: "unparseable peer is returned raw", remoteAddr: "pipe", want: "pipe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitKeyGroupsIPv6Hosts(t *testing.T) {
	a := httptest.NewRequest("GET", "/", nil)
	a.RemoteAddr = "[2001:db8:1:2::aaaa]:443"
	b := httptest.NewRequest("GET", "/", nil)
	b.RemoteAddr = "[2001:db8:1:2::bbbb]:443"
	if RateLimitKey(a, nil) != RateLimitKey(b, nil) {
		t.Fatalf("expected same /64 key, got %q and %q", RateLimitKey(a, nil), RateLimitKey(b, nil))
	}
	if got := RateLimitKey(a, nil); got != "2001:db8:1:2::/64" {
		t.Fatalf("unexpected v6 key %q", got)
	}

	v4 := httptest.NewRequest("GET", "/", nil)
	v4.RemoteAddr = "198.51.100.10:1234"
	if got := RateLimitKey(v4, nil); got != "198.51.100.10" {
		t.Fatalf("unexpected v4 key %q", got)
	}
}

func TestNewTrustedProxies(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.1 ", ""})
	if err != nil {
		t.Fatalf("expected valid entries, got err: %v", err)
	}
	if !trusted.Contains(netip.MustParseAddr("10.2.3.4")) || !trusted.Contains(netip.MustParseAddr("192.168.1.1")) {
		t.Fatalf("expected listed ranges to be trusted")
	}
	if trusted.Contains(netip.MustParseAddr("192.168.1.2")) {
		t.Fatalf("bare ip must not widen to a range")
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	if empty, err := NewTrustedProxies(nil); err != nil || empty != nil {
		t.Fatalf("expected nil allowlist, got %v %v", empty, err)
	}
}
