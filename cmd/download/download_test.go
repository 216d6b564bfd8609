package download

import (
	"testing"
)

func TestParseProxyFlag(t *testing.T) {
	pool, err := ParseProxyFlag("")
	if err != nil || pool != nil {
		t.Errorf("empty flag should yield no pool, got %v, %s", pool, err)
	}

	pool, err = ParseProxyFlag("socks5://a.local:1080, http://b.local:8080")
	if err != nil {
		t.Fatalf("failed to parse proxy list: %s", err)
	}
	if pool.Size() != 2 {
		t.Errorf("expected 2 proxies, got %d", pool.Size())
	}

	if _, err = ParseProxyFlag("ftp://a.local:21"); err == nil {
		t.Error("unsupported protocol should fail")
	}
}
